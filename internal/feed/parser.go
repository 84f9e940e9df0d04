package feed

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/afflux/feedsync/internal/model"
)

// Options configures the streaming tabular parser.
type Options struct {
	// Delimiter is the field separator. Default ','.
	Delimiter rune

	// OnSkip is called for each logical record that cannot be parsed
	// (unresolvable quoting at end of stream, or a row that fails to split).
	// Parsing continues with the next record.
	OnSkip func(line string, err error)
}

// Stream consumes a decompressed byte stream and produces a lazy, finite,
// single-pass sequence of RawRow. The first complete record is the header;
// its lower-cased values become the field names of every subsequent row.
//
// A physical line with an odd number of quote characters is an incomplete
// record (a quoted field containing an embedded newline); it is joined with
// the following line(s) using an inserted newline until the quote count is
// even. At most one logical record plus the header is held in memory.
//
// Both channels are closed when the stream is exhausted. The error channel
// carries at most one terminal error (I/O failure or cancellation); skipped
// records are reported via OnSkip, not the error channel.
func Stream(ctx context.Context, r io.Reader, opts Options) (<-chan model.RawRow, <-chan error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}

	rowCh := make(chan model.RawRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReaderSize(r, 64*1024)

		var header []string
		var logical strings.Builder
		pending := false // a partially assembled multi-line record is buffered
		quotes := 0

		emit := func(line string) bool {
			fields := splitFields(line, opts.Delimiter)

			if header == nil {
				header = make([]string, len(fields))
				for i, f := range fields {
					header[i] = strings.ToLower(strings.TrimSpace(f))
				}
				return true
			}

			row := make(model.RawRow, len(header))
			n := len(fields)
			if len(header) < n {
				n = len(header)
			}
			for i := 0; i < n; i++ {
				row[header[i]] = fields[i]
			}

			select {
			case rowCh <- row:
				return true
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "feed: context cancelled")
				return false
			}
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "feed: context cancelled")
				return
			}

			line, readErr := br.ReadString('\n')
			if readErr != nil && readErr != io.EOF {
				errCh <- eris.Wrap(readErr, "feed: read stream")
				return
			}

			atEOF := readErr == io.EOF
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")

			// Blank physical lines between records are skipped; inside a
			// quoted multi-line field they are part of the record.
			if line == "" && !pending {
				if atEOF {
					return
				}
				continue
			}

			if pending {
				logical.WriteByte('\n')
			}
			logical.WriteString(line)
			quotes += strings.Count(line, `"`)

			if quotes%2 != 0 {
				// Odd balance: the record continues on the next line.
				if atEOF {
					// Quoting never resolved; skip the dangling record.
					bad := logical.String()
					err := eris.Errorf("feed: unbalanced quotes in trailing record (%d bytes)", len(bad))
					zap.L().Warn("feed: skipping malformed record", zap.Error(err))
					if opts.OnSkip != nil {
						opts.OnSkip(bad, err)
					}
					return
				}
				pending = true
				continue
			}

			if !emit(logical.String()) {
				return
			}
			logical.Reset()
			pending = false
			quotes = 0

			if atEOF {
				return
			}
		}
	}()

	return rowCh, errCh
}

// splitFields splits a complete logical record into fields, respecting quoted
// delimiters and doubled-quote escaping ("" → ").
func splitFields(line string, delim rune) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == delim && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	fields = append(fields, cur.String())

	return fields
}
