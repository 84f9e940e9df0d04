// Package feed handles affiliate product feed transport detection and
// streaming tabular parsing.
package feed

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind classifies a fetched feed stream.
type Kind int

const (
	KindPlain Kind = iota
	KindGzip
	KindArchive
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindGzip:
		return "gzip"
	case KindArchive:
		return "archive"
	default:
		return "plain"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	rarMagic  = []byte{'R', 'a', 'r', '!'}
	sevenZip  = []byte{'7', 'z', 0xbc, 0xaf}
)

// Detect sniffs the first bytes of the stream and classifies it. The peeked
// bytes are not consumed: the returned reader yields the full stream.
// Precedence: magic bytes > declared content-type > URL suffix.
func Detect(r io.Reader, contentType, sourceURL string) (Kind, io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return KindPlain, br, eris.Wrap(err, "feed: peek stream")
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return KindGzip, br, nil
	case bytes.HasPrefix(head, zipMagic),
		bytes.HasPrefix(head, rarMagic),
		bytes.HasPrefix(head, sevenZip):
		return KindArchive, br, nil
	}

	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "application/gzip", "application/x-gzip":
		return KindGzip, br, nil
	case "application/zip", "application/x-zip-compressed", "application/x-7z-compressed", "application/x-rar-compressed":
		return KindArchive, br, nil
	case "text/csv", "text/plain", "text/tab-separated-values":
		return KindPlain, br, nil
	}

	// URL suffix heuristic, ignoring any query string.
	u := sourceURL
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	switch {
	case strings.HasSuffix(u, ".gz"):
		return KindGzip, br, nil
	case strings.HasSuffix(u, ".zip"), strings.HasSuffix(u, ".7z"), strings.HasSuffix(u, ".rar"):
		return KindArchive, br, nil
	}

	return KindPlain, br, nil
}

// Open classifies the stream and returns a reader of decompressed text.
// Container archives are refused outright: misparsing binary as text would
// silently corrupt every row.
func Open(r io.Reader, contentType, sourceURL string) (io.Reader, error) {
	kind, rr, err := Detect(r, contentType, sourceURL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindGzip:
		gz, err := gzip.NewReader(rr)
		if err != nil {
			return nil, eris.Wrap(err, "feed: open gzip stream")
		}
		return gz, nil
	case KindArchive:
		return nil, eris.Errorf("feed: unsupported container archive for %s (content-type %q)", sourceURL, contentType)
	default:
		return rr, nil
	}
}
