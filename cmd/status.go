package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-source sync status",
	Long:  "Displays the last successful ingest time for each registered source.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		formatStatus(os.Stdout, ctx, st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusLine struct {
	source      model.Source
	lastSuccess *time.Time
	err         error
}

func formatStatus(out io.Writer, ctx context.Context, st store.Store) {
	lines := make([]statusLine, 0, len(model.AllSources()))
	for _, s := range model.AllSources() {
		ts, err := st.LastSuccess(ctx, s)
		lines = append(lines, statusLine{source: s, lastSuccess: ts, err: err})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tLAST SUCCESS\tAGE")
	_, _ = fmt.Fprintln(w, "------\t------------\t---")
	for _, l := range lines {
		switch {
		case l.err != nil:
			_, _ = fmt.Fprintf(w, "%s\terror: %s\t-\n", l.source, eris.Cause(l.err))
		case l.lastSuccess == nil:
			_, _ = fmt.Fprintf(w, "%s\tnever\t-\n", l.source)
		default:
			age := time.Since(*l.lastSuccess).Round(time.Minute)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", l.source, l.lastSuccess.Format("2006-01-02 15:04"), age)
		}
	}
	_ = w.Flush()
}
