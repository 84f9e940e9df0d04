package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afflux/feedsync/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the product index",
	Long:  "Runs a substring search over title, description, and category of active products, ranked by score.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		limit, _ := cmd.Flags().GetInt("limit")
		geo, _ := cmd.Flags().GetString("geo")
		includeUnapproved, _ := cmd.Flags().GetBool("include-unapproved")

		results, err := st.Search(ctx, store.SearchQuery{
			Query:             args[0],
			Limit:             limit,
			GeoScope:          geo,
			IncludeUnapproved: includeUnapproved,
		})
		if err != nil {
			return eris.Wrap(err, "search")
		}

		if len(results) == 0 {
			zap.L().Info("no products matched", zap.String("query", args[0]))
			return nil
		}

		formatSearchResults(os.Stdout, results)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "max results (default 30, cap 200)")
	searchCmd.Flags().String("geo", "", "restrict to a geo scope (e.g., DE, EU)")
	searchCmd.Flags().Bool("include-unapproved", false, "include products not yet approved")
	rootCmd.AddCommand(searchCmd)
}

// formatSearchResults writes a tabular representation of search hits to w.
func formatSearchResults(out io.Writer, results []store.SearchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tEPC\tURL")
	_, _ = fmt.Fprintln(w, "--\t-----\t--------\t---\t---")

	for _, r := range results {
		epc := "-"
		if r.EPC != nil {
			epc = fmt.Sprintf("%.2f", *r.EPC)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			truncate(r.Title, 50),
			truncate(r.Category, 30),
			epc,
			truncate(r.URL, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
