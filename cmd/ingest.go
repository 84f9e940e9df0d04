package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afflux/feedsync/internal/fetcher"
	"github.com/afflux/feedsync/internal/ingest"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest product feeds",
	Long: `Ingest affiliate product feeds into the product index.

By default, ingests all registered sources. Use --sources to restrict to
specific providers. Use --winners to apply winner selection per source and
the cross-source winner policy after all sources finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		// Ensure migrations are current.
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		opts, err := parseIngestOpts(cmd)
		if err != nil {
			return err
		}

		httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			MaxRetries: cfg.Fetch.MaxRetries,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		})
		ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		})

		reg := source.NewRegistry(cfg)
		engine := ingest.NewEngine(st, httpF, ftpF, reg, cfg.Ingest)

		log.Info("starting ingest",
			zap.Any("sources", opts.Sources),
			zap.Int("limit", opts.Limit),
			zap.Bool("winners", opts.WinnerMode),
		)

		report, err := engine.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "ingest: encode report")
		}

		if !report.OK {
			return eris.New("ingest completed with errors")
		}
		fmt.Println("Ingest complete")
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("sources", "", "comma-separated source names (e.g., awin,cj)")
	ingestCmd.Flags().Int("limit", 0, "max candidates per source (default 200, cap 500)")
	ingestCmd.Flags().Bool("winners", false, "apply winner selection and the cross-source winner policy")
	rootCmd.AddCommand(ingestCmd)
}

// parseIngestOpts extracts ingest.RunOpts from the cobra command flags.
func parseIngestOpts(cmd *cobra.Command) (ingest.RunOpts, error) {
	sourcesStr, _ := cmd.Flags().GetString("sources")
	limit, _ := cmd.Flags().GetInt("limit")
	winners, _ := cmd.Flags().GetBool("winners")

	opts := ingest.RunOpts{
		Limit:      limit,
		WinnerMode: winners,
	}

	if sourcesStr != "" {
		for _, name := range strings.Split(sourcesStr, ",") {
			s, err := model.ParseSource(strings.TrimSpace(name))
			if err != nil {
				return ingest.RunOpts{}, err
			}
			opts.Sources = append(opts.Sources, s)
		}
	}

	return opts, nil
}
