package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/store"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run catalog maintenance",
	Long: `Deactivates products not seen in any feed for --stale-days days, then
re-applies the cross-source winner policy so freed capacity is handed to the
next best candidates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "maintain"))

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		staleDays, _ := cmd.Flags().GetInt("stale-days")
		skipPolicy, _ := cmd.Flags().GetBool("skip-policy")

		cutoff := time.Now().UTC().AddDate(0, 0, -staleDays)
		stale, err := st.DeactivateStale(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "maintain: deactivate stale")
		}
		log.Info("stale products deactivated",
			zap.Int64("count", stale),
			zap.Time("cutoff", cutoff),
		)

		if skipPolicy {
			fmt.Printf("Deactivated %d stale products\n", stale)
			return nil
		}

		result, err := st.ApplyWinnerPolicy(ctx, store.PolicyCaps{
			MerchantCap: cfg.Ingest.MerchantCap,
			CategoryCap: cfg.Ingest.CategoryCap,
			GlobalCap:   cfg.Ingest.GlobalCap,
		})
		if err != nil {
			return eris.Wrap(err, "maintain: winner policy")
		}

		fmt.Printf("Deactivated %d stale products; policy deduplicated %d, demoted %d, %d winners\n",
			stale, result.Deduplicated, result.Deactivated, result.Winners)
		return nil
	},
}

var markDeadCmd = &cobra.Command{
	Use:   "mark-dead <source:external_id>",
	Short: "Mark a product as dead",
	Long:  "Deactivates a single product by its composite ID, recording the reason (e.g., a 404 found by a link checker).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		src, externalID, ok := strings.Cut(args[0], ":")
		if !ok || externalID == "" {
			return eris.Errorf("invalid product ID %q (expected source:external_id)", args[0])
		}
		s, err := model.ParseSource(src)
		if err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.MarkDead(ctx, s, externalID, reason); err != nil {
			return eris.Wrapf(err, "mark dead %s", args[0])
		}

		fmt.Printf("Marked %s dead (%s)\n", args[0], reason)
		return nil
	},
}

func init() {
	maintainCmd.Flags().Int("stale-days", 14, "deactivate products unseen for this many days")
	maintainCmd.Flags().Bool("skip-policy", false, "skip the winner policy pass after stale cleanup")
	markDeadCmd.Flags().String("reason", "dead_link", "reason recorded on the product")
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(markDeadCmd)
}
