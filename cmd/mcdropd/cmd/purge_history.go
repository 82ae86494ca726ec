package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/spf13/cobra"
)

var olderThan time.Duration

var purgeHistoryCmd = &cobra.Command{
	Use:   "purge-history",
	Short: "Delete history records older than the retention period",
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoadSettings()
		if olderThan <= 0 {
			olderThan = settings.HistoryRetention
		}

		if olderThan <= 0 {
			clog.Global().Fatalf("No retention period: pass --older-than or set MCDROP_HISTORY_RETENTION")
		}

		svc, _, err := openService(serviceDeps{settings: settings})
		if err != nil {
			clog.Global().Fatalf("mcdropd: %s", err)
		}

		count, err := svc.History.PurgeOlderThan(context.Background(), time.Now().Add(-olderThan))
		if err != nil {
			clog.Global().Fatalf("Purge failed: %s", err)
		}

		fmt.Printf("Deleted %d history record(s) older than %s\n", count, olderThan)
	},
}

func init() {
	rootCmd.AddCommand(purgeHistoryCmd)
	purgeHistoryCmd.Flags().DurationVar(&olderThan, "older-than", 0,
		"delete records created before now minus this duration (default MCDROP_HISTORY_RETENTION)")
}
