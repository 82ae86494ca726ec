package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/spf13/cobra"
)

var sweepAll bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale sessions once and exit",
	Long: `Expire every PENDING or CONNECTED session whose deadline has passed and remove
its staging files. With --all the full maintenance pass runs instead, which also
reclaims completed files, reaps orphaned staging directories and purges old history.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoadSettings()
		svc, _, err := openService(serviceDeps{settings: settings})
		if err != nil {
			clog.Global().Fatalf("mcdropd: %s", err)
		}

		ctx := context.Background()
		if sweepAll {
			svc.RunMaintenance(ctx)
			return
		}

		count, err := svc.Sweeper.Sweep(ctx, time.Now())
		if err != nil {
			clog.Global().Fatalf("Sweep failed: %s", err)
		}

		fmt.Printf("Expired %d session(s)\n", count)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepAll, "all", false, "run the full maintenance pass")
}
