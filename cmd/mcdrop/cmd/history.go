package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyDirection string
	historyPage      int
	historyPerPage   int
	historyStats     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()

		if historyStats {
			stats, err := c.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Sent:     %d (%d successful, %d bytes)\n", stats.Sent.Count, stats.Sent.Successful, stats.Sent.Bytes)
			fmt.Printf("Received: %d (%d successful, %d bytes)\n", stats.Received.Count, stats.Received.Successful, stats.Received.Bytes)
			fmt.Printf("Success:  %.1f%%\n", stats.SuccessRatio*100)
			return nil
		}

		page, err := c.GetHistory(cmd.Context(), historyDirection, historyPage, historyPerPage)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tDIRECTION\tPEER\tFILE\tSIZE\tRESULT")
		for _, r := range page.Records {
			result := "ok"
			if !r.Success {
				result = r.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.CreatedAt.Local().Format(time.DateTime), r.Direction, r.PeerName, r.FileName, r.FileSize, result)
		}
		_ = w.Flush()

		fmt.Printf("page %d, %d of %d record(s)\n", page.Page, len(page.Records), page.Total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDirection, "direction", "", "only SEND or RECEIVE records")
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "page number")
	historyCmd.Flags().IntVar(&historyPerPage, "per-page", 20, "records per page")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "show totals instead of records")
}
