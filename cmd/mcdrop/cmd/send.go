package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/materials-commons/mcdrop/pkg/client"
	"github.com/spf13/cobra"
)

var (
	sendChunkSize   int
	sendConcurrency int
	sendTTL         time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Offer a file and upload it once a receiver joins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := newClient()
		var code string

		status, err := c.Send(ctx, args[0], client.SendOptions{
			ChunkSize:   sendChunkSize,
			Concurrency: sendConcurrency,
			TTL:         sendTTL,
			OnCreated: func(s *client.Session) {
				code = s.SessionCode
				fmt.Printf("Code: %s\n", s.SessionCode)
				fmt.Printf("On the other device run: mcdrop receive %s\n", s.SessionCode)
				fmt.Printf("Waiting for a receiver (expires %s)...\n", s.ExpiresAt.Local().Format(time.Kitchen))
			},
			OnChunk: func(r *client.ChunkReceipt) {
				fmt.Fprintf(os.Stderr, "\r%d/%d chunks", r.CompletedChunks, r.TotalChunks)
			},
		})

		if err != nil {
			if code != "" && ctx.Err() != nil {
				_, _ = c.CancelSession(cmd.Context(), code)
			}
			return err
		}

		fmt.Fprintln(os.Stderr)
		fmt.Printf("Sent %s (%d bytes), session %s\n", status.FileName, status.FileSize, status.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendChunkSize, "chunk-size", 0, "chunk size in bytes (default is the server's)")
	sendCmd.Flags().IntVar(&sendConcurrency, "concurrency", 4, "number of chunks uploaded at once")
	sendCmd.Flags().DurationVar(&sendTTL, "ttl", 0, "how long to wait for a receiver (default is the server's)")
}
