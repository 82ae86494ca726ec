package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/materials-commons/mcdrop/pkg/client"
	"github.com/spf13/cobra"
)

var receiveDevice string

var receiveCmd = &cobra.Command{
	Use:   "receive <code> [output]",
	Short: "Join a session and download its file",
	Long: `Join a session and download its file once the sender has uploaded it. The
output defaults to the current directory; when it is a directory the sender's
file name is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := "."
		if len(args) == 2 {
			out = args[1]
		}

		if receiveDevice == "" {
			receiveDevice, _ = os.Hostname()
		}

		path, err := newClient().Receive(ctx, args[0], out, client.ReceiveOptions{
			Device: receiveDevice,
			OnProgress: func(s *client.Status) {
				fmt.Fprintf(os.Stderr, "\r%s %d/%d chunks", s.Status, s.CompletedChunks, s.TotalChunks)
			},
		})
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return err
		}

		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().StringVar(&receiveDevice, "device", "", "device name shown to the sender (default hostname)")
}
