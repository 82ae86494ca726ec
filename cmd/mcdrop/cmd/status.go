package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <code>",
	Short: "Show the status of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Session:  %s\n", s.SessionCode)
		fmt.Printf("Status:   %s\n", s.Status)
		fmt.Printf("File:     %s (%d bytes)\n", s.FileName, s.FileSize)
		fmt.Printf("Progress: %d/%d chunks, %d bytes\n", s.CompletedChunks, s.TotalChunks, s.TransferredBytes)
		fmt.Printf("Receiver: %t\n", s.PeerConnected)
		if !s.Terminal() {
			fmt.Printf("Expires:  %s\n", s.ExpiresAt.Local())
		}

		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <code>",
	Short: "Cancel a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().CancelSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Session %s is %s\n", s.SessionCode, s.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}
