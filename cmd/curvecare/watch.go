package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

var watchVerbose bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log connection activity to stderr")
}

var watchCmd = &cobra.Command{
	Use:   "watch <group-id>",
	Short: "Follow a group's messages live",
	Long:  "Print the group's recent messages, then stream new ones as they arrive.\nPress Ctrl-C to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]

		m, cleanup, err := getMessenger(watchVerbose)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		messages, err := m.GetMessages(ctx, groupID, curvecare.GetMessagesOptions{})
		cancel()
		if err != nil {
			return fmt.Errorf("initial fetch failed: %w", err)
		}
		for _, msg := range messages {
			printMessage(msg)
		}

		m.On(curvecare.EventMessageNew, func(event string, payload any) {
			batch, ok := payload.([]curvecare.Message)
			if !ok {
				return
			}
			for _, msg := range batch {
				printMessage(msg)
			}
		})

		detach := m.Attach(groupID)
		defer detach()

		fmt.Fprintln(os.Stderr, "Watching for new messages. Press Ctrl-C to stop.")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Fprintln(os.Stderr, "Stopped.")
		return nil
	},
}
