package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	wearListFrom string
	wearListTo   string
)

func init() {
	rootCmd.AddCommand(wearCmd)
	wearCmd.AddCommand(wearStartCmd)
	wearCmd.AddCommand(wearStopCmd)
	wearCmd.AddCommand(wearListCmd)

	wearListCmd.Flags().StringVar(&wearListFrom, "from", "", "Start of range (RFC3339)")
	wearListCmd.Flags().StringVar(&wearListTo, "to", "", "End of range (RFC3339)")
}

var wearCmd = &cobra.Command{
	Use:   "wear",
	Short: "Brace wear tracking commands",
}

var wearStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a wear session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		session, err := client.Wear.Start(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Wear session started: %s (since %s)\n", session.ID, session.StartedAt)
		return nil
	},
}

var wearStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a running wear session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		session, err := client.Wear.Stop(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Wear session stopped: %s (%d minutes)\n", session.ID, session.Minutes)
		return nil
	},
}

var wearListCmd = &cobra.Command{
	Use:   "list",
	Short: "List wear sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sessions, err := client.Wear.List(ctx, rangeOpts(wearListFrom, wearListTo))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		var total int
		for _, s := range sessions {
			if s.EndedAt == "" {
				fmt.Printf("[%s] %s - running\n", s.StartedAt, s.ID)
				continue
			}
			fmt.Printf("[%s] %s - %d minutes\n", s.StartedAt, s.ID, s.Minutes)
			total += s.Minutes
		}
		fmt.Printf("Total: %dh %dm\n", total/60, total%60)
		return nil
	},
}
