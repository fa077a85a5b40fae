package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

var (
	painLogLocation string
	painLogNote     string
	painListFrom    string
	painListTo      string
)

func init() {
	rootCmd.AddCommand(painCmd)
	painCmd.AddCommand(painLogCmd)
	painCmd.AddCommand(painListCmd)

	painLogCmd.Flags().StringVar(&painLogLocation, "location", "", "Pain location (e.g. lumbar, thoracic)")
	painLogCmd.Flags().StringVar(&painLogNote, "note", "", "Free-form note")
	painListCmd.Flags().StringVar(&painListFrom, "from", "", "Start of range (RFC3339)")
	painListCmd.Flags().StringVar(&painListTo, "to", "", "End of range (RFC3339)")
}

var painCmd = &cobra.Command{
	Use:   "pain",
	Short: "Pain journal commands",
}

var painLogCmd = &cobra.Command{
	Use:   "log <level>",
	Short: "Log a pain entry (level 0-10)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil || level < 0 || level > 10 {
			return fmt.Errorf("level must be an integer between 0 and 10")
		}

		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		entry, err := client.Pain.Log(ctx, &curvecare.PainLog{
			Level:    level,
			Location: painLogLocation,
			Note:     painLogNote,
			LoggedAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Logged pain level %d (entry %s)\n", entry.Level, entry.ID)
		return nil
	},
}

var painListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pain journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		entries, err := client.Pain.List(ctx, rangeOpts(painListFrom, painListTo))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No entries found.")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("[%s] level %d", e.LoggedAt, e.Level)
			if e.Location != "" {
				line += " at " + e.Location
			}
			if e.Note != "" {
				line += " - " + e.Note
			}
			fmt.Println(line)
		}
		return nil
	},
}

// rangeOpts builds RangeOptions from flag values, or nil when both are empty.
func rangeOpts(from, to string) *curvecare.RangeOptions {
	if from == "" && to == "" {
		return nil
	}
	return &curvecare.RangeOptions{From: from, To: to}
}
