package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

var (
	calendarListFrom    string
	calendarListTo      string
	calendarAddKind     string
	calendarAddStarts   string
	calendarAddEnds     string
	calendarAddLocation string
	calendarAddNote     string
)

func init() {
	rootCmd.AddCommand(calendarCmd)
	calendarCmd.AddCommand(calendarListCmd)
	calendarCmd.AddCommand(calendarAddCmd)
	calendarCmd.AddCommand(calendarRemoveCmd)

	calendarListCmd.Flags().StringVar(&calendarListFrom, "from", "", "Start of range (RFC3339)")
	calendarListCmd.Flags().StringVar(&calendarListTo, "to", "", "End of range (RFC3339)")
	calendarAddCmd.Flags().StringVar(&calendarAddKind, "kind", "appointment", "Event kind (appointment, exercise, reminder)")
	calendarAddCmd.Flags().StringVar(&calendarAddStarts, "starts", "", "Start time (RFC3339, required)")
	calendarAddCmd.Flags().StringVar(&calendarAddEnds, "ends", "", "End time (RFC3339)")
	calendarAddCmd.Flags().StringVar(&calendarAddLocation, "location", "", "Location")
	calendarAddCmd.Flags().StringVar(&calendarAddNote, "note", "", "Free-form note")
	calendarAddCmd.MarkFlagRequired("starts")
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Appointment and reminder commands",
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calendar events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		events, err := client.Calendar.List(ctx, rangeOpts(calendarListFrom, calendarListTo))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		for _, e := range events {
			fmt.Printf("[%s] %s (%s)  %s\n", e.StartsAt, e.Title, e.Kind, e.ID)
			if e.Location != "" {
				fmt.Printf("    at %s\n", e.Location)
			}
		}
		return nil
	},
}

var calendarAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a calendar event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		event, err := client.Calendar.Create(ctx, &curvecare.CalendarEvent{
			Title:    args[0],
			Kind:     calendarAddKind,
			StartsAt: calendarAddStarts,
			EndsAt:   calendarAddEnds,
			Location: calendarAddLocation,
			Note:     calendarAddNote,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Event created: %s (%s)\n", event.ID, event.Title)
		return nil
	},
}

var calendarRemoveCmd = &cobra.Command{
	Use:   "rm <event-id>",
	Short: "Remove a calendar event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Calendar.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Event removed: %s\n", args[0])
		return nil
	},
}
