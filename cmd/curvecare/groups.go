package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

var (
	groupsMessagesLimit int
	groupsMessagesForce bool
	groupsMessagesJSON  bool
	groupsSendMedia     string
)

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsJoinCmd)
	groupsCmd.AddCommand(groupsLeaveCmd)
	groupsCmd.AddCommand(groupsMessagesCmd)
	groupsCmd.AddCommand(groupsSendCmd)

	groupsMessagesCmd.Flags().IntVar(&groupsMessagesLimit, "limit", 0, "Maximum number of messages")
	groupsMessagesCmd.Flags().BoolVar(&groupsMessagesForce, "force", false, "Bypass the local cache")
	groupsMessagesCmd.Flags().BoolVar(&groupsMessagesJSON, "json", false, "Print raw JSON")
	groupsSendCmd.Flags().StringVar(&groupsSendMedia, "media", "", "Attach a media URL")
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Community group commands",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		groups, err := client.Groups.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(groups) == 0 {
			fmt.Println("No groups found.")
			return nil
		}

		for _, g := range groups {
			fmt.Printf("%s  %s (%d members)\n", g.ID, g.Title, g.MemberCount)
			if g.LastMessage != nil {
				fmt.Printf("    last: [%s] %s\n", g.LastMessage.CreatedAt, g.LastMessage.Text)
			}
		}
		return nil
	},
}

var groupsJoinCmd = &cobra.Command{
	Use:   "join <group-id>",
	Short: "Join a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Groups.Join(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Joined group %s\n", args[0])
		return nil
	},
}

var groupsLeaveCmd = &cobra.Command{
	Use:   "leave <group-id>",
	Short: "Leave a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Groups.Leave(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Left group %s\n", args[0])
		return nil
	},
}

var groupsMessagesCmd = &cobra.Command{
	Use:   "messages <group-id>",
	Short: "Show messages in a group (served from the local cache when fresh)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]

		m, cleanup, err := getMessenger(false)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := m.GetMessages(ctx, groupID, curvecare.GetMessagesOptions{
			Force: groupsMessagesForce,
			Limit: groupsMessagesLimit,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if groupsMessagesJSON {
			data, err := json.MarshalIndent(messages, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			printMessage(msg)
		}
		return nil
	},
}

var groupsSendCmd = &cobra.Command{
	Use:   "send <group-id> <text>",
	Short: "Send a message to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, text := args[0], args[1]

		m, cleanup, err := getMessenger(false)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *curvecare.SendMessageOptions
		if groupsSendMedia != "" {
			opts = &curvecare.SendMessageOptions{Kind: curvecare.KindMedia, MediaURL: groupsSendMedia}
		}

		sent, err := m.SendMessage(ctx, groupID, text, opts)
		if err != nil {
			return err
		}

		fmt.Printf("Message sent to group %s\n", groupID)
		fmt.Printf("  Message ID: %s\n", sent.ID)
		return nil
	},
}

// printMessage renders one message as a single terminal line.
func printMessage(msg curvecare.Message) {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt, sender, msg.Text)
	if msg.Deleted {
		line = fmt.Sprintf("[%s] %s: (deleted)", msg.CreatedAt, sender)
	} else if msg.MediaURL != "" {
		line += fmt.Sprintf(" <%s>", msg.MediaURL)
	}
	if msg.Status == curvecare.StatusPending {
		line += " (sending...)"
	} else if msg.Status == curvecare.StatusFailed {
		line += " (failed)"
	}
	fmt.Println(line)
}
