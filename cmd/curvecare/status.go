package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check if the token is expired, and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, curvecare.DefaultBaseURL))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:   %s\n", cfg.Auth.Email)
			fmt.Printf("  User ID: %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Email:   (not logged in)")
		}

		// Check token expiry.
		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			if cfg.Auth.TokenExpires != "" {
				expires, err := time.Parse(time.RFC3339, cfg.Auth.TokenExpires)
				if err == nil {
					if time.Now().Before(expires) {
						tokenStatus = fmt.Sprintf("valid (expires %s)", expires.Format(time.RFC3339))
					} else {
						tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", expires.Format(time.RFC3339))
					}
				} else {
					tokenStatus = fmt.Sprintf("present (unparseable expiry: %s)", cfg.Auth.TokenExpires)
				}
			} else {
				tokenStatus = "present (no expiry set)"
			}
		}
		fmt.Printf("  Token:   %s\n", tokenStatus)

		// If logged in, fetch live account info.
		if cfg.Auth.Token != "" {
			fmt.Println()
			fmt.Println("Live status:")

			var opts []curvecare.ClientOption
			if cfg.Default.BaseURL != "" {
				opts = append(opts, curvecare.WithBaseURL(cfg.Default.BaseURL))
			}
			client := curvecare.NewClient(cfg.Auth.Token, opts...)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			me, err := client.Account.Me(ctx)
			if err != nil {
				fmt.Printf("  Error fetching account info: %v\n", err)
				return nil
			}

			fmt.Printf("  Display Name: %s\n", me.DisplayName)
			fmt.Printf("  Email:        %s\n", me.Email)
			if me.BraceModel != "" {
				fmt.Printf("  Brace Model:  %s\n", me.BraceModel)
			}
		}

		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
