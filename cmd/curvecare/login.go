package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	curvecare "github.com/curvecare/curvecare-go"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(refreshCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		var opts []curvecare.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, curvecare.WithBaseURL(cfg.Default.BaseURL))
		}
		client := curvecare.NewClient("", opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		token, err := client.Account.Login(ctx, email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = token.Token
		cfg.Auth.UserID = token.UserID
		cfg.Auth.Email = email
		cfg.Auth.TokenExpires = token.ExpiresIn
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s (user %s)\n", email, token.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token and drop the local message cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.Token == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		// Drop cached messages so the next account does not see them.
		if m, cleanup, err := getMessenger(false); err == nil {
			m.ClearCache()
			cleanup()
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		token, err := client.Account.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}

		cfg.Auth.Token = token.Token
		cfg.Auth.TokenExpires = token.ExpiresIn
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Token refreshed.")
		return nil
	},
}
