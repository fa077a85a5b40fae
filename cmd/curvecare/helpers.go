package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	curvecare "github.com/curvecare/curvecare-go"
)

// getClient creates a CurveCare client authenticated with the stored token.
func getClient() *curvecare.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'curvecare login <email> <password>' first.")
		os.Exit(1)
	}

	var opts []curvecare.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, curvecare.WithBaseURL(cfg.Default.BaseURL))
	}

	return curvecare.NewClient(cfg.Auth.Token, opts...)
}

// getMessenger builds a session messenger backed by the on-disk message
// cache under ~/.curvecare/cache. The returned cleanup must be called before
// exit to release the store.
func getMessenger(verbose bool) (*curvecare.Messenger, func(), error) {
	client := getClient()

	dir, err := configDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := curvecare.OpenPebbleStorage(filepath.Join(dir, "cache"))
	if err != nil {
		return nil, nil, fmt.Errorf("open message cache: %w", err)
	}

	var opts []curvecare.MessengerOption
	if verbose {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		opts = append(opts, curvecare.WithLogger(log))
	}

	m := curvecare.NewMessenger(client, store, opts...)
	cleanup := func() {
		m.Close()
		store.Close()
	}
	return m, cleanup, nil
}
