package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"engiero/config"
	"engiero/internal/entry"
	"engiero/internal/storage/sqlite"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh cycle for an entry and print the snapshot",
	Long: `Run one refresh cycle and print the snapshot as JSON with the access
token redacted. The snapshot and the cycle are recorded in the database.

Examples:
  engiero refresh --entry home
  engiero refresh --entry home --no-store`,
	RunE: runRefresh,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the entry's credentials and store the token",
	RunE:  runLogin,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(loginCmd)

	refreshCmd.Flags().String("entry", "", "entry id")
	refreshCmd.Flags().Bool("no-store", false, "do not write to the database")
	refreshCmd.Flags().Duration("timeout", 2*time.Minute, "cycle timeout")
	_ = refreshCmd.MarkFlagRequired("entry")

	loginCmd.Flags().String("entry", "", "entry id")
	_ = loginCmd.MarkFlagRequired("entry")
}

func entryConfig(cfg *config.Config, id string) (config.EntryConfig, error) {
	ec, ok := cfg.Entry(id)
	if !ok {
		return config.EntryConfig{}, fmt.Errorf("%w: %s", entry.ErrEntryNotFound, id)
	}
	return *ec, nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("entry")
	noStore, _ := cmd.Flags().GetBool("no-store")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ec, err := entryConfig(cfg, id)
	if err != nil {
		return err
	}

	deps := entry.Deps{Logger: newLogger(cfg)}
	if !noStore {
		db, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		deps.Storage = db
	}

	e, err := entry.Setup(cmd.Context(), ec, deps)
	if err != nil {
		return err
	}
	defer e.Unload()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := e.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(e.Poller().Data().Redacted())
}

func runLogin(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("entry")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ec, err := entryConfig(cfg, id)
	if err != nil {
		return err
	}
	if ec.AuthMode != config.AuthModeMobileLogin {
		return fmt.Errorf("entry %s uses %s auth; login needs %s", id, ec.AuthMode, config.AuthModeMobileLogin)
	}

	e, err := entry.Setup(cmd.Context(), ec, entry.Deps{Logger: newLogger(cfg)})
	if err != nil {
		return err
	}
	defer e.Unload()

	bundle, err := e.Auth().Login(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Token stored in %s\n", ec.TokenFilePath)
	if bundle.ExpiresAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Expires at %s\n", bundle.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
