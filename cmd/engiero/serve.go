package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"engiero/internal/api"
	"engiero/internal/entry"
	"engiero/internal/notify"
	"engiero/internal/storage/sqlite"
)

const (
	shutdownTimeout = 10 * time.Second
	cycleRetention  = 90 * 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll all entries and serve the local API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// Initialize database
	logger.Info("Initializing SQLite database", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if n, err := db.PruneCycles(cmd.Context(), time.Now().Add(-cycleRetention)); err != nil {
		logger.Warn("Failed to prune cycle history", "error", err)
	} else if n > 0 {
		logger.Info("Pruned cycle history", "rows", n)
	}

	// Re-authentication prompts
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("Telegram notifications disabled", "error", err)
		} else {
			notifier = tg
		}
	}
	deps := entry.Deps{
		Logger:   logger,
		Storage:  db,
		Notifier: notify.NewDedup(notifier),
	}

	// Load entries
	registry := entry.NewRegistry()
	defer func() {
		if err := registry.UnloadAll(); err != nil {
			logger.Error("Failed to unload entries", "error", err)
		}
	}()

	for _, ec := range cfg.Entries {
		e, err := entry.Setup(cmd.Context(), ec, deps)
		if err != nil {
			return fmt.Errorf("failed to set up entry %s: %w", ec.ID, err)
		}
		if err := registry.Register(e); err != nil {
			e.Unload()
			return err
		}
		e.Start()
		logger.Info("Entry loaded", "entry_id", ec.ID, "auth_mode", ec.AuthMode)
	}

	router := api.NewRouter(api.RouterConfig{
		Registry:      registry,
		Storage:       db,
		APIKey:        cfg.Security.APIKey,
		APIKeyHash:    cfg.Security.APIKeyHash,
		AllowedIPs:    cfg.Security.AllowedIPs,
		EnableIPCheck: cfg.Security.EnableIPCheck,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Starting graceful shutdown", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}
