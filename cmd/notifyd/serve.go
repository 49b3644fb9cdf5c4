package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/amodvardhan/notification-engine/internal/app"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the dispatch workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runErr := make(chan error, 1)
		go func() {
			runErr <- application.Run()
		}()

		select {
		case err = <-runErr:
		case <-ctx.Done():
			slog.Info("received shutdown signal")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(err, application.Shutdown(shutdownCtx))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
