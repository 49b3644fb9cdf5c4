package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amodvardhan/notification-engine/internal/app"
	"github.com/spf13/cobra"
)

var dispatchReap bool

var dispatchOnceCmd = &cobra.Command{
	Use:   "dispatch-once",
	Short: "Run one dispatch cycle and exit",
	Long:  `dispatch-once optionally reaps stalled notifications, attempts one batch of due notifications and waits for the resulting webhook deliveries.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Worker.Enabled = false

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}
		defer func() {
			if err := application.Shutdown(context.Background()); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
		}()

		ctx := cmd.Context()
		if dispatchReap {
			reaped, err := application.Worker().ReapOnce(ctx)
			if err != nil {
				return err
			}
			slog.Info("reap finished", "reaped", reaped)
		}

		attempted := application.Worker().RunOnce(ctx)
		slog.Info("dispatch cycle finished", "attempted", attempted)
		return nil
	},
}

func init() {
	dispatchOnceCmd.Flags().BoolVar(&dispatchReap, "reap", true, "return stalled in_flight notifications to pending first")
	rootCmd.AddCommand(dispatchOnceCmd)
}
