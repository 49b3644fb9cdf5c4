// Command notifyd runs the notification delivery engine.
package main

import (
	"fmt"
	"os"

	"github.com/amodvardhan/notification-engine/internal/config"
	"github.com/amodvardhan/notification-engine/internal/version"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "notifyd",
	Short:         "Multi-channel notification delivery engine",
	Long:          `notifyd accepts notifications over HTTP, delivers them through email, SMS and push transports with retries, and fans lifecycle events out to webhook subscribers.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $NOTIFY_CONFIG)")
}

// loadConfig reads the file named by --config or NOTIFY_CONFIG plus environment overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.LookupPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
