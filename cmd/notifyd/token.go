package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/amodvardhan/notification-engine/internal/pkg/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a service token for API callers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.SecretKey == "" {
			return errors.New("auth.secret_key is not set")
		}

		authenticator, err := auth.NewAuthenticator(auth.Config{
			SecretKey: cfg.Auth.SecretKey,
			Issuer:    cfg.Auth.Issuer,
		})
		if err != nil {
			return err
		}

		token, err := authenticator.IssueToken(tokenSubject, tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "notifyd-client", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeNotify, auth.ScopeWebhooks}, "granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
