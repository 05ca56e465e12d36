package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/topicq/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		subject  string
		lifetime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.AdminJWTSecret == "" {
				return errors.New("auth.admin_jwt_secret is not configured")
			}

			tokens, err := auth.NewTokenService(cfg.Auth.AdminJWTSecret)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateToken(cmd.Context(), subject, auth.RoleAdmin, lifetime)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	cmd.Flags().DurationVar(&lifetime, "ttl", time.Hour, "Token lifetime")
	return cmd
}
