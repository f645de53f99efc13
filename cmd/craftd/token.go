package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
	"github.com/loykin/craftd/internal/auth"
)

func createTokenCommand(c command) *cobra.Command {
	f := &TokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with the configured secret",
		Long: `Mint a bearer token locally from auth.jwt_secret. No daemon is needed.

Examples:
  craftd token --config /etc/craftd/config.toml --role operator --subject deploy
  CRAFTD_TOKEN=$(craftd token --role viewer) craftd servers list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := issueToken(c.flags.ConfigPath, f.Subject, f.Role)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.out, tok.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&f.Role, "role", auth.RoleAdmin, "role: viewer, operator or admin")
	return cmd
}

func issueToken(configPath, subject, role string) (*auth.Token, error) {
	cfg, err := craftd.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is not set; tokens are not required")
	}
	gate, err := auth.NewJWTGate(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	return gate.Issue(subject, role)
}
