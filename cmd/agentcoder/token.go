package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/agentcoder/internal/auth"
	"github.com/sakif/agentcoder/internal/config"
)

func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for the run API",
		Long: `Signs a token with the server's JWT secret (JWT_SECRET or server.jwtSecret).
Send it as "Authorization: Bearer <token>", or paste it into the web page.`,
		Example: "  agentcoder token --subject alice --ttl 168h",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			if !cfg.Server.AuthEnabled() {
				return &exitError{code: exitFailed, err: errors.New("no JWT secret configured; set JWT_SECRET")}
			}

			tokens, err := auth.NewTokenService(cfg.Server.JWTSecret)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			token, err := tokens.Generate(subject, ttl)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "who the token identifies; runs are scoped to it")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "how long the token stays valid")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
