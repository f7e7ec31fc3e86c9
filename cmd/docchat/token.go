package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docchat/internal/adapters/driven/auth"
	"github.com/custodia-labs/docchat/internal/config"
)

var (
	tokenUser  string
	tokenEmail string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	Long: `Sign a JWT with auth.jwt_secret. Production deployments sit behind an
identity provider that issues tokens with the same secret.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if tokenUser == "" {
			return errors.New("--user is required")
		}

		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		token, err := auth.NewAdapter(cfg.Auth.JWTSecret).GenerateToken(auth.NewClaims(tokenUser, tokenEmail, ttl))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user ID placed in the token subject")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "optional email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
}
