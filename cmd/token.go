package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/spf13/cobra"
)

var flagTokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <participant-id>",
	Short: "Issue a relay access token",
	Long: `Sign a token that lets a participant connect to a relay started with the same secret.

Examples:
  warpcall token alice --secret s3cret --ttl 720h
  warpcall listen --id alice --token "$(warpcall token alice --secret s3cret)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := relayConfig()
		if err != nil {
			return err
		}
		if cfg.RelayJWTSecret == "" {
			return errors.New("a secret is required: pass --secret or set RELAY_JWT_SECRET")
		}

		token, err := relay.IssueToken(cfg.RelayJWTSecret, args[0], flagTokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&flagSecret, "secret", "", "HS256 secret shared with the relay")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 24*time.Hour, "How long the token stays valid")
}
