package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"entity-api/internal/auth"
	"entity-api/internal/config"
	"entity-api/internal/metadata"
)

var (
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a signed access token for local use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(&metadata.UserContext{ID: args[0], Roles: tokenRoles}, cfg.Auth.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{"admin"}, "role claims (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
