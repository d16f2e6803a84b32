package main

import (
	"fmt"
	"time"

	"merchantops/internal/config"
	"merchantops/internal/middleware"

	"github.com/spf13/cobra"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		Args:  cobra.NoArgs,
		RunE:  issueToken,
	}

	tokenUser   string
	tokenTenant string
	tokenName   string
	tokenTTL    time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID (required)")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant ID (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

func issueToken(cmd *cobra.Command, args []string) error {
	userID, err := parseID("user", tokenUser)
	if err != nil {
		return err
	}
	tenantID, err := parseID("tenant", tokenTenant)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := middleware.IssueToken([]byte(cfg.JWTSecret), userID, tenantID, tokenName, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
