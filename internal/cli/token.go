package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	authsvc "github.com/biosmarket/settlement/internal/services/auth"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("role", "user", "Role claim")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.jwt_access_ttl)")
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Mint a bearer token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.JWTAccessTTL
	}

	manager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, ttl)
	token, expiresAt, err := manager.GenerateAccessToken(args[0], uuid.NewString(), role)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
