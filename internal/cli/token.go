package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/service"
)

var tokenOpts struct {
	userID int64
	role   string
	email  string
	ttl    time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for calling the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenOpts.userID <= 0 {
			return fmt.Errorf("--user-id is required")
		}
		role := models.UserRole(strings.ToUpper(tokenOpts.role))
		switch role {
		case models.RoleUser, models.RoleAdmin, models.RoleSuperAdmin:
		default:
			return fmt.Errorf("unknown role %q", tokenOpts.role)
		}

		auth := service.NewAuthService(service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: tokenOpts.ttl,
			Issuer:            "survey-archive",
		})
		token, expiresAt, err := auth.GenerateToken(tokenOpts.userID, role, tokenOpts.email, "archivectl")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Int64Var(&tokenOpts.userID, "user-id", 0, "User id carried by the token")
	tokenCmd.Flags().StringVar(&tokenOpts.role, "role", string(models.RoleUser), "USER, ADMIN or SUPERADMIN")
	tokenCmd.Flags().StringVar(&tokenOpts.email, "email", "", "Email claim")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", time.Hour, "Token lifetime")
}
