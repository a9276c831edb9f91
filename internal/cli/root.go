package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/bootstrap"
	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/pkg/config"
	"github.com/noah-isme/survey-archive-api/pkg/logger"
)

var (
	cfg  *config.Config
	logr *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archivectl",
	Short: "Operate the survey archive store",
	Long: `archivectl lists, restores and purges survey archives and releases restore guards
left behind by crashed restores. It reads the same environment as the API server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logr, err = logger.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logr != nil {
			_ = logr.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initServices(ctx context.Context) (*bootstrap.Services, error) {
	services, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return services, nil
}

// operator acts with full rights on behalf of userID.
func operator(userID int64) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleSuperAdmin, FullName: "archivectl"}
}
