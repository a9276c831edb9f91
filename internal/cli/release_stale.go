package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var releaseOlderThan time.Duration

var releaseStaleCmd = &cobra.Command{
	Use:   "release-stale",
	Short: "Release restore guards held longer than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close() //nolint:errcheck

		olderThan := releaseOlderThan
		if olderThan <= 0 {
			olderThan = cfg.Restore.StaleAfter
		}
		released, err := services.Archives.ReleaseStaleRestores(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Released %d restore guard(s) older than %s\n", released, olderThan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(releaseStaleCmd)
	releaseStaleCmd.Flags().DurationVar(&releaseOlderThan, "older-than", 0, "Guard age to release (default RESTORE_STALE_AFTER)")
}
