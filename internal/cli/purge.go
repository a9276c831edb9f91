package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var purgeUserID int64

var purgeCmd = &cobra.Command{
	Use:   "purge <archive-id>",
	Short: "Delete an archive record and all of its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid archive id %q", args[0])
		}

		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close() //nolint:errcheck

		if err := services.Archives.Purge(cmd.Context(), id, operator(purgeUserID)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged archive %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Int64Var(&purgeUserID, "user-id", 0, "User recorded in the audit log")
}
