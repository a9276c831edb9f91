package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	restoreAlias  string
	restoreUserID int64
)

var restoreCmd = &cobra.Command{
	Use:   "restore <archive-id>",
	Short: "Restore an archived survey",
	Long:  "Restore an archived survey under its shortname or --alias. The import is attributed to --user-id, or to the archive owner when omitted.",
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

		archive, err := services.Archives.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		userID := restoreUserID
		if userID <= 0 {
			userID = archive.UserID
		}

		survey, err := services.Archives.Restore(cmd.Context(), archive, operator(userID), restoreAlias)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored archive %d as survey %d (%s)\n", id, survey.ID, survey.Shortname)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreAlias, "alias", "", "Shortname to restore under")
	restoreCmd.Flags().Int64Var(&restoreUserID, "user-id", 0, "User the import is attributed to")
}
