package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/survey-archive-api/internal/models"
)

var listOpts struct {
	shortname     string
	title         string
	owner         string
	userID        int64
	finishedOnly  bool
	sort          string
	order         string
	page          int
	rows          int
	includeErrors bool
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close() //nolint:errcheck

		filter := models.ArchiveFilter{
			Shortname: listOpts.shortname,
			Title:     listOpts.title,
			Owner:     listOpts.owner,
			UserID:    listOpts.userID,
			SortKey:   listOpts.sort,
			SortOrder: listOpts.order,
		}
		if listOpts.finishedOnly {
			finished := true
			filter.Finished = &finished
		}
		archives, err := services.Archives.GetAllArchives(cmd.Context(), filter, listOpts.page, listOpts.rows, listOpts.includeErrors)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSHORTNAME\tTITLE\tOWNER\tREPLIES\tARCHIVED\tSTATE")
		for _, a := range archives {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				a.ID, a.SurveyShortname, a.SurveyTitle, a.Owner, a.Replies, a.Archived.UTC().Format(time.RFC3339), archiveState(a))
		}
		return w.Flush()
	},
}

func archiveState(a models.Archive) string {
	switch {
	case a.Error != nil:
		return "failed: " + *a.Error
	case a.Restoring:
		return "restoring"
	case !a.Finished:
		return "in progress"
	default:
		return "finished"
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
	flags := listCmd.Flags()
	flags.StringVar(&listOpts.shortname, "shortname", "", "Shortname contains")
	flags.StringVar(&listOpts.title, "title", "", "Title contains")
	flags.StringVar(&listOpts.owner, "owner", "", "Owner contains")
	flags.Int64Var(&listOpts.userID, "user-id", 0, "Archiving user")
	flags.BoolVar(&listOpts.finishedOnly, "finished", false, "Only finished archives")
	flags.StringVar(&listOpts.sort, "sort", "", "Sort key such as surveyTitle, owner, replies or archived")
	flags.StringVar(&listOpts.order, "order", "asc", "Sort order")
	flags.IntVar(&listOpts.page, "page", 1, "Page")
	flags.IntVar(&listOpts.rows, "rows", 20, "Rows per page")
	flags.BoolVar(&listOpts.includeErrors, "include-errors", false, "Include failed archives")
}
