package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var (
	filterFrom      []string
	filterQuery     string
	filterAddIDs    []string
	filterRemoveIDs []string
	filterArchive   bool
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Create server-side filters for future mail",
	Long: `Create Gmail filters so future mail is handled automatically, without
mailsweep running. With --from, one filter is created per sender; with
--query, a single filter matches the query.

Actions are label changes: --add-id and --remove-id take Gmail label IDs,
and --archive is shorthand for removing INBOX (skip the inbox).

Examples:
  mailsweep filter --from deals@shop.example --archive
  mailsweep filter --from a@x.example --from b@y.example --add-id TRASH
  mailsweep filter --query "subject:unsubscribe" --archive`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(filterFrom) == 0 && filterQuery == "" {
			return fmt.Errorf("nothing to match: use --from or --query")
		}
		if len(filterFrom) > 0 && filterQuery != "" {
			return fmt.Errorf("--from and --query cannot be combined")
		}

		removeIDs := filterRemoveIDs
		if filterArchive {
			removeIDs = append(removeIDs, "INBOX")
		}
		if len(filterAddIDs) == 0 && len(removeIDs) == 0 {
			return fmt.Errorf("nothing to do: use --add-id, --remove-id, or --archive")
		}

		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		job, err := sess.runJob(cmd.Context(), queue.TypeCreateFilter, bulk.CreateFilterPayload{
			Senders:        filterFrom,
			Query:          filterQuery,
			AddLabelIDs:    filterAddIDs,
			RemoveLabelIDs: removeIDs,
		})
		if err != nil {
			return err
		}
		if err := jobOutcome(job, "filter creation"); err != nil {
			return err
		}

		fmt.Printf("Created %d filter(s).\n", job.Processed)
		return nil
	},
}

func init() {
	filterCmd.Flags().StringSliceVar(&filterFrom, "from", nil, "Create a filter for mail from this sender (repeatable)")
	filterCmd.Flags().StringVar(&filterQuery, "query", "", "Create a single filter matching this Gmail query")
	filterCmd.Flags().StringSliceVar(&filterAddIDs, "add-id", nil, "Gmail label ID the filter adds (repeatable)")
	filterCmd.Flags().StringSliceVar(&filterRemoveIDs, "remove-id", nil, "Gmail label ID the filter removes (repeatable)")
	filterCmd.Flags().BoolVar(&filterArchive, "archive", false, "Skip the inbox (shorthand for --remove-id INBOX)")
	rootCmd.AddCommand(filterCmd)
}
