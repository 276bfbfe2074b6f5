package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var (
	labelAddIDs    []string
	labelRemoveIDs []string
)

var labelCmd = &cobra.Command{
	Use:   "label <name> <sender>...",
	Short: "Label all mail from senders",
	Long: `Apply a label to every message from the given senders. The label is
created when it does not exist yet.

With --add-id/--remove-id, raw Gmail label IDs are added and removed
instead, and every argument is treated as a sender. System IDs like INBOX,
UNREAD, and STARRED work here; removing INBOX archives the mail.

Examples:
  mailsweep label Newsletters deals@shop.example
  mailsweep label "Old Projects" a@x.example b@y.example
  mailsweep label --remove-id INBOX promo@foo.example
  mailsweep label --add-id STARRED --remove-id UNREAD boss@work.example`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modify := len(labelAddIDs) > 0 || len(labelRemoveIDs) > 0

		var (
			typ     queue.Type
			payload any
			what    string
		)
		if modify {
			typ = queue.TypeModifyLabel
			payload = bulk.ModifyLabelPayload{
				Senders:        args,
				AddLabelIDs:    labelAddIDs,
				RemoveLabelIDs: labelRemoveIDs,
			}
			what = "label change"
		} else {
			if len(args) < 2 {
				return fmt.Errorf("need a label name and at least one sender (or use --add-id/--remove-id)")
			}
			typ = queue.TypeApplyLabel
			payload = bulk.ApplyLabelPayload{
				LabelName: args[0],
				Senders:   args[1:],
			}
			what = fmt.Sprintf("label %q", args[0])
		}

		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		job, err := sess.runJob(cmd.Context(), typ, payload)
		if err != nil {
			return err
		}
		if err := jobOutcome(job, what); err != nil {
			return err
		}

		fmt.Printf("Updated labels on %d messages.\n", job.Processed)
		return nil
	},
}

func init() {
	labelCmd.Flags().StringSliceVar(&labelAddIDs, "add-id", nil, "Gmail label ID to add (repeatable)")
	labelCmd.Flags().StringSliceVar(&labelRemoveIDs, "remove-id", nil, "Gmail label ID to remove (repeatable)")
	rootCmd.AddCommand(labelCmd)
}
