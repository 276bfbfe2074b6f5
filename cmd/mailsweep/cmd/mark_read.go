package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var markReadCmd = &cobra.Command{
	Use:   "mark-read <sender>...",
	Short: "Mark all mail from senders as read",
	Long: `Remove the unread flag from every message sent by the given senders.

Examples:
  mailsweep mark-read newsletter@daily.example
  mailsweep mark-read alerts@a.example alerts@b.example`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		senders := args

		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		// Unread counts from the last analysis seed the progress total.
		var expected int64
		for _, addr := range senders {
			if rec, err := sess.store.GetSender(sess.account, addr); err == nil && rec != nil {
				expected += int64(rec.UnreadCount)
			}
		}

		fmt.Printf("Marking mail from %d sender(s) as read...\n", len(senders))

		job, err := sess.runJob(cmd.Context(), queue.TypeMarkRead, bulk.MarkReadPayload{
			Senders:       senders,
			ExpectedTotal: expected,
		})
		if err != nil {
			return err
		}
		if err := jobOutcome(job, "mark-read"); err != nil {
			return err
		}

		fmt.Printf("Marked %d messages as read.\n", job.Processed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(markReadCmd)
}
