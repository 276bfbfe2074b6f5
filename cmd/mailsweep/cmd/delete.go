package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var (
	deleteYes        bool
	deleteKeepStar   bool
	deleteKeepUnread bool
	deleteKeepAttach bool
	deleteKeepDays   int
)

var deleteCmd = &cobra.Command{
	Use:   "delete <sender>...",
	Short: "Move all mail from senders to the trash",
	Long: `Move every message from the given senders to the trash. Gmail empties
the trash automatically after 30 days, so this is recoverable for a while.

The --keep-* flags carve out messages to leave untouched: starred mail,
unread mail, mail with attachments, or anything newer than N days.

Examples:
  mailsweep delete deals@shop.example
  mailsweep delete deals@shop.example promo@foo.example --yes
  mailsweep delete noisy@list.example --keep-starred --keep-newer-days 30`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		senders := args

		var rules *bulk.ExceptionRules
		typ := queue.TypeDelete
		if deleteKeepStar || deleteKeepUnread || deleteKeepAttach || deleteKeepDays > 0 {
			rules = &bulk.ExceptionRules{
				KeepStarred:       deleteKeepStar,
				KeepUnread:        deleteKeepUnread,
				KeepAttachments:   deleteKeepAttach,
				KeepNewerThanDays: deleteKeepDays,
			}
			typ = queue.TypeDeleteWithExceptions
		}

		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		// Seed the progress denominator from the last analysis, when
		// these senders appear in it.
		var expected int64
		fmt.Printf("Moving mail to the trash for %d sender(s):\n", len(senders))
		for _, addr := range senders {
			known := ""
			if rec, err := sess.store.GetSender(sess.account, addr); err == nil && rec != nil {
				expected += int64(rec.Count)
				known = fmt.Sprintf("  (~%d messages)", rec.Count)
			}
			fmt.Printf("  %s%s\n", addr, known)
		}
		if rules != nil {
			fmt.Println("Keeping:")
			if rules.KeepStarred {
				fmt.Println("  starred messages")
			}
			if rules.KeepUnread {
				fmt.Println("  unread messages")
			}
			if rules.KeepAttachments {
				fmt.Println("  messages with attachments")
			}
			if rules.KeepNewerThanDays > 0 {
				fmt.Printf("  messages newer than %d days\n", rules.KeepNewerThanDays)
			}
		}

		if !deleteYes {
			fmt.Print("\nProceed? [y/N] ")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Scan()
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		job, err := sess.runJob(cmd.Context(), typ, bulk.DeletePayload{
			Senders:       senders,
			Exceptions:    rules,
			ExpectedTotal: expected,
		})
		if err != nil {
			return err
		}
		if err := jobOutcome(job, "delete"); err != nil {
			return err
		}

		fmt.Printf("Moved %d messages to the trash.\n", job.Processed)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip confirmation prompt")
	deleteCmd.Flags().BoolVar(&deleteKeepStar, "keep-starred", false, "Leave starred messages alone")
	deleteCmd.Flags().BoolVar(&deleteKeepUnread, "keep-unread", false, "Leave unread messages alone")
	deleteCmd.Flags().BoolVar(&deleteKeepAttach, "keep-attachments", false, "Leave messages with attachments alone")
	deleteCmd.Flags().IntVar(&deleteKeepDays, "keep-newer-days", 0, "Leave messages newer than this many days alone")
	rootCmd.AddCommand(deleteCmd)
}
