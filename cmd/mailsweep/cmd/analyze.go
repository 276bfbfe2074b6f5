package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var (
	analyzeQuery string
	analyzeMax   int64
	analyzeTop   int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Scan the mailbox and aggregate mail by sender",
	Long: `Scan the mailbox and build a per-sender summary: message counts, unread
counts, and any advertised unsubscribe methods. Results are stored locally
and drive the senders, delete, and unsubscribe commands.

Re-running analyze merges into the existing summary, so narrowing scans
with --query accumulate rather than overwrite.

Examples:
  mailsweep analyze
  mailsweep analyze --query "category:promotions"
  mailsweep analyze --query "older_than:1y" --max 5000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		fmt.Printf("Analyzing %s...\n", sess.account)

		job, err := sess.runJob(cmd.Context(), queue.TypeAnalyze, bulk.AnalyzePayload{
			Query:       analyzeQuery,
			MaxMessages: analyzeMax,
		})
		if err != nil {
			return err
		}
		if err := jobOutcome(job, "analysis"); err != nil {
			return err
		}

		fmt.Printf("Analyzed %d messages.\n\n", job.Processed)

		senders, err := sess.store.ListSenders(sess.account)
		if err != nil {
			return fmt.Errorf("list senders: %w", err)
		}
		if len(senders) == 0 {
			fmt.Println("No senders found.")
			return nil
		}

		printSenderTable(senders, analyzeTop)
		if analyzeTop > 0 && len(senders) > analyzeTop {
			fmt.Printf("\nShowing top %d of %d senders. Run 'mailsweep senders' for the full list.\n", analyzeTop, len(senders))
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeQuery, "query", "q", "", "Gmail search query to narrow the scan (default: whole inbox)")
	analyzeCmd.Flags().Int64Var(&analyzeMax, "max", 0, "Maximum messages to sample (0 = no limit)")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 15, "How many senders to show after the scan")
	rootCmd.AddCommand(analyzeCmd)
}
