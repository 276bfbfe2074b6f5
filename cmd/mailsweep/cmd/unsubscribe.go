package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

var unsubURL string

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <sender>",
	Short: "Unsubscribe from a sender's mailing list",
	Long: `Unsubscribe from a sender using the method advertised in their mail:
a one-click POST, an unsubscribe mailto, or an unsubscribe link found in a
recent message body.

The stored method from the last analysis is used when available; otherwise
a recent message from the sender is fetched and scanned for a link.

Examples:
  mailsweep unsubscribe deals@shop.example
  mailsweep unsubscribe deals@shop.example --url "https://shop.example/unsub?u=123"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender := args[0]

		sess, err := newJobSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		fmt.Printf("Unsubscribing from %s...\n", sender)

		job, err := sess.runJob(cmd.Context(), queue.TypeUnsubscribe, bulk.UnsubscribePayload{
			Sender: sender,
			URL:    unsubURL,
		})
		if err != nil {
			return err
		}
		if err := jobOutcome(job, "unsubscribe"); err != nil {
			return err
		}

		fmt.Printf("Unsubscribe request sent for %s.\n", sender)
		fmt.Println("Some lists take a few days to stop sending; mail may still arrive meanwhile.")
		return nil
	},
}

func init() {
	unsubscribeCmd.Flags().StringVar(&unsubURL, "url", "", "Unsubscribe URL to use instead of the stored method")
	rootCmd.AddCommand(unsubscribeCmd)
}
