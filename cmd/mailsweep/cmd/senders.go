package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/aggregate"
	"github.com/mailsweep/mailsweep/internal/store"
)

var (
	sendersLimit int
	sendersJSON  bool
	sendersUnsub bool
)

var sendersCmd = &cobra.Command{
	Use:   "senders",
	Short: "List aggregated senders from the last analysis",
	Long: `List senders found by 'mailsweep analyze', busiest first.

The UNSUB column shows whether a sender advertises an unsubscribe method
("1-click" means it can be done without a browser).

Examples:
  mailsweep senders
  mailsweep senders --limit 50
  mailsweep senders --unsubscribable
  mailsweep senders --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := activeAccount()
		if err != nil {
			return err
		}

		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		senders, err := s.ListSenders(account)
		if err != nil {
			return fmt.Errorf("list senders: %w", err)
		}

		if sendersUnsub {
			filtered := senders[:0]
			for _, rec := range senders {
				if rec.Unsubscribe.HasAny() {
					filtered = append(filtered, rec)
				}
			}
			senders = filtered
		}

		if len(senders) == 0 {
			fmt.Println("No senders found. Run 'mailsweep analyze' first.")
			return nil
		}

		if sendersJSON {
			return outputSendersJSON(senders, sendersLimit)
		}
		printSenderTable(senders, sendersLimit)
		return nil
	},
}

// printSenderTable renders sender records as an aligned table, busiest
// first. limit <= 0 shows everything.
func printSenderTable(senders []*aggregate.SenderRecord, limit int) {
	if limit > 0 && len(senders) > limit {
		senders = senders[:limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENDER\tNAME\tMESSAGES\tUNREAD\tLAST SEEN\tUNSUB")
	for _, rec := range senders {
		lastSeen := ""
		if !rec.LastSeen.IsZero() {
			lastSeen = rec.LastSeen.Local().Format("2006-01-02")
		}
		unsub := "-"
		switch {
		case rec.Unsubscribe.OneClick:
			unsub = "1-click"
		case rec.Unsubscribe.HasAny():
			unsub = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.Address, rec.DisplayName, rec.Count, rec.UnreadCount, lastSeen, unsub)
	}
	w.Flush()
}

func outputSendersJSON(senders []*aggregate.SenderRecord, limit int) error {
	if limit > 0 && len(senders) > limit {
		senders = senders[:limit]
	}

	type senderRow struct {
		Address        string     `json:"address"`
		DisplayName    string     `json:"display_name,omitempty"`
		Count          int        `json:"count"`
		UnreadCount    int        `json:"unread_count"`
		LastSeen       *time.Time `json:"last_seen,omitempty"`
		CanUnsubscribe bool       `json:"can_unsubscribe"`
		OneClick       bool       `json:"one_click,omitempty"`
	}

	rows := make([]senderRow, 0, len(senders))
	for _, rec := range senders {
		row := senderRow{
			Address:        rec.Address,
			DisplayName:    rec.DisplayName,
			Count:          rec.Count,
			UnreadCount:    rec.UnreadCount,
			CanUnsubscribe: rec.Unsubscribe.HasAny(),
			OneClick:       rec.Unsubscribe.OneClick,
		}
		if !rec.LastSeen.IsZero() {
			t := rec.LastSeen.UTC()
			row.LastSeen = &t
		}
		rows = append(rows, row)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func init() {
	sendersCmd.Flags().IntVar(&sendersLimit, "limit", 0, "Maximum senders to show (0 = all)")
	sendersCmd.Flags().BoolVar(&sendersJSON, "json", false, "Output as JSON")
	sendersCmd.Flags().BoolVar(&sendersUnsub, "unsubscribable", false, "Only senders with an unsubscribe method")
	rootCmd.AddCommand(sendersCmd)
}
