package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/store"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show recent job history",
	Long: `Show the action log: every job ever enqueued, newest first, with its
final status and progress. The log persists across runs, so jobs from
one-shot commands and the serve daemon both appear.

Examples:
  mailsweep jobs
  mailsweep jobs --limit 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		recs, err := s.ListJobs(jobsLimit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No jobs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACCOUNT\tTYPE\tSTATUS\tPROGRESS\tSTARTED\tDETAIL")
		for _, rec := range recs {
			progress := fmt.Sprintf("%d", rec.Current)
			if rec.Total > 0 {
				progress = fmt.Sprintf("%d/%d", rec.Current, rec.Total)
			}
			detail := rec.ErrorMessage
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.JobID, rec.Account, rec.Action, rec.Status, progress,
				rec.CreatedAt.Local().Format("2006-01-02 15:04"), detail)
		}
		w.Flush()
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to show (0 = all)")
	rootCmd.AddCommand(jobsCmd)
}
