package bulk

import (
	"context"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/queue"
)

// sweepParams describes one pass over the messages matching a set of
// senders.
type sweepParams struct {
	op      string
	senders []string
	query   func(sender string) string
	act     func(ctx context.Context, ids []string) error

	// drains marks actions that remove matches from the query results
	// (delete, mark read). A draining sweep re-lists the first page
	// until it comes back empty; a non-draining sweep follows page
	// tokens.
	drains bool

	// expected seeds the progress total. 0 derives it from the remote
	// estimate of each sender's first page.
	expected int64
}

// sweepSenders is the shared list-then-act loop of the destructive and
// relabel executors. Cancellation is polled before every page fetch and
// again before every act call, so no destructive call starts after
// cancellation is observed. It returns the number of messages acted on.
func (e *Engine) sweepSenders(ctx context.Context, p sweepParams, progress queue.ProgressFunc) (int64, error) {
	var current int64
	total := p.expected

	for _, sender := range p.senders {
		q := p.query(sender)
		token := ""
		firstList := true
		lastFirstID := ""

		for {
			if err := ctx.Err(); err != nil {
				return current, err
			}
			page, err := e.api.ListMessageIDs(ctx, q, token, gmail.MaxListPageSize)
			if err != nil {
				keep, jobErr := e.pageFailure(p.op+" list", current, err)
				if !keep {
					return current, jobErr
				}
				break
			}
			if firstList && p.expected == 0 {
				total += page.ResultSizeEstimate
			}
			firstList = false
			if len(page.IDs) == 0 {
				break
			}
			if p.drains && page.IDs[0] == lastFirstID {
				// A drain pass must shrink the result set.
				e.logger.Warn("result set did not shrink, stopping sweep",
					"op", p.op, "sender", sender)
				break
			}
			lastFirstID = page.IDs[0]

			if err := ctx.Err(); err != nil {
				return current, err
			}
			if err := p.act(ctx, page.IDs); err != nil {
				keep, jobErr := e.pageFailure(p.op, current, err)
				if !keep {
					return current, jobErr
				}
				break
			}

			current += int64(len(page.IDs))
			if total < current {
				total = current
			}
			progress(current, total)

			if p.drains {
				token = ""
				continue
			}
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
	}
	return current, nil
}
