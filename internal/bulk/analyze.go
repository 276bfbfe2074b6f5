package bulk

import (
	"context"
	"fmt"

	"github.com/mailsweep/mailsweep/internal/aggregate"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/queue"
)

// defaultAnalyzeQuery scopes an analysis to the inbox when the payload
// does not say otherwise.
const defaultAnalyzeQuery = "in:inbox"

// analyze scans the mailbox page by page, folds message metadata into
// per-sender records, and saves the result. Pages are replay-guarded by
// their page token, so a page refetched after a retry counts once.
func (e *Engine) analyze(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[AnalyzePayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	query := p.Query
	if query == "" {
		query = defaultAnalyzeQuery
	}
	pageSize := e.pageSize
	if pageSize > gmail.MaxListPageSize {
		pageSize = gmail.MaxListPageSize
	}

	run := aggregate.NewRun()
	var listed, total int64
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			return queue.Result{Processed: listed}, err
		}

		size := pageSize
		if p.MaxMessages > 0 {
			if remaining := p.MaxMessages - listed; remaining < int64(size) {
				size = int(remaining)
			}
		}

		page, err := e.api.ListMessageIDs(ctx, query, token, size)
		if err != nil {
			keep, jobErr := e.pageFailure("analyze list", listed, err)
			if !keep {
				return queue.Result{Processed: listed}, jobErr
			}
			break
		}
		if total == 0 {
			total = estimateTotal(page.ResultSizeEstimate, p.MaxMessages)
		}
		if len(page.IDs) == 0 {
			break
		}

		metas, err := e.api.GetMetadataBatch(ctx, page.IDs)
		if err != nil {
			// Only authorization errors and cancellation abort a
			// metadata batch; item failures come back as nil slots.
			return queue.Result{Processed: listed}, err
		}
		if run.MergePage(token, metas) {
			listed += int64(len(page.IDs))
			if total < listed {
				total = listed
			}
			progress(listed, total)
		}

		if page.NextPageToken == "" || (p.MaxMessages > 0 && listed >= p.MaxMessages) {
			break
		}
		token = page.NextPageToken
	}

	if err := ctx.Err(); err != nil {
		return queue.Result{Processed: listed}, err
	}
	if err := e.store.SaveSenders(e.account, run.Senders()); err != nil {
		return queue.Result{Processed: listed}, fmt.Errorf("save senders: %w", err)
	}
	e.logger.Info("analysis complete",
		"account", e.account, "messages", listed, "senders", run.Len())
	return queue.Result{Processed: listed}, nil
}
