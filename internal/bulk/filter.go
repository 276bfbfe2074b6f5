package bulk

import (
	"context"
	"errors"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/queue"
)

// createFilter installs server-side filters: one per sender when the
// payload carries a sender list, otherwise a single filter built from
// the payload criteria.
func (e *Engine) createFilter(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[CreateFilterPayload](payload)
	if err != nil {
		return queue.Result{}, err
	}

	action := gmail.FilterAction{
		AddLabelIDs:    p.AddLabelIDs,
		RemoveLabelIDs: p.RemoveLabelIDs,
	}
	if len(action.AddLabelIDs) == 0 && len(action.RemoveLabelIDs) == 0 {
		return queue.Result{}, errors.New("createFilter: no filter action given")
	}

	var criteria []gmail.FilterCriteria
	switch {
	case len(p.Senders) > 0:
		for _, s := range p.Senders {
			criteria = append(criteria, gmail.FilterCriteria{From: s})
		}
	case p.From != "" || p.Query != "":
		criteria = append(criteria, gmail.FilterCriteria{From: p.From, Query: p.Query})
	default:
		return queue.Result{}, errors.New("createFilter: no criteria given")
	}

	total := int64(len(criteria))
	var created int64
	for _, c := range criteria {
		if err := ctx.Err(); err != nil {
			return queue.Result{Processed: created}, err
		}
		if _, err := e.api.CreateFilter(ctx, &gmail.Filter{Criteria: c, Action: action}); err != nil {
			keep, jobErr := e.pageFailure("createFilter", created, err)
			if !keep {
				return queue.Result{Processed: created}, jobErr
			}
			continue
		}
		created++
		progress(created, total)
	}
	e.logger.Info("filters created", "count", created)
	return queue.Result{Processed: created}, nil
}
