package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailsweep/mailsweep/internal/queue"
)

// deleteSenders permanently deletes every message from the targeted
// senders.
func (e *Engine) deleteSenders(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[DeletePayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if len(p.Senders) == 0 {
		return queue.Result{}, errors.New("delete: no senders given")
	}
	if p.Exceptions != nil {
		// Refuse rather than ignore: dropping the rules here would
		// delete the very messages they protect.
		return queue.Result{}, errors.New("delete: exception rules require the deleteWithExceptions job type")
	}
	return e.runDelete(ctx, "delete", p, progress)
}

// deleteWithExceptions deletes messages from the targeted senders,
// keeping everything the exception rules protect.
func (e *Engine) deleteWithExceptions(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[DeletePayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if len(p.Senders) == 0 {
		return queue.Result{}, errors.New("deleteWithExceptions: no senders given")
	}
	if p.Exceptions == nil {
		return queue.Result{}, errors.New("deleteWithExceptions: missing exception rules")
	}
	return e.runDelete(ctx, "deleteWithExceptions", p, progress)
}

func (e *Engine) runDelete(ctx context.Context, op string, p DeletePayload, progress queue.ProgressFunc) (queue.Result, error) {
	n, err := e.sweepSenders(ctx, sweepParams{
		op:       op,
		senders:  p.Senders,
		query:    func(s string) string { return deleteQuery(s, p.Exceptions) },
		act:      e.api.BatchDelete,
		drains:   true,
		expected: p.ExpectedTotal,
	}, progress)
	if err != nil {
		return queue.Result{Processed: n}, err
	}
	e.logger.Info("delete complete", "op", op, "senders", len(p.Senders), "deleted", n)
	return queue.Result{Processed: n}, nil
}

// deleteQuery builds the search query for one sender, compiling each
// exception rule into a negation so protected messages never match.
func deleteQuery(sender string, rules *ExceptionRules) string {
	terms := []string{"from:" + sender}
	if rules != nil {
		if rules.KeepStarred {
			terms = append(terms, "-is:starred")
		}
		if rules.KeepUnread {
			terms = append(terms, "-is:unread")
		}
		if rules.KeepAttachments {
			terms = append(terms, "-has:attachment")
		}
		if rules.KeepNewerThanDays > 0 {
			terms = append(terms, fmt.Sprintf("older_than:%dd", rules.KeepNewerThanDays))
		}
	}
	return strings.Join(terms, " ")
}
