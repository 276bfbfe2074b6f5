package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailsweep/mailsweep/internal/queue"
)

// markRead clears the unread flag on every message from the targeted
// senders.
func (e *Engine) markRead(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[MarkReadPayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if len(p.Senders) == 0 {
		return queue.Result{}, errors.New("markRead: no senders given")
	}

	n, err := e.sweepSenders(ctx, sweepParams{
		op:      "markRead",
		senders: p.Senders,
		query:   func(s string) string { return "from:" + s + " is:unread" },
		act: func(ctx context.Context, ids []string) error {
			return e.api.BatchModify(ctx, ids, nil, []string{"UNREAD"})
		},
		drains:   true,
		expected: p.ExpectedTotal,
	}, progress)
	if err != nil {
		return queue.Result{Processed: n}, err
	}
	e.logger.Info("mark read complete", "senders", len(p.Senders), "messages", n)
	return queue.Result{Processed: n}, nil
}

// applyLabel puts a named label on every message from the targeted
// senders, creating the label first when it does not exist.
func (e *Engine) applyLabel(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[ApplyLabelPayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if len(p.Senders) == 0 {
		return queue.Result{}, errors.New("applyLabel: no senders given")
	}
	if p.LabelName == "" {
		return queue.Result{}, errors.New("applyLabel: missing label name")
	}

	labelID, err := e.ensureLabel(ctx, p.LabelName)
	if err != nil {
		return queue.Result{}, fmt.Errorf("ensure label %q: %w", p.LabelName, err)
	}

	n, err := e.sweepSenders(ctx, sweepParams{
		op:      "applyLabel",
		senders: p.Senders,
		query:   func(s string) string { return "from:" + s },
		act: func(ctx context.Context, ids []string) error {
			return e.api.BatchModify(ctx, ids, []string{labelID}, nil)
		},
		expected: p.ExpectedTotal,
	}, progress)
	if err != nil {
		return queue.Result{Processed: n}, err
	}
	e.logger.Info("apply label complete",
		"label", p.LabelName, "senders", len(p.Senders), "messages", n)
	return queue.Result{Processed: n}, nil
}

// modifyLabel adds and removes label IDs on every message from the
// targeted senders.
func (e *Engine) modifyLabel(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[ModifyLabelPayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if len(p.Senders) == 0 {
		return queue.Result{}, errors.New("modifyLabel: no senders given")
	}
	if len(p.AddLabelIDs) == 0 && len(p.RemoveLabelIDs) == 0 {
		return queue.Result{}, errors.New("modifyLabel: no label changes given")
	}

	n, err := e.sweepSenders(ctx, sweepParams{
		op:      "modifyLabel",
		senders: p.Senders,
		query:   func(s string) string { return "from:" + s },
		act: func(ctx context.Context, ids []string) error {
			return e.api.BatchModify(ctx, ids, p.AddLabelIDs, p.RemoveLabelIDs)
		},
		expected: p.ExpectedTotal,
	}, progress)
	if err != nil {
		return queue.Result{Processed: n}, err
	}
	e.logger.Info("modify label complete", "senders", len(p.Senders), "messages", n)
	return queue.Result{Processed: n}, nil
}

// ensureLabel returns the ID of the named user label, creating it when
// absent. Matching is case-insensitive like Gmail's.
func (e *Engine) ensureLabel(ctx context.Context, name string) (string, error) {
	labels, err := e.api.ListLabels(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.ID, nil
		}
	}
	created, err := e.api.CreateLabel(ctx, name)
	if err != nil {
		return "", err
	}
	e.logger.Info("label created", "name", name, "id", created.ID)
	return created.ID, nil
}
