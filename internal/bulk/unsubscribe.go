package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/internal/unsub"
)

// unsubscribe executes one sender's unsubscribe method. The method
// comes from the payload when given, else from the stored sender
// record, else from a content scan of a recent message.
func (e *Engine) unsubscribe(ctx context.Context, payload any, progress queue.ProgressFunc) (queue.Result, error) {
	p, err := payloadAs[UnsubscribePayload](payload)
	if err != nil {
		return queue.Result{}, err
	}
	if p.Sender == "" {
		return queue.Result{}, errors.New("unsubscribe: missing sender")
	}

	method := p.method()
	if method.IsZero() {
		method, err = e.storedMethod(p.Sender)
		if err != nil {
			return queue.Result{}, err
		}
	}
	if method.IsZero() {
		method, err = e.enrichMethod(ctx, p.Sender)
		if err != nil {
			return queue.Result{}, err
		}
	}
	if method.IsZero() {
		return queue.Result{}, fmt.Errorf("%s: %w", p.Sender, unsub.ErrNoMethod)
	}

	if err := ctx.Err(); err != nil {
		return queue.Result{}, err
	}
	outcome, err := e.unsub.Execute(ctx, method)
	if err != nil {
		return queue.Result{}, fmt.Errorf("unsubscribe %s: %w", p.Sender, err)
	}
	progress(1, 1)
	e.logger.Info("unsubscribed", "sender", p.Sender, "outcome", outcome)
	return queue.Result{Processed: 1}, nil
}

func (e *Engine) storedMethod(sender string) (unsub.Method, error) {
	rec, err := e.store.GetSender(e.account, sender)
	if err != nil {
		return unsub.Method{}, fmt.Errorf("load sender: %w", err)
	}
	if rec == nil {
		return unsub.Method{}, nil
	}
	return rec.Unsubscribe.Method(), nil
}

// enrichMethod fetches one recent message from the sender and scans its
// body for an unsubscribe link. A found link is recorded on the stored
// sender record; the write-once column means a racing enrichment keeps
// the first value and this run still uses its own find.
func (e *Engine) enrichMethod(ctx context.Context, sender string) (unsub.Method, error) {
	if err := ctx.Err(); err != nil {
		return unsub.Method{}, err
	}
	page, err := e.api.ListMessageIDs(ctx, "from:"+sender, "", 1)
	if err != nil {
		return unsub.Method{}, fmt.Errorf("list messages: %w", err)
	}
	if len(page.IDs) == 0 {
		return unsub.Method{}, nil
	}

	raw, err := e.api.GetRaw(ctx, page.IDs[0])
	if err != nil {
		return unsub.Method{}, fmt.Errorf("fetch message: %w", err)
	}
	url, err := e.content.ExtractUnsubscribeURL(raw)
	if err != nil {
		if errors.Is(err, unsub.ErrNoUnsubscribeLink) {
			return unsub.Method{}, nil
		}
		return unsub.Method{}, fmt.Errorf("scan message: %w", err)
	}

	if err := e.store.SetEnrichedURL(e.account, sender, url); err != nil {
		switch {
		case errors.Is(err, store.ErrEnrichedURLSet), errors.Is(err, store.ErrUnknownSender):
			e.logger.Debug("enriched url not recorded", "sender", sender, "error", err)
		default:
			return unsub.Method{}, fmt.Errorf("record enriched url: %w", err)
		}
	}
	return unsub.Method{URL: url}, nil
}
