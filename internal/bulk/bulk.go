// Package bulk implements the per-job-type executors behind the job
// queue: mailbox analysis, the delete family, unsubscribe, and the
// relabel and filter families.
//
// All executors share one scan discipline: list a page of matching
// message IDs, act on it, report progress, and poll for cancellation
// before every page fetch and before every destructive call. Transient
// remote failures are retried inside the API client; a page that stays
// failed ends the scan early once progress exists and fails the job
// when none does.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailsweep/mailsweep/internal/aggregate"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/oauth"
	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/unsub"
)

// defaultPageSize is the list page size for analysis scans. Small pages
// keep progress lively; destructive sweeps use the server maximum
// instead.
const defaultPageSize = 45

// SenderStore persists per-sender aggregates between jobs.
type SenderStore interface {
	SaveSenders(account string, records []*aggregate.SenderRecord) error
	GetSender(account, address string) (*aggregate.SenderRecord, error)
	SetEnrichedURL(account, address, url string) error
}

// UnsubscribeRunner executes one unsubscribe method.
type UnsubscribeRunner interface {
	Execute(ctx context.Context, m unsub.Method) (unsub.Outcome, error)
}

// Engine owns the feature executors for one account.
type Engine struct {
	api     gmail.API
	store   SenderStore
	unsub   UnsubscribeRunner
	content unsub.ContentParser
	logger  *slog.Logger
	account string

	pageSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAccount sets the account sender records are stored under.
func WithAccount(account string) Option {
	return func(e *Engine) { e.account = account }
}

// WithPageSize sets the list page size for analysis scans.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithUnsubscribeRunner replaces the default unsubscribe executor.
func WithUnsubscribeRunner(r UnsubscribeRunner) Option {
	return func(e *Engine) { e.unsub = r }
}

// WithContentParser replaces the message body parser used by the
// unsubscribe enrichment path.
func WithContentParser(p unsub.ContentParser) Option {
	return func(e *Engine) { e.content = p }
}

// NewEngine creates the executor collection for one account.
func NewEngine(api gmail.API, st SenderStore, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		store:    st,
		content:  unsub.BodyParser{},
		logger:   slog.Default(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.unsub == nil {
		e.unsub = unsub.NewExecutor(api, unsub.WithLogger(e.logger))
	}
	return e
}

// Register installs all eight executors on the registry.
func (e *Engine) Register(reg *queue.Registry) {
	reg.Register(queue.TypeAnalyze, e.analyze)
	reg.Register(queue.TypeDelete, e.deleteSenders)
	reg.Register(queue.TypeDeleteWithExceptions, e.deleteWithExceptions)
	reg.Register(queue.TypeUnsubscribe, e.unsubscribe)
	reg.Register(queue.TypeMarkRead, e.markRead)
	reg.Register(queue.TypeApplyLabel, e.applyLabel)
	reg.Register(queue.TypeModifyLabel, e.modifyLabel)
	reg.Register(queue.TypeCreateFilter, e.createFilter)
}

// payloadAs asserts the queue payload to the executor's payload type.
func payloadAs[T any](payload any) (T, error) {
	p, ok := payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("payload is %T, want %T", payload, zero)
	}
	return p, nil
}

// mustAbort reports whether the error must propagate out of the
// executor unchanged: cancellation reaches the queue as a cancelled
// job, authorization errors pause it for reauthorization.
func mustAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gmail.ErrUnauthorized) ||
		errors.Is(err, oauth.ErrReauthRequired)
}

// isFatalRequest reports whether err is a request failure retries can
// never fix, like a malformed query.
func isFatalRequest(err error) bool {
	var re *gmail.RequestError
	return errors.As(err, &re) && !re.Retryable()
}

// pageFailure classifies a failed page against the work done so far.
// keep is true when the scan should stop early with its progress intact:
// a transient failure that exhausted retries after at least one page
// landed. Aborts, fatal requests, and failures with no progress yet
// fail the job.
func (e *Engine) pageFailure(op string, done int64, err error) (keep bool, jobErr error) {
	switch {
	case mustAbort(err):
		return false, err
	case isFatalRequest(err):
		return false, fmt.Errorf("%s: %w", op, err)
	case done == 0:
		return false, fmt.Errorf("%s: %w", op, err)
	default:
		e.logger.Warn("page failed after retries, stopping early",
			"op", op, "processed", done, "error", err)
		return true, nil
	}
}

// estimateTotal derives the progress denominator from the remote
// estimate, capped by the sampling budget.
func estimateTotal(estimate, maxMessages int64) int64 {
	if maxMessages > 0 && (estimate == 0 || maxMessages < estimate) {
		return maxMessages
	}
	return estimate
}
