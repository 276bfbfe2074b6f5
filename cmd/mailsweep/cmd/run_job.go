package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/events"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/keepalive"
	"github.com/mailsweep/mailsweep/internal/oauth"
	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/store"
)

// jobSession bundles everything a one-shot job command needs: the local
// database, an authorized Gmail client, and a started queue with every
// bulk executor registered. Close tears the pieces down in dependency
// order.
type jobSession struct {
	account string
	store   *store.Store
	auth    *oauth.Manager
	gate    *oauth.Gate
	client  *gmail.Client
	queue   *queue.Queue
}

func newJobSession() (*jobSession, error) {
	account, err := activeAccount()
	if err != nil {
		return nil, err
	}

	if cfg.OAuth.ClientSecrets == "" {
		return nil, errOAuthNotConfigured()
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		s.Close()
		return nil, wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	if !mgr.HasToken(account) {
		s.Close()
		return nil, fmt.Errorf("account %s is not authorized (run 'mailsweep authorize %s' first)", account, account)
	}

	gate, err := mgr.Gate(account)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client := gmail.NewClient(gate,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Gmail.RateLimitQPS))),
	)

	engine := bulk.NewEngine(client, s,
		bulk.WithLogger(logger),
		bulk.WithAccount(account),
	)
	reg := queue.NewRegistry()
	engine.Register(reg)

	q := queue.New(reg,
		queue.WithGate(gate),
		queue.WithActionLog(s),
		queue.WithAccount(account),
		queue.WithKeeper(keepalive.New(logger)),
		queue.WithLogger(logger),
	)
	q.Start()

	return &jobSession{
		account: account,
		store:   s,
		auth:    mgr,
		gate:    gate,
		client:  client,
		queue:   q,
	}, nil
}

func (js *jobSession) Close() {
	js.queue.Close()
	_ = js.client.Close()
	_ = js.store.Close()
}

// runJob enqueues a single job and blocks until it reaches a terminal
// state, rendering progress on the terminal along the way. When the
// queue pauses for an expired credential, the OAuth flow is re-run
// inline and the queue resumed.
func (js *jobSession) runJob(ctx context.Context, t queue.Type, payload any) (queue.Job, error) {
	updates, cancel := js.queue.Bus().Subscribe()
	defer cancel()

	id, err := js.queue.Enqueue(t, payload)
	if err != nil {
		return queue.Job{}, err
	}

	type awaited struct {
		job queue.Job
		err error
	}
	done := make(chan awaited, 1)
	go func() {
		j, err := js.queue.Await(ctx, id)
		done <- awaited{j, err}
	}()

	printer := &jobPrinter{}
	for {
		select {
		case res := <-done:
			printer.finish()
			return res.job, res.err
		case ev, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			switch ev.Kind {
			case events.AuthRequired:
				printer.finish()
				if err := js.reauthorize(ctx); err != nil {
					_ = js.queue.Cancel(id)
					return queue.Job{}, err
				}
			case events.StatusChanged, events.DataChanged:
				if j, err := js.queue.Job(id); err == nil {
					printer.update(j)
				}
			}
		}
	}
}

// reauthorize re-runs the browser OAuth flow after the queue pauses on
// an unusable credential, then resumes the queue. The gate picks the new
// token up from disk on its next refresh.
func (js *jobSession) reauthorize(ctx context.Context) error {
	fmt.Printf("\nToken for %s is expired or revoked. Re-authorizing...\n", js.account)

	if err := js.auth.DeleteToken(js.account); err != nil {
		return fmt.Errorf("delete expired token: %w", err)
	}
	if err := js.auth.Authorize(ctx, js.account, false); err != nil {
		return fmt.Errorf("re-authorize %s: %w", js.account, err)
	}

	js.queue.NotifyAuthorized()
	return nil
}

// jobPrinter renders queue progress as a single rewritten terminal line,
// throttled so a fast job does not flood the terminal.
type jobPrinter struct {
	start     time.Time
	lastPrint time.Time
	printed   bool
}

func (p *jobPrinter) update(j queue.Job) {
	if j.Status != queue.StatusRunning {
		return
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	if time.Since(p.lastPrint) < time.Second {
		return
	}
	p.lastPrint = time.Now()
	p.printed = true

	elapsed := formatDuration(time.Since(p.start))
	if j.Total > 0 {
		fmt.Printf("\r  %s: %d/%d (%d%%) | Elapsed: %s    ", j.Type, j.Current, j.Total, j.Percent(), elapsed)
	} else {
		fmt.Printf("\r  %s: %d | Elapsed: %s    ", j.Type, j.Current, elapsed)
	}
}

// finish clears the progress line so the caller's summary starts clean.
func (p *jobPrinter) finish() {
	if p.printed {
		fmt.Print("\r\033[K")
		p.printed = false
	}
}

// jobOutcome converts a terminal job state into a command result: nil
// for success, an error naming the failure otherwise.
func jobOutcome(j queue.Job, what string) error {
	switch j.Status {
	case queue.StatusSuccess:
		return nil
	case queue.StatusCancelled:
		return fmt.Errorf("%s cancelled", what)
	default:
		if j.Error != "" {
			return fmt.Errorf("%s failed: %s", what, j.Error)
		}
		return fmt.Errorf("%s failed", what)
	}
}

// formatDuration formats a duration as "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
