package unsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailsweep/mailsweep/internal/gmail"
)

// Outcome identifies which unsubscribe channel succeeded.
type Outcome string

const (
	// OutcomeOneClick means the RFC 8058 POST was accepted.
	OutcomeOneClick Outcome = "one-click"

	// OutcomeMailed means an unsubscribe message was sent to the
	// advertised mailto address.
	OutcomeMailed Outcome = "mailto"

	// OutcomeVisited means the unsubscribe URL answered a plain GET.
	// Some list managers complete on page load; others need a human,
	// so this outcome is best-effort.
	OutcomeVisited Outcome = "http-get"
)

// ErrNoMethod indicates the sender advertises no unsubscribe channel.
var ErrNoMethod = errors.New("sender advertises no unsubscribe method")

// Executor carries out unsubscribe requests. Channels are tried in order
// of reliability: one-click POST, then mailto through the account itself,
// then a plain GET.
type Executor struct {
	httpClient *http.Client
	sender     gmail.MessageSender
	logger     *slog.Logger
	from       string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient overrides the HTTP client used for POST/GET requests.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.httpClient = client
	}
}

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithFromAddress sets the From header used on mailto unsubscribe
// messages. List managers match it against their subscriber rolls.
func WithFromAddress(addr string) ExecutorOption {
	return func(e *Executor) {
		e.from = addr
	}
}

// NewExecutor creates an unsubscribe executor. sender may be nil, in
// which case mailto methods are skipped.
func NewExecutor(sender gmail.MessageSender, opts ...ExecutorOption) *Executor {
	e := &Executor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sender:     sender,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute attempts the method's channels in preference order and returns
// the outcome of the first that succeeds. When every channel fails the
// last error is returned; ErrNoMethod when there was nothing to try.
func (e *Executor) Execute(ctx context.Context, m Method) (Outcome, error) {
	var lastErr error

	if m.URL != "" && m.OneClick {
		if err := e.oneClickPost(ctx, m.URL); err != nil {
			lastErr = err
			e.logger.Debug("one-click unsubscribe failed", "url", m.URL, "error", err)
		} else {
			return OutcomeOneClick, nil
		}
	}

	if m.MailTo != "" && e.sender != nil {
		if err := e.sendMailto(ctx, m); err != nil {
			lastErr = err
			e.logger.Debug("mailto unsubscribe failed", "address", m.MailTo, "error", err)
		} else {
			return OutcomeMailed, nil
		}
	}

	if m.URL != "" {
		if err := e.get(ctx, m.URL); err != nil {
			lastErr = err
			e.logger.Debug("unsubscribe GET failed", "url", m.URL, "error", err)
		} else {
			return OutcomeVisited, nil
		}
	}

	if lastErr == nil {
		return "", ErrNoMethod
	}
	return "", lastErr
}

// oneClickPost performs the RFC 8058 POST.
func (e *Executor) oneClickPost(ctx context.Context, rawURL string) error {
	if err := checkHTTPURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(oneClickValue))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unsubscribe endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// sendMailto composes and sends an unsubscribe message through the
// account's own mailbox.
func (e *Executor) sendMailto(ctx context.Context, m Method) error {
	subject := m.MailSubject
	if subject == "" {
		subject = "unsubscribe"
	}

	var b bytes.Buffer
	if e.from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", e.from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", m.MailTo)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString("unsubscribe\r\n")

	_, err := e.sender.SendMessage(ctx, b.Bytes())
	return err
}

// get loads the unsubscribe URL.
func (e *Executor) get(ctx context.Context, rawURL string) error {
	if err := checkHTTPURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unsubscribe endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// checkHTTPURL rejects non-HTTP schemes before any request is issued.
func checkHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("bad unsubscribe URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing non-HTTP unsubscribe URL %q", rawURL)
	}
	return nil
}
