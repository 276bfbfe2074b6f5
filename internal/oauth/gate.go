package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrReauthRequired reports that the credential cannot be made usable
// without the user authorizing again. Callers that see it should pause
// work and prompt for reauthorization rather than retry.
var ErrReauthRequired = errors.New("reauthorization required")

// DefaultRefreshThreshold is how close to expiry a credential may get
// before the gate refreshes it ahead of use. Jobs can run for minutes, so
// the margin keeps a token from dying mid-run.
const DefaultRefreshThreshold = 2 * time.Minute

// RefreshFunc exchanges a stored credential for a fresh one.
type RefreshFunc func(ctx context.Context) (*oauth2.Token, error)

// Gate guards bulk operations on credential freshness. Before work starts,
// EnsureFresh refreshes a token that is expired or about to expire; when
// the refresh fails, the gate flips to needs-reauth and stays there until
// SetCredential installs a new token.
//
// Gate implements oauth2.TokenSource so it can back an HTTP client
// directly.
type Gate struct {
	mu          sync.Mutex
	refresh     RefreshFunc
	current     *oauth2.Token
	threshold   time.Duration
	now         func() time.Time
	save        func(*oauth2.Token)
	logger      *slog.Logger
	needsReauth bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithToken seeds the gate with an initial credential.
func WithToken(token *oauth2.Token) GateOption {
	return func(g *Gate) {
		g.current = token
	}
}

// WithThreshold overrides the refresh-ahead margin.
func WithThreshold(d time.Duration) GateOption {
	return func(g *Gate) {
		g.threshold = d
	}
}

// WithSaveHook registers a callback invoked with every refreshed token.
func WithSaveHook(fn func(*oauth2.Token)) GateOption {
	return func(g *Gate) {
		g.save = fn
	}
}

// WithNow overrides the clock. Used by tests.
func WithNow(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// WithLogger sets the logger for the gate.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a credential gate. refresh may be nil, in which case an
// expiring token immediately requires reauthorization.
func NewGate(refresh RefreshFunc, opts ...GateOption) *Gate {
	g := &Gate{
		refresh:   refresh,
		threshold: DefaultRefreshThreshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureFresh guarantees the credential outlives the refresh threshold,
// refreshing it when necessary. A failed refresh returns an error wrapping
// ErrReauthRequired and marks the gate unusable.
func (g *Gate) EnsureFresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureFreshLocked(ctx)
}

func (g *Gate) ensureFreshLocked(ctx context.Context) error {
	if g.freshLocked() {
		return nil
	}
	return g.refreshLocked(ctx)
}

// freshLocked reports whether the current token outlives the threshold.
// Tokens without an expiry never expire, per oauth2 convention.
func (g *Gate) freshLocked() bool {
	if g.current == nil || g.current.AccessToken == "" {
		return false
	}
	if g.current.Expiry.IsZero() {
		return true
	}
	return g.now().Add(g.threshold).Before(g.current.Expiry)
}

func (g *Gate) refreshLocked(ctx context.Context) error {
	if g.refresh == nil {
		g.needsReauth = true
		return fmt.Errorf("%w: no refresh available", ErrReauthRequired)
	}
	token, err := g.refresh(ctx)
	if err != nil {
		g.needsReauth = true
		g.logger.Warn("token refresh failed", "error", err)
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	g.installLocked(token)
	g.logger.Debug("token refreshed", "expires", token.Expiry)
	return nil
}

func (g *Gate) installLocked(token *oauth2.Token) {
	g.current = token
	g.needsReauth = false
	if g.save != nil {
		g.save(token)
	}
}

// ForceRefresh refreshes the credential regardless of its remaining
// lifetime.
func (g *Gate) ForceRefresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshLocked(ctx)
}

// Token implements oauth2.TokenSource. When a refresh fails but a stale
// credential is still on hand, the stale one is returned so the request
// reaches the server and fails with the server's own 401 instead of a
// local guess.
func (g *Gate) Token() (*oauth2.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureFreshLocked(context.Background()); err != nil {
		if g.current != nil && g.current.AccessToken != "" {
			return g.current, nil
		}
		return nil, err
	}
	return g.current, nil
}

// Peek returns the current credential without refreshing. May be nil.
func (g *Gate) Peek() *oauth2.Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// TimeRemaining returns how long the current credential stays valid.
// Zero means expired or absent; tokens without an expiry report zero and
// never trigger a refresh.
func (g *Gate) TimeRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == nil || g.current.Expiry.IsZero() {
		return 0
	}
	remaining := g.current.Expiry.Sub(g.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Usable reports whether jobs may run against this credential. It turns
// false after a failed refresh and true again after SetCredential.
func (g *Gate) Usable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil && g.current.AccessToken != "" && !g.needsReauth
}

// NeedsReauth reports whether the gate is waiting on reauthorization.
func (g *Gate) NeedsReauth() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.needsReauth
}

// SetCredential installs a freshly authorized token and clears the
// needs-reauth state. Called after the user completes reauthorization.
func (g *Gate) SetCredential(token *oauth2.Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.installLocked(token)
}

// Ensure Gate implements oauth2.TokenSource.
var _ oauth2.TokenSource = (*Gate)(nil)
