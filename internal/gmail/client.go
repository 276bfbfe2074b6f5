package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/mailsweep/mailsweep/internal/backoff"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// metadataHeaders are the only headers fetched for aggregation. Bodies are
// never downloaded.
var metadataHeaders = []string{
	"From",
	"Subject",
	"Date",
	"List-Unsubscribe",
	"List-Unsubscribe-Post",
}

// Client implements the Gmail API interface.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	userID      string // "me" for authenticated user
	concurrency int    // Max parallel requests for batch metadata fetches
	retryPolicy backoff.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConcurrency sets the max concurrent requests for batch metadata fetches.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		c.concurrency = n
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithRetryPolicy sets the retry policy for failed requests.
func WithRetryPolicy(p backoff.Policy) ClientOption {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a new Gmail API client. The token source supplies the
// bearer credential for every request.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		baseURL:     defaultBaseURL,
		userID:      "me",
		concurrency: 15,
		retryPolicy: backoff.DefaultPolicy(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}

	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing
	return nil
}

// request makes an HTTP request with rate limiting and retry logic.
// bodyBytes can be nil for requests without a body.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	attempt := 0
	return backoff.DoValue(ctx, c.retryPolicy, func() ([]byte, error) {
		attempt++
		data, err := c.attempt(ctx, method, path, bodyBytes)
		if err != nil {
			c.throttleFor(err, path, attempt)
		}
		return data, err
	})
}

// attempt performs a single HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, method, path string, bodyBytes []byte) ([]byte, error) {
	// Create a new reader for each attempt so the body can be re-read on retry
	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RequestError{Path: path, Err: err}
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &RequestError{Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// oauth2.Client should auto-refresh; a 401 that survives it means the
		// credential was revoked. Don't retry, callers must reauthorize.
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, path)
	}

	return nil, newRequestError(resp.StatusCode, path, respBody)
}

// throttleFor applies adaptive back-pressure to the rate limiter when the
// server signals overload. Logged at Debug since throttling is expected
// during large runs and the retry logic handles it.
func (c *Client) throttleFor(err error, path string, attempt int) {
	var re *RequestError
	if !errors.As(err, &re) {
		return
	}
	switch {
	case re.StatusCode == http.StatusTooManyRequests:
		c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
		c.rateLimiter.Throttle(30 * time.Second)
	case re.StatusCode == http.StatusForbidden && re.quota:
		c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
		c.rateLimiter.Throttle(60 * time.Second)
	}
}

// Gmail API JSON response types (unexported, used only for JSON unmarshaling).

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

type gmailLabel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MessagesTotal  int64  `json:"messagesTotal"`
	MessagesUnread int64  `json:"messagesUnread"`
}

type listLabelsResponse struct {
	Labels []gmailLabel `json:"labels"`
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []gmailMessageRef `json:"messages"`
	NextPageToken      string            `json:"nextPageToken"`
	ResultSizeEstimate int64             `json:"resultSizeEstimate"`
}

type headerJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type payloadJSON struct {
	Headers []headerJSON `json:"headers"`
}

type messageMetaResponse struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	LabelIDs     []string    `json:"labelIds"`
	Snippet      string      `json:"snippet"`
	InternalDate string      `json:"internalDate"`
	SizeEstimate int64       `json:"sizeEstimate"`
	Payload      payloadJSON `json:"payload"`
}

type filterCriteriaJSON struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
}

type filterActionJSON struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

type filterJSON struct {
	ID       string             `json:"id,omitempty"`
	Criteria filterCriteriaJSON `json:"criteria"`
	Action   filterActionJSON   `json:"action"`
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
	}, nil
}

// ListLabels returns all labels for the account.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listLabelsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	labels := make([]*Label, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = &Label{
			ID:             l.ID,
			Name:           l.Name,
			Type:           l.Type,
			MessagesTotal:  l.MessagesTotal,
			MessagesUnread: l.MessagesUnread,
		}
	}
	return labels, nil
}

// CreateLabel creates a user label and returns it.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	body := struct {
		Name                  string `json:"name"`
		LabelListVisibility   string `json:"labelListVisibility"`
		MessageListVisibility string `json:"messageListVisibility"`
	}{Name: name, LabelListVisibility: "labelShow", MessageListVisibility: "show"}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsCreate, "POST", path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp gmailLabel
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return &Label{ID: resp.ID, Name: resp.Name, Type: resp.Type}, nil
}

// ListMessageIDs returns one page of message IDs matching the query.
func (c *Client) ListMessageIDs(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error) {
	if maxResults <= 0 || maxResults > MaxListPageSize {
		maxResults = MaxListPageSize
	}

	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(maxResults))
	if query != "" {
		params.Set("q", query)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	ids := make([]string, len(resp.Messages))
	for i, m := range resp.Messages {
		ids[i] = m.ID
	}

	return &MessageListPage{
		IDs:                ids,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMetadata fetches the headers and label state of a single message.
func (c *Client) GetMetadata(ctx context.Context, messageID string) (*MessageMeta, error) {
	params := url.Values{}
	params.Set("format", "metadata")
	for _, h := range metadataHeaders {
		params.Add("metadataHeaders", h)
	}

	path := fmt.Sprintf("/users/%s/messages/%s?%s", c.userID, messageID, params.Encode())
	data, err := c.request(ctx, OpMessagesGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp messageMetaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	internalDate, _ := strconv.ParseInt(resp.InternalDate, 10, 64)

	headers := make(map[string]string, len(resp.Payload.Headers))
	for _, h := range resp.Payload.Headers {
		key := textproto.CanonicalMIMEHeaderKey(h.Name)
		if _, ok := headers[key]; !ok {
			headers[key] = h.Value
		}
	}

	return &MessageMeta{
		ID:           resp.ID,
		ThreadID:     resp.ThreadID,
		LabelIDs:     resp.LabelIDs,
		Snippet:      resp.Snippet,
		InternalDate: internalDate,
		SizeEstimate: resp.SizeEstimate,
		Headers:      headers,
	}, nil
}

// GetMetadataBatch fetches metadata for multiple messages in parallel with
// rate limiting. Per-message failures leave nil slots so a sick message
// can't sink a whole page; authorization failures abort the batch.
func (c *Client) GetMetadataBatch(ctx context.Context, messageIDs []string) ([]*MessageMeta, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]*MessageMeta, len(messageIDs))
	sem := make(chan struct{}, c.concurrency)

	g, ctx := errgroup.WithContext(ctx)

	for i, id := range messageIDs {
		i, id := i, id // Capture for goroutine

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			meta, err := c.GetMetadata(ctx, id)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
					return err
				}
				// Log but don't fail the batch - allow partial results
				c.logger.Warn("failed to fetch metadata", "id", id, "error", err)
				return nil
			}

			results[i] = meta
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// GetRaw fetches the raw RFC 822 bytes of a single message.
func (c *Client) GetRaw(ctx context.Context, messageID string) ([]byte, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=raw", c.userID, messageID)
	data, err := c.request(ctx, OpMessagesGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	raw, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw MIME: %w", err)
	}
	return raw, nil
}

// decodeBase64URL decodes base64url data with or without padding. Gmail
// omits padding on raw message bodies but other tooling may include it.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// BatchDelete permanently deletes up to MaxBatchIDs messages.
func (c *Client) BatchDelete(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > MaxBatchIDs {
		return fmt.Errorf("batch delete limited to %d messages, got %d", MaxBatchIDs, len(messageIDs))
	}

	body := struct {
		IDs []string `json:"ids"`
	}{IDs: messageIDs}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchDelete", c.userID)
	_, err = c.request(ctx, OpMessagesBatchDelete, "POST", path, bodyBytes)
	return err
}

// BatchModify adds and removes labels on up to MaxBatchIDs messages.
func (c *Client) BatchModify(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > MaxBatchIDs {
		return fmt.Errorf("batch modify limited to %d messages, got %d", MaxBatchIDs, len(messageIDs))
	}
	if len(addLabelIDs) == 0 && len(removeLabelIDs) == 0 {
		return fmt.Errorf("batch modify requires at least one label change")
	}

	body := struct {
		IDs            []string `json:"ids"`
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{IDs: messageIDs, AddLabelIDs: addLabelIDs, RemoveLabelIDs: removeLabelIDs}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchModify", c.userID)
	_, err = c.request(ctx, OpMessagesBatchModify, "POST", path, bodyBytes)
	return err
}

// CreateFilter installs a server-side filter and returns it with its ID.
func (c *Client) CreateFilter(ctx context.Context, filter *Filter) (*Filter, error) {
	body := filterJSON{
		Criteria: filterCriteriaJSON{
			From:    filter.Criteria.From,
			To:      filter.Criteria.To,
			Subject: filter.Criteria.Subject,
			Query:   filter.Criteria.Query,
		},
		Action: filterActionJSON{
			AddLabelIDs:    filter.Action.AddLabelIDs,
			RemoveLabelIDs: filter.Action.RemoveLabelIDs,
			Forward:        filter.Action.Forward,
		},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/settings/filters", c.userID)
	data, err := c.request(ctx, OpFiltersCreate, "POST", path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp filterJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}

	return &Filter{
		ID: resp.ID,
		Criteria: FilterCriteria{
			From:    resp.Criteria.From,
			To:      resp.Criteria.To,
			Subject: resp.Criteria.Subject,
			Query:   resp.Criteria.Query,
		},
		Action: FilterAction{
			AddLabelIDs:    resp.Action.AddLabelIDs,
			RemoveLabelIDs: resp.Action.RemoveLabelIDs,
			Forward:        resp.Action.Forward,
		},
	}, nil
}

// SendMessage sends a raw RFC 822 message and returns its assigned ID.
func (c *Client) SendMessage(ctx context.Context, raw []byte) (string, error) {
	body := struct {
		Raw string `json:"raw"`
	}{Raw: base64.RawURLEncoding.EncodeToString(raw)}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	data, err := c.request(ctx, OpMessagesSend, "POST", path, bodyBytes)
	if err != nil {
		return "", err
	}

	var resp gmailMessageRef
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse send response: %w", err)
	}
	return resp.ID, nil
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
