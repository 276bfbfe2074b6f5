// Package gmail provides a Gmail API client with quota-aware rate limiting
// and retry logic for bulk mailbox operations.
package gmail

import (
	"context"
	"net/textproto"
)

// MaxBatchIDs is the server-side cap on IDs per batch write call.
const MaxBatchIDs = 1000

// MaxListPageSize is the server-side cap on results per list call.
const MaxListPageSize = 500

// AccountReader provides read access to account-level Gmail data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListLabels returns all labels for the account.
	ListLabels(ctx context.Context) ([]*Label, error)
}

// MetadataReader provides read access to message listings and header metadata.
type MetadataReader interface {
	// ListMessageIDs returns one page of message IDs matching the query.
	// maxResults is clamped to 1..MaxListPageSize. A non-empty NextPageToken
	// on the returned page means more results exist.
	ListMessageIDs(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error)

	// GetMetadata fetches the headers and label state of a single message.
	GetMetadata(ctx context.Context, messageID string) (*MessageMeta, error)

	// GetMetadataBatch fetches metadata for multiple messages in parallel.
	// Results are in input order. A failed fetch leaves a nil slot rather
	// than failing the batch, except for authorization errors and context
	// cancellation, which abort the whole call.
	GetMetadataBatch(ctx context.Context, messageIDs []string) ([]*MessageMeta, error)
}

// ContentReader fetches full message content. Used by the unsubscribe
// enrichment path, which scans bodies for links the headers do not carry.
type ContentReader interface {
	// GetRaw fetches the raw RFC 822 bytes of a single message.
	GetRaw(ctx context.Context, messageID string) ([]byte, error)
}

// MessageWriter provides bulk write operations on messages.
type MessageWriter interface {
	// BatchDelete permanently deletes up to MaxBatchIDs messages.
	BatchDelete(ctx context.Context, messageIDs []string) error

	// BatchModify adds and removes labels on up to MaxBatchIDs messages.
	BatchModify(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error
}

// LabelWriter creates labels.
type LabelWriter interface {
	// CreateLabel creates a user label and returns it.
	CreateLabel(ctx context.Context, name string) (*Label, error)
}

// FilterWriter creates server-side filters.
type FilterWriter interface {
	// CreateFilter installs a filter and returns it with its assigned ID.
	CreateFilter(ctx context.Context, filter *Filter) (*Filter, error)
}

// MessageSender sends messages. Used for mailto: unsubscribe requests.
type MessageSender interface {
	// SendMessage sends a raw RFC 822 message and returns its assigned ID.
	SendMessage(ctx context.Context, raw []byte) (string, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MetadataReader
	ContentReader
	MessageWriter
	LabelWriter
	FilterWriter
	MessageSender

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// Label represents a Gmail label.
type Label struct {
	ID             string
	Name           string
	Type           string // "system" or "user"
	MessagesTotal  int64
	MessagesUnread int64
}

// MessageListPage contains one page of message IDs.
type MessageListPage struct {
	IDs                []string
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageMeta contains the header metadata of a message, without its body.
type MessageMeta struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Headers      map[string]string // canonical MIME keys, first value per header
}

// Header returns the value of a header by name, or "" when absent.
// Lookup is case-insensitive.
func (m *MessageMeta) Header(name string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[textproto.CanonicalMIMEHeaderKey(name)]
}

// HasLabel reports whether the message currently carries the label ID.
func (m *MessageMeta) HasLabel(labelID string) bool {
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// Filter represents a server-side mail filter.
type Filter struct {
	ID       string
	Criteria FilterCriteria
	Action   FilterAction
}

// FilterCriteria selects the messages a filter applies to.
type FilterCriteria struct {
	From    string
	To      string
	Subject string
	Query   string
}

// FilterAction describes what a filter does to matching messages.
type FilterAction struct {
	AddLabelIDs    []string
	RemoveLabelIDs []string
	Forward        string
}
