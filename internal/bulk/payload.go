package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/unsub"
)

// AnalyzePayload configures a mailbox analysis scan.
type AnalyzePayload struct {
	// Query narrows the scan. Empty means the inbox.
	Query string `json:"query,omitempty"`
	// MaxMessages caps how many messages are sampled. 0 scans everything
	// the query matches.
	MaxMessages int64 `json:"max_messages,omitempty"`
}

// ExceptionRules lists the messages a deleteWithExceptions job must
// keep. Each rule compiles into a query negation.
type ExceptionRules struct {
	KeepStarred       bool `json:"keep_starred,omitempty"`
	KeepUnread        bool `json:"keep_unread,omitempty"`
	KeepAttachments   bool `json:"keep_attachments,omitempty"`
	KeepNewerThanDays int  `json:"keep_newer_than_days,omitempty"`
}

// DeletePayload targets the delete family at a list of senders.
// Exceptions must be nil for plain delete jobs and set for
// deleteWithExceptions jobs.
type DeletePayload struct {
	Senders    []string        `json:"senders"`
	Exceptions *ExceptionRules `json:"exceptions,omitempty"`
	// ExpectedTotal seeds the progress denominator when the caller
	// already knows the message counts from a prior analysis.
	ExpectedTotal int64 `json:"expected_total,omitempty"`
}

// UnsubscribePayload names a sender and optionally the method to use.
// With no method given the executor falls back to the stored sender
// record and then to a content scan of a recent message.
type UnsubscribePayload struct {
	Sender      string `json:"sender"`
	URL         string `json:"url,omitempty"`
	MailTo      string `json:"mailto,omitempty"`
	MailSubject string `json:"mail_subject,omitempty"`
	OneClick    bool   `json:"one_click,omitempty"`
}

func (p UnsubscribePayload) method() unsub.Method {
	return unsub.Method{
		URL:         p.URL,
		MailTo:      p.MailTo,
		MailSubject: p.MailSubject,
		OneClick:    p.OneClick,
	}
}

// MarkReadPayload targets markRead at a list of senders.
type MarkReadPayload struct {
	Senders       []string `json:"senders"`
	ExpectedTotal int64    `json:"expected_total,omitempty"`
}

// ApplyLabelPayload labels every message from the given senders,
// creating the label when it does not exist yet.
type ApplyLabelPayload struct {
	Senders       []string `json:"senders"`
	LabelName     string   `json:"label_name"`
	ExpectedTotal int64    `json:"expected_total,omitempty"`
}

// ModifyLabelPayload adds and removes label IDs on every message from
// the given senders.
type ModifyLabelPayload struct {
	Senders        []string `json:"senders"`
	AddLabelIDs    []string `json:"add_label_ids,omitempty"`
	RemoveLabelIDs []string `json:"remove_label_ids,omitempty"`
	ExpectedTotal  int64    `json:"expected_total,omitempty"`
}

// CreateFilterPayload installs server-side filters: one per sender when
// Senders is set, otherwise a single filter from From/Query.
type CreateFilterPayload struct {
	Senders        []string `json:"senders,omitempty"`
	From           string   `json:"from,omitempty"`
	Query          string   `json:"query,omitempty"`
	AddLabelIDs    []string `json:"add_label_ids,omitempty"`
	RemoveLabelIDs []string `json:"remove_label_ids,omitempty"`
}

// ParsePayload decodes the JSON payload for a job type into its typed
// payload struct. Unknown fields are rejected so a mistyped field fails
// at enqueue rather than silently losing an exception rule.
func ParsePayload(t queue.Type, data []byte) (any, error) {
	switch t {
	case queue.TypeAnalyze:
		return decodePayload[AnalyzePayload](data)
	case queue.TypeDelete, queue.TypeDeleteWithExceptions:
		return decodePayload[DeletePayload](data)
	case queue.TypeUnsubscribe:
		return decodePayload[UnsubscribePayload](data)
	case queue.TypeMarkRead:
		return decodePayload[MarkReadPayload](data)
	case queue.TypeApplyLabel:
		return decodePayload[ApplyLabelPayload](data)
	case queue.TypeModifyLabel:
		return decodePayload[ModifyLabelPayload](data)
	case queue.TypeCreateFilter:
		return decodePayload[CreateFilterPayload](data)
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

func decodePayload[T any](data []byte) (T, error) {
	var p T
	if len(data) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
