// Package aggregate builds per-sender summaries from message metadata.
//
// Records merge under one rule set: counts accumulate, the newest
// observation wins the display name and the header-derived unsubscribe
// fields, and enriched fields are write-once. The write-once rule is what
// lets the content-scan enrichment path run out of band while an analysis
// is still merging pages.
package aggregate

import (
	"time"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/textutil"
	"github.com/mailsweep/mailsweep/internal/unsub"
)

// UnsubscribeMethod describes how to unsubscribe from a sender. The
// header-derived fields (URL, MailTo, MailSubject, OneClick) are replaced
// as a unit whenever a newer message is observed. EnrichedURL comes from
// the out-of-band content scan and is write-once: merges copy it forward
// and never overwrite it.
type UnsubscribeMethod struct {
	URL         string
	MailTo      string
	MailSubject string
	OneClick    bool
	EnrichedURL string
}

// Method returns the executable unsubscribe method, preferring the
// header-advertised channels and falling back to the enriched URL.
func (u UnsubscribeMethod) Method() unsub.Method {
	m := unsub.Method{
		URL:         u.URL,
		MailTo:      u.MailTo,
		MailSubject: u.MailSubject,
		OneClick:    u.OneClick,
	}
	if m.IsZero() && u.EnrichedURL != "" {
		m.URL = u.EnrichedURL
	}
	return m
}

// HasAny reports whether any unsubscribe channel is known.
func (u UnsubscribeMethod) HasAny() bool {
	return u.URL != "" || u.MailTo != "" || u.EnrichedURL != ""
}

// SenderRecord accumulates everything known about one sender address.
type SenderRecord struct {
	Address      string
	DisplayName  string
	NameVariants []string // other display names this address has used
	Count        int
	UnreadCount  int
	HasUnread    bool
	LastSeen     time.Time
	Unsubscribe  UnsubscribeMethod
}

// Clone returns a deep copy of the record.
func (r *SenderRecord) Clone() *SenderRecord {
	c := *r
	c.NameVariants = append([]string(nil), r.NameVariants...)
	return &c
}

func (r *SenderRecord) noteNameVariant(name string) {
	if name == "" || name == r.DisplayName {
		return
	}
	for _, v := range r.NameVariants {
		if v == name {
			return
		}
	}
	r.NameVariants = append(r.NameVariants, name)
}

func (r *SenderRecord) dropNameVariant(name string) {
	for i, v := range r.NameVariants {
		if v == name {
			r.NameVariants = append(r.NameVariants[:i], r.NameVariants[i+1:]...)
			return
		}
	}
}

// ParseMessages folds a page of message metadata into per-sender records.
// Messages without a parseable From address are skipped, as are nil slots
// left by partial batch failures.
func ParseMessages(metas []*gmail.MessageMeta) map[string]*SenderRecord {
	records := make(map[string]*SenderRecord)
	for _, meta := range metas {
		if meta == nil {
			continue
		}
		rec := recordFromMeta(meta)
		if rec == nil {
			continue
		}
		if existing, ok := records[rec.Address]; ok {
			mergeRecord(existing, rec)
		} else {
			records[rec.Address] = rec
		}
	}
	return records
}

// recordFromMeta builds a single-message record, or nil when the message
// has no usable sender address.
func recordFromMeta(meta *gmail.MessageMeta) *SenderRecord {
	from := textutil.DecodeHeader(meta.Header("From"))
	name, addr := textutil.ParseAddress(from)
	addr = textutil.NormalizeAddress(addr)
	if addr == "" {
		return nil
	}

	rec := &SenderRecord{
		Address:     addr,
		DisplayName: name,
		Count:       1,
	}
	if meta.InternalDate > 0 {
		rec.LastSeen = time.UnixMilli(meta.InternalDate).UTC()
	}
	if meta.HasLabel("UNREAD") {
		rec.UnreadCount = 1
		rec.HasUnread = true
	}

	method := unsub.ParseListUnsubscribe(
		meta.Header("List-Unsubscribe"),
		meta.Header("List-Unsubscribe-Post"),
	)
	rec.Unsubscribe = UnsubscribeMethod{
		URL:         method.URL,
		MailTo:      method.MailTo,
		MailSubject: method.MailSubject,
		OneClick:    method.OneClick,
	}
	return rec
}

// Merge folds a batch of parsed records into the existing map and returns
// the updated map. New senders are inserted as copies; known senders
// accumulate. Merging the same batch twice double-counts; replay
// protection is the caller's job (see Run).
func Merge(existing, batch map[string]*SenderRecord) map[string]*SenderRecord {
	if existing == nil {
		existing = make(map[string]*SenderRecord, len(batch))
	}
	for addr, rec := range batch {
		if current, ok := existing[addr]; ok {
			mergeRecord(current, rec)
		} else {
			existing[addr] = rec.Clone()
		}
	}
	return existing
}

// mergeRecord folds a new observation into an accumulated record.
func mergeRecord(into, from *SenderRecord) {
	into.Count += from.Count
	into.UnreadCount += from.UnreadCount
	into.HasUnread = into.HasUnread || from.HasUnread

	newer := from.LastSeen.After(into.LastSeen)
	if newer {
		into.LastSeen = from.LastSeen
		replaceHeaderFields(&into.Unsubscribe, from.Unsubscribe)
	}

	switch {
	case from.DisplayName == "" || from.DisplayName == into.DisplayName:
		// Nothing new to record.
	case into.DisplayName == "":
		into.DisplayName = from.DisplayName
		into.dropNameVariant(from.DisplayName)
	case newer:
		into.noteNameVariant(into.DisplayName)
		into.DisplayName = from.DisplayName
		into.dropNameVariant(from.DisplayName)
	default:
		into.noteNameVariant(from.DisplayName)
	}

	for _, v := range from.NameVariants {
		into.noteNameVariant(v)
	}

	// Write-once: an enriched URL survives every later merge.
	if into.Unsubscribe.EnrichedURL == "" {
		into.Unsubscribe.EnrichedURL = from.Unsubscribe.EnrichedURL
	}
}

// replaceHeaderFields overwrites the header-derived zone, leaving
// EnrichedURL untouched.
func replaceHeaderFields(into *UnsubscribeMethod, from UnsubscribeMethod) {
	into.URL = from.URL
	into.MailTo = from.MailTo
	into.MailSubject = from.MailSubject
	into.OneClick = from.OneClick
}
