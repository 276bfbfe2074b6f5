package aggregate

import (
	"sort"
	"sync"

	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/textutil"
)

// Run accumulates sender records over the pages of one analysis. Pages
// are replay-guarded by the token they were requested with, so a page
// refetched after a retry merges exactly once and counts stay honest.
type Run struct {
	mu      sync.Mutex
	records map[string]*SenderRecord
	seen    map[string]bool // page tokens already merged
}

// NewRun creates an empty aggregation run.
func NewRun() *Run {
	return &Run{
		records: make(map[string]*SenderRecord),
		seen:    make(map[string]bool),
	}
}

// MergePage parses and merges one page of metadata. pageToken is the
// token the page was requested with, empty for the first page. Returns
// false when this page was already merged.
func (r *Run) MergePage(pageToken string, metas []*gmail.MessageMeta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[pageToken] {
		return false
	}
	r.seen[pageToken] = true

	Merge(r.records, ParseMessages(metas))
	return true
}

// Len returns the number of distinct senders observed.
func (r *Run) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Sender returns a copy of one sender's record. The address is
// normalized before lookup.
func (r *Run) Sender(address string) (*SenderRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[textutil.NormalizeAddress(address)]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Senders returns a snapshot of all records, sorted by message count
// descending with ties broken by address.
func (r *Run) Senders() []*SenderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*SenderRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// SetEnrichedURL installs a content-scanned unsubscribe URL on a sender.
// The first write wins; later calls and calls for unknown senders report
// false.
func (r *Run) SetEnrichedURL(address, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[textutil.NormalizeAddress(address)]
	if !ok || url == "" || rec.Unsubscribe.EnrichedURL != "" {
		return false
	}
	rec.Unsubscribe.EnrichedURL = url
	return true
}
