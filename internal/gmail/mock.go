package gmail

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ModifyCall records one BatchModify invocation.
type ModifyCall struct {
	IDs            []string
	AddLabelIDs    []string
	RemoveLabelIDs []string
}

// MockAPI is a mock implementation of the Gmail API for testing. It is
// stateful: batch deletes remove messages from the mock mailbox and batch
// modifies rewrite their labels, so follow-up reads observe the writes.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Labels to return
	Labels []*Label

	// Metadata indexed by message ID
	Metadata map[string]*MessageMeta

	// Raw message bodies indexed by message ID
	RawMessages map[string][]byte

	// Message list pages - each page is a list of message IDs
	Pages [][]string

	// Error injection
	ProfileError      error
	LabelsError       error
	ListError         error
	MetaErrors        map[string]error // Per-message errors
	RawErrors         map[string]error // Per-message errors for GetRaw
	BatchDeleteError  error
	BatchModifyError  error
	CreateLabelError  error
	CreateFilterError error
	SendError         error

	// Hooks for custom behavior
	BeforeList        func(pageToken string) error
	BeforeBatchDelete func(messageIDs []string) error
	BeforeBatchModify func(messageIDs []string) error

	// Call tracking for assertions
	ProfileCalls      int
	LabelsCalls       int
	ListCalls         int
	LastQuery         string // Last query passed to ListMessageIDs
	MetaCalls         []string
	RawCalls          []string
	BatchDeleteCalls  [][]string
	BatchModifyCalls  []ModifyCall
	CreateLabelCalls  []string
	CreateFilterCalls []*Filter
	SendCalls         [][]byte
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Metadata:    make(map[string]*MessageMeta),
		RawMessages: make(map[string][]byte),
		MetaErrors:  make(map[string]error),
		RawErrors:   make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Metadata)),
		}, nil
	}
	return m.Profile, nil
}

// ListLabels returns the mock labels.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "UNREAD", Name: "UNREAD", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// CreateLabel appends a user label. Duplicate names get a 409 like the
// real API.
func (m *MockAPI) CreateLabel(ctx context.Context, name string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateLabelCalls = append(m.CreateLabelCalls, name)

	if m.CreateLabelError != nil {
		return nil, m.CreateLabelError
	}
	for _, l := range m.Labels {
		if l.Name == name {
			return nil, newRequestError(http.StatusConflict, "/labels", []byte("Label name exists or conflicts"))
		}
	}
	label := &Label{
		ID:   fmt.Sprintf("Label_%d", len(m.Labels)+1),
		Name: name,
		Type: "user",
	}
	m.Labels = append(m.Labels, label)
	return label, nil
}

// ListMessageIDs returns mock message IDs with pagination.
func (m *MockAPI) ListMessageIDs(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	m.LastQuery = query

	if m.BeforeList != nil {
		if err := m.BeforeList(pageToken); err != nil {
			return nil, err
		}
	}
	if m.ListError != nil {
		return nil, m.ListError
	}

	// Determine which page to return
	pageNum := 0
	if pageToken != "" {
		_, err := fmt.Sscanf(pageToken, "page_%d", &pageNum)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}

	if len(m.Pages) == 0 {
		// No pages configured: serve from Metadata, filtered by the
		// query and paginated by maxResults.
		ids := make([]string, 0, len(m.Metadata))
		for id, meta := range m.Metadata {
			if matchQuery(meta, query) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)

		start := 0
		if pageToken != "" {
			if _, err := fmt.Sscanf(pageToken, "offset_%d", &start); err != nil {
				return nil, fmt.Errorf("invalid page token: %s", pageToken)
			}
		}
		if start > len(ids) {
			start = len(ids)
		}
		end := len(ids)
		if maxResults > 0 && start+maxResults < end {
			end = start + maxResults
		}
		var next string
		if end < len(ids) {
			next = fmt.Sprintf("offset_%d", end)
		}
		return &MessageListPage{
			IDs:                ids[start:end],
			NextPageToken:      next,
			ResultSizeEstimate: int64(len(ids)),
		}, nil
	}

	if pageNum >= len(m.Pages) {
		return &MessageListPage{}, nil
	}

	page := append([]string(nil), m.Pages[pageNum]...)

	var nextPageToken string
	if pageNum+1 < len(m.Pages) {
		nextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.Pages {
		total += int64(len(p))
	}

	return &MessageListPage{
		IDs:                page,
		NextPageToken:      nextPageToken,
		ResultSizeEstimate: total,
	}, nil
}

// matchQuery implements the few Gmail search atoms the tests rely on:
// "from:<substr>", "is:unread", "is:starred", "label:<id>", and their
// "-" negations. Unsupported atoms match everything.
func matchQuery(meta *MessageMeta, query string) bool {
	for _, term := range strings.Fields(query) {
		neg := strings.HasPrefix(term, "-")
		t := strings.TrimPrefix(term, "-")
		var ok bool
		switch {
		case strings.HasPrefix(t, "from:"):
			from := strings.ToLower(meta.Header("From"))
			ok = strings.Contains(from, strings.ToLower(strings.TrimPrefix(t, "from:")))
		case t == "is:unread":
			ok = meta.HasLabel("UNREAD")
		case t == "is:starred":
			ok = meta.HasLabel("STARRED")
		case strings.HasPrefix(t, "label:"):
			ok = meta.HasLabel(strings.TrimPrefix(t, "label:"))
		default:
			continue
		}
		if ok == neg {
			return false
		}
	}
	return true
}

// GetMetadata returns mock metadata for one message.
func (m *MockAPI) GetMetadata(ctx context.Context, messageID string) (*MessageMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getMetadataLocked(messageID)
}

func (m *MockAPI) getMetadataLocked(messageID string) (*MessageMeta, error) {
	m.MetaCalls = append(m.MetaCalls, messageID)

	if err, ok := m.MetaErrors[messageID]; ok && err != nil {
		return nil, err
	}

	meta, ok := m.Metadata[messageID]
	if !ok {
		return nil, newRequestError(http.StatusNotFound, "/messages/"+messageID, []byte("Not Found"))
	}
	return meta, nil
}

// GetMetadataBatch fetches metadata for multiple messages.
// Mirrors the real Client behavior: individual fetch errors leave a nil
// entry in the results slice rather than failing the batch. Callers must
// handle nil entries.
func (m *MockAPI) GetMetadataBatch(ctx context.Context, messageIDs []string) ([]*MessageMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]*MessageMeta, len(messageIDs))
	for i, id := range messageIDs {
		meta, err := m.getMetadataLocked(id)
		if err != nil {
			continue
		}
		results[i] = meta
	}
	return results, nil
}

// GetRaw returns the raw bytes of a message in the mock mailbox.
func (m *MockAPI) GetRaw(ctx context.Context, messageID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RawCalls = append(m.RawCalls, messageID)

	if err, ok := m.RawErrors[messageID]; ok && err != nil {
		return nil, err
	}

	raw, ok := m.RawMessages[messageID]
	if !ok {
		return nil, newRequestError(http.StatusNotFound, "/messages/"+messageID, []byte("Not Found"))
	}
	return raw, nil
}

// BatchDelete removes the messages from the mock mailbox.
func (m *MockAPI) BatchDelete(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) > MaxBatchIDs {
		return fmt.Errorf("batch delete limited to %d messages, got %d", MaxBatchIDs, len(messageIDs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeforeBatchDelete != nil {
		if err := m.BeforeBatchDelete(messageIDs); err != nil {
			return err
		}
	}

	m.BatchDeleteCalls = append(m.BatchDeleteCalls, messageIDs)

	if m.BatchDeleteError != nil {
		return m.BatchDeleteError
	}

	deleted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		deleted[id] = true
		delete(m.Metadata, id)
		delete(m.RawMessages, id)
	}
	for i, page := range m.Pages {
		kept := page[:0]
		for _, id := range page {
			if !deleted[id] {
				kept = append(kept, id)
			}
		}
		m.Pages[i] = kept
	}
	return nil
}

// BatchModify rewrites labels on the messages in the mock mailbox.
func (m *MockAPI) BatchModify(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error {
	if len(messageIDs) > MaxBatchIDs {
		return fmt.Errorf("batch modify limited to %d messages, got %d", MaxBatchIDs, len(messageIDs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeforeBatchModify != nil {
		if err := m.BeforeBatchModify(messageIDs); err != nil {
			return err
		}
	}

	m.BatchModifyCalls = append(m.BatchModifyCalls, ModifyCall{
		IDs:            messageIDs,
		AddLabelIDs:    addLabelIDs,
		RemoveLabelIDs: removeLabelIDs,
	})

	if m.BatchModifyError != nil {
		return m.BatchModifyError
	}

	remove := make(map[string]bool, len(removeLabelIDs))
	for _, id := range removeLabelIDs {
		remove[id] = true
	}
	for _, msgID := range messageIDs {
		meta, ok := m.Metadata[msgID]
		if !ok {
			continue
		}
		labels := meta.LabelIDs[:0:0]
		for _, l := range meta.LabelIDs {
			if !remove[l] {
				labels = append(labels, l)
			}
		}
		for _, add := range addLabelIDs {
			found := false
			for _, l := range labels {
				if l == add {
					found = true
					break
				}
			}
			if !found {
				labels = append(labels, add)
			}
		}
		meta.LabelIDs = labels
	}
	return nil
}

// CreateFilter records a filter and assigns it an ID.
func (m *MockAPI) CreateFilter(ctx context.Context, filter *Filter) (*Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateFilterError != nil {
		return nil, m.CreateFilterError
	}

	created := &Filter{
		ID:       fmt.Sprintf("filter_%d", len(m.CreateFilterCalls)+1),
		Criteria: filter.Criteria,
		Action:   filter.Action,
	}
	m.CreateFilterCalls = append(m.CreateFilterCalls, created)
	return created, nil
}

// SendMessage records an outgoing raw message.
func (m *MockAPI) SendMessage(ctx context.Context, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendError != nil {
		return "", m.SendError
	}

	m.SendCalls = append(m.SendCalls, raw)
	return fmt.Sprintf("sent_%d", len(m.SendCalls)), nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// AddMessage adds a message to the mock mailbox and returns its metadata
// so tests can adjust headers or labels.
func (m *MockAPI) AddMessage(id, from, subject string) *MessageMeta {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := &MessageMeta{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     []string{"INBOX", "UNREAD"},
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
		SizeEstimate: 2048,
		Headers: map[string]string{
			"From":    from,
			"Subject": subject,
		},
	}
	m.Metadata[id] = meta
	return meta
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Metadata = make(map[string]*MessageMeta)
	m.RawMessages = make(map[string][]byte)
	m.Pages = nil
	m.Labels = nil
	m.MetaErrors = make(map[string]error)
	m.RawErrors = make(map[string]error)

	m.ProfileError = nil
	m.LabelsError = nil
	m.ListError = nil
	m.BatchDeleteError = nil
	m.BatchModifyError = nil
	m.CreateLabelError = nil
	m.CreateFilterError = nil
	m.SendError = nil

	m.BeforeList = nil
	m.BeforeBatchDelete = nil
	m.BeforeBatchModify = nil

	m.ProfileCalls = 0
	m.LabelsCalls = 0
	m.ListCalls = 0
	m.LastQuery = ""
	m.MetaCalls = nil
	m.RawCalls = nil
	m.BatchDeleteCalls = nil
	m.BatchModifyCalls = nil
	m.CreateLabelCalls = nil
	m.CreateFilterCalls = nil
	m.SendCalls = nil
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
