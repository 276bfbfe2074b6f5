package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/queue"
)

// StatsResponse represents the database statistics.
type StatsResponse struct {
	TotalSenders int64 `json:"total_senders"`
	TotalJobs    int64 `json:"total_jobs"`
	DatabaseSize int64 `json:"database_size_bytes"`
}

// SenderInfo represents an analyzed sender in list responses.
type SenderInfo struct {
	Address        string   `json:"address"`
	DisplayName    string   `json:"display_name,omitempty"`
	NameVariants   []string `json:"name_variants,omitempty"`
	Count          int      `json:"count"`
	UnreadCount    int      `json:"unread_count"`
	HasUnread      bool     `json:"has_unread"`
	LastSeen       string   `json:"last_seen,omitempty"`
	CanUnsubscribe bool     `json:"can_unsubscribe"`
	OneClick       bool     `json:"one_click,omitempty"`
}

// SchedulesResponse represents recurring-analysis status.
type SchedulesResponse struct {
	Running   bool             `json:"running"`
	Schedules []ScheduleStatus `json:"schedules"`
}

// AuthStatusResponse reports whether the queue is paused for
// reauthorization.
type AuthStatusResponse struct {
	AuthPending bool `json:"auth_pending"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// handleStats returns database statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}

	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalSenders: stats.SenderCount,
		TotalJobs:    stats.JobCount,
		DatabaseSize: stats.DatabaseSize,
	})
}

// handleListJobs returns every tracked job in enqueue order.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	jobs := s.queue.Jobs()
	if jobs == nil {
		jobs = []queue.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(jobs),
		"jobs":  jobs,
	})
}

// enqueueRequest is the POST /jobs body.
type enqueueRequest struct {
	Type    queue.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleEnqueueJob validates and enqueues a new job.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a 'type' field")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_type", "Unknown job type: "+string(req.Type))
		return
	}

	payload, err := bulk.ParsePayload(req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	id, err := s.queue.Enqueue(req.Type, payload)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			writeError(w, http.StatusServiceUnavailable, "queue_closed", "Job queue is shutting down")
			return
		}
		s.logger.Error("failed to enqueue job", "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue job")
		return
	}

	s.logger.Info("job enqueued via API", "id", id, "type", req.Type)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(queue.StatusQueued),
	})
}

// handleGetJob returns a single job snapshot by ID.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	id := chi.URLParam(r, "id")
	job, err := s.queue.Job(id)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "not_found", "Job not found")
			return
		}
		s.logger.Error("failed to get job", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob requests cancellation of a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(id); err != nil {
		if errors.Is(err, queue.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "not_found", "Job not found")
			return
		}
		s.logger.Error("failed to cancel job", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to cancel job")
		return
	}

	s.logger.Info("job cancellation requested via API", "id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Cancellation requested for job " + id,
	})
}

// handleClearCompleted removes terminal jobs from the queue and prunes the
// persisted action log.
func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	cleared := s.queue.ClearCompleted()

	var deleted int64
	if s.store != nil {
		n, err := s.store.DeleteCompletedJobs()
		if err != nil {
			s.logger.Error("failed to prune action log", "error", err)
			writeError(w, http.StatusInternalServerError, "store_error", "Failed to prune job history")
			return
		}
		deleted = n
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"cleared": int64(cleared),
		"deleted": deleted,
	})
}

// handleListSenders returns the analyzed senders for an account.
func (s *Server) handleListSenders(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}

	account := r.URL.Query().Get("account")
	if account == "" {
		account = s.cfg.OAuth.Account
	}
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "No account configured; pass ?account= or set [oauth] account")
		return
	}

	records, err := s.store.ListSenders(account)
	if err != nil {
		s.logger.Error("failed to list senders", "account", account, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve senders")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	senders := make([]SenderInfo, len(records))
	for i, rec := range records {
		info := SenderInfo{
			Address:        rec.Address,
			DisplayName:    rec.DisplayName,
			NameVariants:   rec.NameVariants,
			Count:          rec.Count,
			UnreadCount:    rec.UnreadCount,
			HasUnread:      rec.HasUnread,
			CanUnsubscribe: rec.Unsubscribe.HasAny(),
			OneClick:       rec.Unsubscribe.OneClick,
		}
		if !rec.LastSeen.IsZero() {
			info.LastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
		}
		senders[i] = info
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"total":   len(senders),
		"senders": senders,
	})
}

// handleAuthStatus reports whether jobs are paused waiting for
// reauthorization.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue not available")
		return
	}

	writeJSON(w, http.StatusOK, AuthStatusResponse{
		AuthPending: s.queue.AuthPending(),
	})
}

// handleSchedules returns the recurring-analysis schedules.
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not available")
		return
	}

	statuses := s.scheduler.Status()
	if statuses == nil {
		statuses = []ScheduleStatus{}
	}

	writeJSON(w, http.StatusOK, SchedulesResponse{
		Running:   s.scheduler.IsRunning(),
		Schedules: statuses,
	})
}
