package queue

import (
	"context"
	"time"
)

// Type identifies a kind of bulk job. The set is closed: executors exist
// for exactly these types.
type Type string

const (
	TypeAnalyze              Type = "analyze"
	TypeDelete               Type = "delete"
	TypeDeleteWithExceptions Type = "deleteWithExceptions"
	TypeUnsubscribe          Type = "unsubscribe"
	TypeMarkRead             Type = "markRead"
	TypeApplyLabel           Type = "applyLabel"
	TypeModifyLabel          Type = "modifyLabel"
	TypeCreateFilter         Type = "createFilter"
)

// Types lists every job type.
var Types = []Type{
	TypeAnalyze,
	TypeDelete,
	TypeDeleteWithExceptions,
	TypeUnsubscribe,
	TypeMarkRead,
	TypeApplyLabel,
	TypeModifyLabel,
	TypeCreateFilter,
}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Job is a point-in-time snapshot of a tracked job.
type Job struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Status     Status     `json:"status"`
	Current    int64      `json:"current"`
	Total      int64      `json:"total"`
	Processed  int64      `json:"processed"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Percent returns the UI-facing completion percentage, capped at 100.
func (j Job) Percent() int {
	if j.Total <= 0 {
		return 0
	}
	pct := int(float64(j.Current)/float64(j.Total)*100 + 0.5)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// job is the queue's mutable record. All fields are guarded by the
// queue mutex except ctx, cancel, payload, and done, which are set once
// at enqueue.
type job struct {
	id      string
	typ     Type
	payload any

	status     Status
	current    int64
	total      int64
	processed  int64
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	errMsg     string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed on the terminal transition
}

func (j *job) snapshot() Job {
	snap := Job{
		ID:        j.id,
		Type:      j.typ,
		Status:    j.status,
		Current:   j.current,
		Total:     j.total,
		Processed: j.processed,
		CreatedAt: j.createdAt,
		Error:     j.errMsg,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		snap.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}
