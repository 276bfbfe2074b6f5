// Package queue schedules bulk mailbox jobs, running at most one at a
// time in FIFO order.
//
// The pump pauses, without failing the candidate job, when the
// credential gate reports no usable credential, and resumes on
// NotifyAuthorized. A running job that hits an authorization error goes
// back to queued the same way. Each job context derives from the
// queue's base context, so closing the queue cancels the running job
// through the same channel an explicit Cancel does.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailsweep/mailsweep/internal/events"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/keepalive"
	"github.com/mailsweep/mailsweep/internal/oauth"
)

// ErrUnknownJob is returned for operations on a job ID the queue does
// not track.
var ErrUnknownJob = errors.New("unknown job")

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// CredentialGate is consulted before a job starts. A nil gate means
// jobs always start.
type CredentialGate interface {
	// EnsureFresh refreshes the credential if it is near expiry and
	// reports an error when no usable credential exists.
	EnsureFresh(ctx context.Context) error
}

// ActionLog persists job history. Failures are logged and never fail
// the job.
type ActionLog interface {
	RecordJob(jobID, account, jobType string) error
	UpdateJobStatus(jobID, status string) error
	UpdateJobProgress(jobID string, current, total int64) error
	CompleteJob(jobID, status, errMsg string) error
}

// Queue runs bulk jobs one at a time.
type Queue struct {
	registry *Registry
	gate     CredentialGate
	log      ActionLog
	bus      *events.Bus
	keeper   keepalive.Keeper
	logger   *slog.Logger
	account  string

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu            sync.Mutex
	jobs          map[string]*job
	order         []string // job IDs in enqueue order
	running       string   // ID of the running job, "" if none
	paused        bool     // waiting for reauthorization
	authSignalled bool     // one-shot signal raised for this pause
	closed        bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithGate sets the credential gate consulted before each job.
func WithGate(gate CredentialGate) Option {
	return func(q *Queue) { q.gate = gate }
}

// WithActionLog sets the job history sink.
func WithActionLog(log ActionLog) Option {
	return func(q *Queue) { q.log = log }
}

// WithBus sets the event bus. By default the queue creates its own.
func WithBus(bus *events.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithKeeper sets the keep-alive keeper held while a job runs.
func WithKeeper(k keepalive.Keeper) Option {
	return func(q *Queue) { q.keeper = k }
}

// WithAccount sets the account recorded in the action log.
func WithAccount(account string) Option {
	return func(q *Queue) { q.account = account }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New creates a Queue dispatching to the given registry. Call Start to
// begin processing.
func New(registry *Registry, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		registry:   registry,
		bus:        events.New(),
		keeper:     keepalive.Noop{},
		logger:     slog.Default(),
		baseCtx:    ctx,
		cancelBase: cancel,
		jobs:       make(map[string]*job),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Bus returns the event bus status and reauthorization notifications are
// published on.
func (q *Queue) Bus() *events.Bus {
	return q.bus
}

// Start launches the pump goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.pump()
	q.wakePump()
}

// Close stops the pump and cancels the running job through the base
// context. Queued jobs are left queued. Close blocks until the pump has
// exited.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancelBase()
	q.wg.Wait()
}

// Enqueue adds a job in queued state and returns its ID. It never
// blocks on the pump.
func (q *Queue) Enqueue(t Type, payload any) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}

	j := &job{
		id:        uuid.NewString(),
		typ:       t,
		payload:   payload,
		status:    StatusQueued,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	j.ctx, j.cancel = context.WithCancel(q.baseCtx)
	// The log row must exist before the pump can see the job, so the
	// record happens inside the critical section.
	if q.log != nil {
		if err := q.log.RecordJob(j.id, q.account, string(t)); err != nil {
			q.logger.Warn("record job failed", "job_id", j.id, "error", err)
		}
	}
	q.jobs[j.id] = j
	q.order = append(q.order, j.id)
	q.mu.Unlock()

	q.publishStatus(j.id)
	q.logger.Info("job enqueued", "job_id", j.id, "type", t)
	q.wakePump()

	return j.id, nil
}

// Cancel requests cancellation of a job. A queued job transitions to
// cancelled directly; a running job is cancelled through its context and
// reaches the terminal state at the executor's next checkpoint.
// Cancelling a terminal job is a no-op.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	if j.status == StatusRunning {
		q.mu.Unlock()
		j.cancel()
		return nil
	}

	won := q.terminateLocked(j, StatusCancelled, "", 0)
	q.mu.Unlock()
	if won {
		q.reportFinished(j, StatusCancelled, "", 0)
	}
	return nil
}

// Job returns a snapshot of the job with the given ID.
func (q *Queue) Job(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return j.snapshot(), nil
}

// Jobs returns snapshots of every tracked job in enqueue order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		jobs = append(jobs, q.jobs[id].snapshot())
	}
	return jobs
}

// Await blocks until the job reaches a terminal status or ctx is done,
// and returns the final snapshot.
func (q *Queue) Await(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	select {
	case <-j.done:
		return q.Job(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// ClearCompleted drops terminal jobs from the queue's memory and
// returns how many were dropped. Action-log rows are untouched.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept []string
	dropped := 0
	for _, id := range q.order {
		if q.jobs[id].status.Terminal() {
			delete(q.jobs, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return dropped
}

// AuthPending reports whether the queue is paused waiting for
// reauthorization.
func (q *Queue) AuthPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// NotifyAuthorized clears the reauthorization pause and re-enters the
// pump. Call it after the credential gate has a usable credential
// again.
func (q *Queue) NotifyAuthorized() {
	q.mu.Lock()
	q.paused = false
	q.authSignalled = false
	q.mu.Unlock()
	q.wakePump()
}

func (q *Queue) wakePump() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pump() {
	defer q.wg.Done()
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case <-q.wake:
		}

		for {
			if q.baseCtx.Err() != nil {
				return
			}
			j := q.nextQueued()
			if j == nil {
				break
			}
			if !q.gateUsable() {
				q.pauseForAuth(j)
				break
			}
			q.run(j)
		}
	}
}

// nextQueued returns the oldest queued job, or nil when nothing is
// eligible to start.
func (q *Queue) nextQueued() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running != "" || q.paused || q.closed {
		return nil
	}
	for _, id := range q.order {
		if j := q.jobs[id]; j.status == StatusQueued {
			return j
		}
	}
	return nil
}

func (q *Queue) gateUsable() bool {
	if q.gate == nil {
		return true
	}
	if err := q.gate.EnsureFresh(q.baseCtx); err != nil {
		q.logger.Warn("credential gate unusable", "error", err)
		return false
	}
	return true
}

// pauseForAuth leaves the candidate job queued and raises the one-shot
// reauthorization signal.
func (q *Queue) pauseForAuth(j *job) {
	q.mu.Lock()
	q.paused = true
	signalled := q.authSignalled
	q.authSignalled = true
	q.mu.Unlock()

	if !signalled {
		q.bus.Publish(events.Event{Kind: events.AuthRequired, JobID: j.id})
		q.logger.Info("queue paused for reauthorization", "job_id", j.id)
	}
}

func (q *Queue) run(j *job) {
	ex, ok := q.registry.Lookup(j.typ)
	if !ok {
		q.finalize(j, StatusError, fmt.Sprintf("no executor registered for job type %q", j.typ), 0)
		return
	}

	if !q.start(j) {
		return
	}
	res, err := q.invoke(ex, j)

	switch {
	case err == nil:
		q.finalize(j, StatusSuccess, "", res.Processed)
	case j.ctx.Err() != nil, errors.Is(err, context.Canceled):
		q.finalize(j, StatusCancelled, "", res.Processed)
	case errors.Is(err, oauth.ErrReauthRequired), errors.Is(err, gmail.ErrUnauthorized):
		q.requeueForAuth(j, err)
	default:
		q.finalize(j, StatusError, err.Error(), res.Processed)
	}
}

// start claims the job for execution. It reports false when the job was
// cancelled between selection and the claim.
func (q *Queue) start(j *job) bool {
	q.mu.Lock()
	if j.status != StatusQueued {
		q.mu.Unlock()
		return false
	}
	j.status = StatusRunning
	j.startedAt = time.Now()
	j.current, j.total = 0, 0
	q.running = j.id
	q.mu.Unlock()

	if q.log != nil {
		if err := q.log.UpdateJobStatus(j.id, string(StatusRunning)); err != nil {
			q.logger.Warn("update job status failed", "job_id", j.id, "error", err)
		}
	}
	q.publishStatus(j.id)
	q.logger.Info("job started", "job_id", j.id, "type", j.typ)
	return true
}

// invoke runs the executor with the keep-alive held and panics
// converted to errors, so a misbehaving executor cannot take the pump
// down.
func (q *Queue) invoke(ex Executor, j *job) (res Result, err error) {
	hold := q.keeper.Acquire(string(j.typ) + " job")
	defer hold.Release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex(j.ctx, j.payload, q.progressFunc(j))
}

// progressFunc clamps current to be monotonically non-decreasing for
// the duration of one run and checkpoints it to the action log.
func (q *Queue) progressFunc(j *job) ProgressFunc {
	return func(current, total int64) {
		q.mu.Lock()
		if current < j.current {
			current = j.current
		}
		j.current = current
		j.total = total
		q.mu.Unlock()

		if q.log != nil {
			if err := q.log.UpdateJobProgress(j.id, current, total); err != nil {
				q.logger.Warn("update job progress failed", "job_id", j.id, "error", err)
			}
		}
	}
}

// requeueForAuth puts a running job back in queued state and pauses the
// pump. The job keeps its identity and its place in FIFO order.
func (q *Queue) requeueForAuth(j *job, cause error) {
	q.mu.Lock()
	j.status = StatusQueued
	if q.running == j.id {
		q.running = ""
	}
	q.mu.Unlock()

	if q.log != nil {
		if err := q.log.UpdateJobStatus(j.id, string(StatusQueued)); err != nil {
			q.logger.Warn("update job status failed", "job_id", j.id, "error", err)
		}
	}
	q.publishStatus(j.id)
	q.logger.Info("job requeued pending reauthorization", "job_id", j.id, "error", cause)
	q.pauseForAuth(j)
}

// finalize performs the single terminal transition for a job.
func (q *Queue) finalize(j *job, status Status, errMsg string, processed int64) {
	q.mu.Lock()
	won := q.terminateLocked(j, status, errMsg, processed)
	q.mu.Unlock()
	if won {
		q.reportFinished(j, status, errMsg, processed)
	}
}

// terminateLocked applies the terminal transition. The caller holds
// q.mu. It reports false when the job already reached a terminal
// status; only one caller ever wins.
func (q *Queue) terminateLocked(j *job, status Status, errMsg string, processed int64) bool {
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.errMsg = errMsg
	j.processed = processed
	j.finishedAt = time.Now()
	if q.running == j.id {
		q.running = ""
	}
	j.cancel()
	close(j.done)
	return true
}

func (q *Queue) reportFinished(j *job, status Status, errMsg string, processed int64) {
	if q.log != nil {
		if err := q.log.CompleteJob(j.id, string(status), errMsg); err != nil {
			q.logger.Warn("complete job failed", "job_id", j.id, "error", err)
		}
	}
	q.publishStatus(j.id)
	q.logger.Info("job finished",
		"job_id", j.id,
		"type", j.typ,
		"status", status,
		"processed", processed)
}

func (q *Queue) publishStatus(jobID string) {
	q.bus.Publish(events.Event{Kind: events.StatusChanged, JobID: jobID})
}
