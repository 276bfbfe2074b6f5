package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Action names the persisted category for an action-log row.
type Action string

const (
	ActionAnalyze              Action = "analyze"
	ActionDelete               Action = "delete"
	ActionDeleteWithExceptions Action = "delete_with_exceptions"
	ActionUnsubscribe          Action = "unsubscribe"
	ActionMarkRead             Action = "mark_read"
	ActionApplyLabel           Action = "apply_label"
	ActionModifyLabel          Action = "modify_label"
	ActionCreateFilter         Action = "create_filter"
)

// actionByJobType maps queue job type names to action-log categories.
var actionByJobType = map[string]Action{
	"analyze":              ActionAnalyze,
	"delete":               ActionDelete,
	"deleteWithExceptions": ActionDeleteWithExceptions,
	"unsubscribe":          ActionUnsubscribe,
	"markRead":             ActionMarkRead,
	"applyLabel":           ActionApplyLabel,
	"modifyLabel":          ActionModifyLabel,
	"createFilter":         ActionCreateFilter,
}

// ActionForJobType returns the action-log category for a job type.
// Unknown types fall back to the type name itself so the row is still
// written.
func ActionForJobType(jobType string) Action {
	if action, ok := actionByJobType[jobType]; ok {
		return action
	}
	return Action(jobType)
}

// JobRecord is one action-log row.
type JobRecord struct {
	JobID        string
	Account      string
	Action       Action
	Status       string
	Current      int64
	Total        int64
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  sql.NullTime
}

// RecordJob inserts an action-log row for a newly enqueued job.
// Re-recording an existing job ID is a no-op.
func (s *Store) RecordJob(jobID, account, jobType string) error {
	_, err := s.db.Exec(`
		INSERT INTO action_log (job_id, account, action, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', datetime('now'), datetime('now'))
		ON CONFLICT(job_id) DO NOTHING
	`, jobID, account, string(ActionForJobType(jobType)))
	if err != nil {
		return fmt.Errorf("insert action_log: %w", err)
	}
	return nil
}

// UpdateJobStatus records a non-terminal status transition.
func (s *Store) UpdateJobStatus(jobID, status string) error {
	_, err := s.db.Exec(`
		UPDATE action_log
		SET status = ?, updated_at = datetime('now')
		WHERE job_id = ?
	`, status, jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// CompleteJob records a terminal transition with its completion time.
// errMsg is empty for success and cancellation.
func (s *Store) CompleteJob(jobID, status, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE action_log
		SET status = ?,
		    error_message = ?,
		    updated_at = datetime('now'),
		    completed_at = datetime('now')
		WHERE job_id = ?
	`, status, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// UpdateJobProgress saves a progress checkpoint.
func (s *Store) UpdateJobProgress(jobID string, current, total int64) error {
	_, err := s.db.Exec(`
		UPDATE action_log
		SET progress_current = ?,
		    progress_total = ?,
		    updated_at = datetime('now')
		WHERE job_id = ?
	`, current, total, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// GetJob returns the action-log row for a job ID, or nil if there is none.
func (s *Store) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(`
		SELECT job_id, account, action, status,
		       progress_current, progress_total, error_message,
		       created_at, updated_at, completed_at
		FROM action_log
		WHERE job_id = ?
	`, jobID)

	rec, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListJobs returns action-log rows, newest first. A limit of 0 returns
// everything.
func (s *Store) ListJobs(limit int) ([]*JobRecord, error) {
	query := `
		SELECT job_id, account, action, status,
		       progress_current, progress_total, error_message,
		       created_at, updated_at, completed_at
		FROM action_log
		ORDER BY created_at DESC, rowid DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return records, nil
}

// DeleteCompletedJobs removes every row with a completion timestamp and
// returns how many were removed.
func (s *Store) DeleteCompletedJobs() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM action_log WHERE completed_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete completed jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scan func(...interface{}) error) (*JobRecord, error) {
	var (
		rec         JobRecord
		action      string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)

	err := scan(
		&rec.JobID, &rec.Account, &action, &rec.Status,
		&rec.Current, &rec.Total, &rec.ErrorMessage,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Action = Action(action)
	rec.CreatedAt, _ = time.Parse(dbTimeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(dbTimeLayout, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(dbTimeLayout, completedAt.String)
		rec.CompletedAt = sql.NullTime{Time: t, Valid: true}
	}

	return &rec, nil
}
