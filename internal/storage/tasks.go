package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewShortID returns the first 12 hex characters of a random UUID, the id
// format used for tasks and schedules.
func NewShortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// --- Tasks ---

// CreateTask inserts a pending task. An empty id is generated.
func (s *Store) CreateTask(id, owner, intent, sessionID string) (Task, error) {
	if id == "" {
		id = NewShortID()
	}
	if sessionID == "" {
		sessionID = "task_" + id
	}
	now := s.now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, owner, intent, status, phase, progress_log, result_summary, session_id, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', '', '[]', '', ?, ?, ?)`,
		id, owner, intent, sessionID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return Task{}, fmt.Errorf("creating task: %w", err)
	}
	return s.GetTask(id)
}

func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns the owner's tasks, newest first.
func (s *Store) ListTasks(owner string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE owner = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus sets status, and phase when non-empty. Terminal statuses
// stamp completed_at.
func (s *Store) UpdateTaskStatus(id, status, phase string) error {
	now := s.stamp()
	var completedAt any
	if status == TaskCompleted || status == TaskFailed || status == TaskCancelled {
		completedAt = now
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?,
			phase = CASE WHEN ? = '' THEN phase ELSE ? END,
			updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		status, phase, phase, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return expectOne(res)
}

// AppendProgress adds one timestamped entry to the task's progress log.
func (s *Store) AppendProgress(id, msg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT progress_log FROM tasks WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var log []ProgressEntry
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &log); err != nil {
			return fmt.Errorf("decoding progress log: %w", err)
		}
	}
	now := s.stamp()
	log = append(log, ProgressEntry{TS: now, Msg: msg})
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE tasks SET progress_log = ?, updated_at = ? WHERE id = ?`, string(data), now, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetTaskResult(id, summary string) error {
	res, err := s.db.Exec(`UPDATE tasks SET result_summary = ?, updated_at = ? WHERE id = ?`, summary, s.stamp(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const taskColumns = `id, owner, intent, status, phase, progress_log, result_summary, session_id, created_at, updated_at, completed_at`

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var log, createdAt, updatedAt string
	var completedAt sql.NullString
	if err := r.Scan(&t.ID, &t.Owner, &t.Intent, &t.Status, &t.Phase, &log, &t.ResultSummary,
		&t.SessionID, &createdAt, &updatedAt, &completedAt); err != nil {
		return Task{}, err
	}
	if log != "" {
		if err := json.Unmarshal([]byte(log), &t.ProgressLog); err != nil {
			return Task{}, fmt.Errorf("decoding progress log: %w", err)
		}
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Task{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return t, nil
}

// --- Scheduled tasks ---

func (s *Store) CreateSchedule(st ScheduledTask) (ScheduledTask, error) {
	if st.ID == "" {
		st.ID = NewShortID()
	}
	if st.Recurrence == "" {
		st.Recurrence = "once"
	}
	if st.Status == "" {
		st.Status = ScheduleActive
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, owner, intent, trigger_at, recurrence, status, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
		st.ID, st.Owner, st.Intent, formatTime(st.TriggerAt), st.Recurrence, st.Status, s.stamp(),
	)
	if err != nil {
		return ScheduledTask{}, fmt.Errorf("creating schedule: %w", err)
	}
	return s.GetSchedule(st.ID)
}

func (s *Store) GetSchedule(id string) (ScheduledTask, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	st, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return ScheduledTask{}, ErrNotFound
	}
	return st, err
}

// ListSchedules returns the owner's schedules ordered by next trigger.
func (s *Store) ListSchedules(owner string) ([]ScheduledTask, error) {
	rows, err := s.db.Query(`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE owner = ?
		ORDER BY trigger_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// DueSchedules returns active schedules whose trigger is at or before now.
func (s *Store) DueSchedules(now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.Query(`SELECT `+scheduleColumns+` FROM scheduled_tasks
		WHERE status = 'active' AND trigger_at <= ?
		ORDER BY trigger_at ASC`, formatTime(now))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) SetScheduleStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// RecordScheduleRun stamps a firing. A zero next leaves trigger_at unchanged.
func (s *Store) RecordScheduleRun(id, status, taskID string, ranAt, next time.Time) error {
	var trigger any
	if !next.IsZero() {
		trigger = formatTime(next)
	}
	res, err := s.db.Exec(`
		UPDATE scheduled_tasks SET status = ?, last_run_at = ?, task_id = ?,
			trigger_at = COALESCE(?, trigger_at)
		WHERE id = ?`,
		status, formatTime(ranAt), taskID, trigger, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const scheduleColumns = `id, owner, intent, trigger_at, recurrence, status, last_run_at, task_id, created_at`

func scanSchedule(r rowScanner) (ScheduledTask, error) {
	var st ScheduledTask
	var triggerAt, createdAt string
	var lastRun sql.NullString
	if err := r.Scan(&st.ID, &st.Owner, &st.Intent, &triggerAt, &st.Recurrence, &st.Status,
		&lastRun, &st.TaskID, &createdAt); err != nil {
		return ScheduledTask{}, err
	}
	var err error
	if st.TriggerAt, err = parseTime(triggerAt); err != nil {
		return ScheduledTask{}, fmt.Errorf("parsing trigger_at: %w", err)
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return ScheduledTask{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.LastRunAt, err = parseNullTime(lastRun); err != nil {
		return ScheduledTask{}, fmt.Errorf("parsing last_run_at: %w", err)
	}
	return st, nil
}

func collectSchedules(rows *sql.Rows) ([]ScheduledTask, error) {
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
