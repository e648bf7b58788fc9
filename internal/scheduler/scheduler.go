// Package scheduler fires stored schedules into the task runner when they
// come due, advancing recurring ones from their previous trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/agentrelay/internal/storage"
)

var (
	ErrForbidden         = errors.New("schedule belongs to another user")
	ErrInvalidRecurrence = errors.New("recurrence must be once, daily, weekly or monthly")
)

// DefaultInterval is how often Run polls for due schedules.
const DefaultInterval = 30 * time.Second

// Once marks a schedule that fires a single time.
const Once = "once"

var recurrences = map[string]cron.ConstantDelaySchedule{
	"daily":   cron.Every(24 * time.Hour),
	"weekly":  cron.Every(7 * 24 * time.Hour),
	"monthly": cron.Every(30 * 24 * time.Hour),
}

// ValidRecurrence reports whether r names a supported recurrence.
func ValidRecurrence(r string) bool {
	if r == Once {
		return true
	}
	_, ok := recurrences[r]
	return ok
}

// Next returns the trigger after prev for a recurring schedule. The delay is
// added to prev as is; cron's own Next truncates to the whole second.
func Next(prev time.Time, recurrence string) (time.Time, bool) {
	s, ok := recurrences[recurrence]
	if !ok {
		return time.Time{}, false
	}
	return prev.Add(s.Delay), true
}

type Store interface {
	CreateSchedule(st storage.ScheduledTask) (storage.ScheduledTask, error)
	GetSchedule(id string) (storage.ScheduledTask, error)
	ListSchedules(owner string) ([]storage.ScheduledTask, error)
	DueSchedules(now time.Time) ([]storage.ScheduledTask, error)
	SetScheduleStatus(id, status string) error
	RecordScheduleRun(id, status, taskID string, ranAt, next time.Time) error
}

// TaskStarter creates and submits a background task.
type TaskStarter interface {
	Start(ctx context.Context, owner, intent string) (storage.Task, error)
}

type Scheduler struct {
	store    Store
	tasks    TaskStarter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New returns a Scheduler polling every interval, or DefaultInterval when
// interval is not positive.
func New(store Store, tasks TaskStarter, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:    store,
		tasks:    tasks,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Create stores a schedule for owner. An empty recurrence means once.
func (s *Scheduler) Create(owner, intent string, triggerAt time.Time, recurrence string) (storage.ScheduledTask, error) {
	recurrence = strings.ToLower(strings.TrimSpace(recurrence))
	if recurrence == "" {
		recurrence = Once
	}
	if !ValidRecurrence(recurrence) {
		return storage.ScheduledTask{}, ErrInvalidRecurrence
	}
	if strings.TrimSpace(intent) == "" {
		return storage.ScheduledTask{}, fmt.Errorf("intent is required")
	}
	if triggerAt.IsZero() {
		return storage.ScheduledTask{}, fmt.Errorf("trigger_at is required")
	}
	return s.store.CreateSchedule(storage.ScheduledTask{
		Owner:      owner,
		Intent:     strings.TrimSpace(intent),
		TriggerAt:  triggerAt.UTC(),
		Recurrence: recurrence,
	})
}

func (s *Scheduler) List(owner string) ([]storage.ScheduledTask, error) {
	return s.store.ListSchedules(owner)
}

// Cancel stops a schedule from firing again.
func (s *Scheduler) Cancel(owner, id string) error {
	return s.setStatus(owner, id, storage.ScheduleCancelled)
}

func (s *Scheduler) Pause(owner, id string) error {
	return s.setStatus(owner, id, storage.SchedulePaused)
}

// Resume reactivates a paused schedule. Completed and cancelled schedules
// stay as they are.
func (s *Scheduler) Resume(owner, id string) error {
	st, err := s.owned(owner, id)
	if err != nil {
		return err
	}
	if st.Status != storage.SchedulePaused {
		return fmt.Errorf("schedule %s is %s, not paused", id, st.Status)
	}
	return s.store.SetScheduleStatus(id, storage.ScheduleActive)
}

func (s *Scheduler) setStatus(owner, id, status string) error {
	if _, err := s.owned(owner, id); err != nil {
		return err
	}
	return s.store.SetScheduleStatus(id, status)
}

func (s *Scheduler) owned(owner, id string) (storage.ScheduledTask, error) {
	st, err := s.store.GetSchedule(id)
	if err != nil {
		return storage.ScheduledTask{}, err
	}
	if st.Owner != owner {
		return storage.ScheduledTask{}, ErrForbidden
	}
	return st, nil
}

// Run polls until ctx is cancelled. Poll errors are logged and the loop
// carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx, s.now()); err != nil {
			s.logger.Error("scheduler poll", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce fires every schedule due at now and returns how many fired.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueSchedules(now)
	if err != nil {
		return 0, fmt.Errorf("listing due schedules: %w", err)
	}
	fired := 0
	for _, st := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if err := s.fire(ctx, st, now); err != nil {
			s.logger.Error("firing schedule", "schedule_id", st.ID, "error", err)
			continue
		}
		fired++
	}
	return fired, nil
}

func (s *Scheduler) fire(ctx context.Context, st storage.ScheduledTask, now time.Time) error {
	s.logger.Info("firing scheduled task", "schedule_id", st.ID, "owner", st.Owner, "intent", st.Intent)
	task, err := s.tasks.Start(ctx, st.Owner, st.Intent)
	if err != nil {
		return fmt.Errorf("starting task: %w", err)
	}
	next, recurring := Next(st.TriggerAt, st.Recurrence)
	if !recurring {
		return s.store.RecordScheduleRun(st.ID, storage.ScheduleCompleted, task.ID, now, time.Time{})
	}
	return s.store.RecordScheduleRun(st.ID, storage.ScheduleActive, task.ID, now, next)
}
