package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/agentrelay/internal/storage"
)

// CreateTask starts a background task for the owner.
type CreateTask struct {
	Tasks TaskStarter
}

func (t *CreateTask) Name() string { return "create_task" }

func (t *CreateTask) Description() string {
	return "Start a long-running background task, such as researching a purchase or checking in with friends. Progress can be followed in the task list."
}

func (t *CreateTask) Parameters() map[string]any {
	return schema(param{"intent", "string", "What the task should accomplish", true})
}

func (t *CreateTask) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	intent, err := requireString(args, "intent")
	if err != nil {
		return "", err
	}
	task, err := t.Tasks.Start(ctx, owner, intent)
	if err != nil {
		return "", fmt.Errorf("starting task: %w", err)
	}
	return fmt.Sprintf("Task started! ID: %s. I'll work on '%s' in the background.", task.ID, intent), nil
}

// ScheduleTask registers a task to run later, once or on a recurrence.
type ScheduleTask struct {
	Schedules Scheduler
}

func (t *ScheduleTask) Name() string { return "schedule_task" }

func (t *ScheduleTask) Description() string {
	return "Schedule a background task to run at a future time, optionally repeating daily, weekly or monthly."
}

func (t *ScheduleTask) Parameters() map[string]any {
	return schema(
		param{"intent", "string", "What the task should accomplish", true},
		param{"trigger_at", "string", "When to run, as an RFC3339 timestamp", true},
		param{"recurrence", "string", "once, daily, weekly or monthly (default once)", false},
	)
}

func (t *ScheduleTask) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	intent, err := requireString(args, "intent")
	if err != nil {
		return "", err
	}
	raw, err := requireString(args, "trigger_at")
	if err != nil {
		return "", err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Sprintf("Invalid trigger_at %q: use an RFC3339 timestamp such as 2026-01-02T09:00:00Z.", raw), nil
	}
	recurrence := strings.ToLower(stringArg(args, "recurrence"))
	if recurrence == "" {
		recurrence = "once"
	}

	st, err := t.Schedules.Create(owner, intent, at, recurrence)
	if err != nil {
		return fmt.Sprintf("Could not schedule task: %v", err), nil
	}
	return fmt.Sprintf("Scheduled! Task '%s' will run at %s (%s). Schedule ID: %s",
		st.Intent, st.TriggerAt.UTC().Format(time.RFC3339), st.Recurrence, st.ID), nil
}

// GetActiveTasks reports the owner's pending and running tasks.
type GetActiveTasks struct {
	Tasks TaskLister
}

func (t *GetActiveTasks) Name() string { return "get_active_tasks" }

func (t *GetActiveTasks) Description() string {
	return "List your background tasks that are still pending or running."
}

func (t *GetActiveTasks) Parameters() map[string]any {
	return schema()
}

func (t *GetActiveTasks) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	list, err := t.Tasks.ListTasks(owner, 50)
	if err != nil {
		return "", fmt.Errorf("listing tasks: %w", err)
	}
	var b strings.Builder
	for _, task := range list {
		if task.Status != storage.TaskPending && task.Status != storage.TaskRunning {
			continue
		}
		fmt.Fprintf(&b, "- %s [%s", task.ID, task.Status)
		if task.Phase != "" {
			fmt.Fprintf(&b, ", %s", task.Phase)
		}
		fmt.Fprintf(&b, "] %s\n", task.Intent)
	}
	if b.Len() == 0 {
		return "No active tasks.", nil
	}
	return "Active tasks:\n" + strings.TrimRight(b.String(), "\n"), nil
}
