// Package tasks runs long-lived autonomous jobs on behalf of a user. Each task
// is one agent run in its own goroutine, with progress persisted as it goes.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/storage"
)

// ErrForbidden is returned when a caller touches another owner's task.
var ErrForbidden = errors.New("task belongs to another user")

// Store is the task persistence the runner needs.
type Store interface {
	CreateTask(id, owner, intent, sessionID string) (storage.Task, error)
	GetTask(id string) (storage.Task, error)
	UpdateTaskStatus(id, status, phase string) error
	AppendProgress(id, msg string) error
	SetTaskResult(id, summary string) error
}

type Agents interface {
	Get(handle string) (agent.Agent, error)
}

// Runner tracks in-flight tasks. The zero value is not usable; call NewRunner.
type Runner struct {
	store  Store
	agents Agents
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func NewRunner(store Store, agents Agents) *Runner {
	return &Runner{
		store:   store,
		agents:  agents,
		logger:  slog.Default(),
		running: make(map[string]context.CancelFunc),
	}
}

// Start creates a task for owner and submits it.
func (r *Runner) Start(_ context.Context, owner, intent string) (storage.Task, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return storage.Task{}, fmt.Errorf("intent is required")
	}
	t, err := r.store.CreateTask("", owner, intent, "")
	if err != nil {
		return storage.Task{}, err
	}
	r.Submit(t.ID, owner, intent)
	return t, nil
}

// Submit runs an existing task in the background. It is a no-op after Stop.
func (r *Runner) Submit(taskID, owner, intent string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task submitted after stop", "task_id", taskID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running[taskID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, taskID)
			r.mu.Unlock()
			cancel()
		}()
		r.execute(ctx, taskID, owner, intent)
	}()
}

// Cancel stops a running task and marks it cancelled. It reports whether
// the task was running.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[taskID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	if err := r.store.UpdateTaskStatus(taskID, storage.TaskCancelled, "CANCELLED"); err != nil {
		r.logger.Error("marking task cancelled", "task_id", taskID, "error", err)
	}
	return true
}

// CancelOwned cancels taskID after checking it belongs to owner.
func (r *Runner) CancelOwned(owner, taskID string) (bool, error) {
	t, err := r.store.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if t.Owner != owner {
		return false, ErrForbidden
	}
	return r.Cancel(taskID), nil
}

// Running lists the ids of tasks currently executing, sorted.
func (r *Runner) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stop cancels every running task and waits for them to record their state.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

func (r *Runner) execute(ctx context.Context, id, owner, intent string) {
	logger := r.logger.With("task_id", id, "owner", owner)
	r.status(id, storage.TaskRunning, "STARTING")
	r.progress(id, "Task started: "+intent)

	a, err := r.agents.Get(owner)
	if err != nil {
		logger.Error("resolving agent for task", "error", err)
		r.result(id, "Runner init failed: "+err.Error())
		r.status(id, storage.TaskFailed, "ERROR")
		return
	}

	tmpl := templateFor(intent)
	r.progress(id, "Agent starting work...")

	runCtx := interaction.WithChannel(ctx, interaction.ChannelInbox)
	collected, count, err := r.consume(runCtx, a, id, tmpl, tmpl.prompt(intent))
	if ctx.Err() != nil {
		r.status(id, storage.TaskCancelled, "CANCELLED")
		r.progress(id, "Task cancelled")
		logger.Info("task cancelled")
		return
	}
	if err != nil {
		logger.Error("task failed", "error", err)
		r.result(id, err.Error())
		r.status(id, storage.TaskFailed, "ERROR")
		r.progress(id, "Error: "+err.Error())
		return
	}

	logger.Info("task finished", "events", count, "text_blocks", len(collected))
	summary := "[No output from agent]"
	if len(collected) > 0 {
		summary = strings.Join(collected, "\n")
	}
	r.result(id, summary)
	r.status(id, storage.TaskCompleted, "DONE")
	r.progress(id, "Task completed")
}

// consume invokes the agent once and turns its events into progress entries.
// It returns the complete text blocks and the number of events seen.
func (r *Runner) consume(ctx context.Context, a agent.Agent, id string, tmpl template, prompt string) ([]string, int, error) {
	events, err := a.Invoke(ctx, "task_"+id, prompt)
	if err != nil {
		return nil, 0, err
	}
	var collected []string
	var count int
	var runErr error
	for ev := range events {
		count++
		switch ev.Type {
		case agent.EventText:
			if ev.Partial || ev.Content == "" {
				continue
			}
			collected = append(collected, ev.Content)
			if phase := tmpl.phaseOf(ev.Content); phase != "" {
				r.status(id, storage.TaskRunning, phase)
			}
			r.progress(id, snippet(ev.Content, 200))
		case agent.EventFunctionCall:
			r.progress(id, fmt.Sprintf("Tool: %s(%s)", orUnknown(ev.Name), formatArgs(ev.Args)))
		case agent.EventFunctionResponse:
			r.progress(id, fmt.Sprintf("Result from %s: %s", orUnknown(ev.Name), snippet(responseText(ev.Response), 150)))
		case agent.EventError:
			if runErr == nil {
				runErr = ev.Err
				if runErr == nil {
					runErr = errors.New(ev.Content)
				}
			}
		}
	}
	return collected, count, runErr
}

func (r *Runner) status(id, status, phase string) {
	if err := r.store.UpdateTaskStatus(id, status, phase); err != nil {
		r.logger.Error("updating task status", "task_id", id, "status", status, "error", err)
	}
}

func (r *Runner) progress(id, msg string) {
	if err := r.store.AppendProgress(id, msg); err != nil {
		r.logger.Error("appending task progress", "task_id", id, "error", err)
	}
}

func (r *Runner) result(id, summary string) {
	if err := r.store.SetTaskResult(id, summary); err != nil {
		r.logger.Error("saving task result", "task_id", id, "error", err)
	}
}

func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func orUnknown(name string) string {
	if name == "" {
		return "?"
	}
	return name
}

// formatArgs renders call arguments as k=v pairs in key order.
func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func responseText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
