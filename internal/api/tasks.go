package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/agentrelay/internal/scheduler"
	"github.com/kalambet/agentrelay/internal/storage"
	"github.com/kalambet/agentrelay/internal/tasks"
)

func handleCreateTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Intent string `json:"intent"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Intent) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "intent is required")
			return
		}
		t, err := deps.Tasks.Start(r.Context(), HandleFrom(r.Context()), body.Intent)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start task: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewTask(t))
	}
}

func handleListTasks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListTasks(HandleFrom(r.Context()), parseIntParam(r, "limit", 50, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}
		out := make([]taskView, 0, len(list))
		for _, t := range list {
			out = append(out, viewTask(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ownedTask loads the {id} task and checks ownership, answering 404 or 403
// itself.
func ownedTask(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Task, bool) {
	t, err := deps.Store.GetTask(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "task not found")
		return storage.Task{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get task: %v", err)
		return storage.Task{}, false
	}
	if t.Owner != HandleFrom(r.Context()) {
		httpError(w, http.StatusForbidden, "permission_error", "not your task")
		return storage.Task{}, false
	}
	return t, true
}

func handleGetTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := ownedTask(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, viewTask(t))
	}
}

func handleCancelTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := ownedTask(deps, w, r)
		if !ok {
			return
		}
		cancelled, err := deps.Tasks.CancelOwned(t.Owner, t.ID)
		if errors.Is(err, tasks.ErrForbidden) {
			httpError(w, http.StatusForbidden, "permission_error", "not your task")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel task: %v", err)
			return
		}
		if !cancelled && !finished(t.Status) {
			if err := deps.Store.UpdateTaskStatus(t.ID, storage.TaskCancelled, "CANCELLED"); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel task: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func finished(status string) bool {
	switch status {
	case storage.TaskCompleted, storage.TaskFailed, storage.TaskCancelled:
		return true
	}
	return false
}

// taskFrame is one streamed update: a progress entry, or the final done
// frame.
type taskFrame struct {
	Type   string `json:"type,omitempty"`
	TS     string `json:"ts,omitempty"`
	Msg    string `json:"msg,omitempty"`
	Status string `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
}

// followTask polls the task and emits new progress entries until it
// finishes or ctx ends.
func followTask(ctx context.Context, store *storage.Store, id string, poll time.Duration, emit func(taskFrame) error) error {
	seen := 0
	for {
		t, err := store.GetTask(id)
		if err != nil {
			return err
		}
		for _, p := range t.ProgressLog[seen:] {
			if err := emit(taskFrame{TS: p.TS, Msg: p.Msg}); err != nil {
				return err
			}
		}
		seen = len(t.ProgressLog)
		if finished(t.Status) {
			return emit(taskFrame{Type: "done", Status: t.Status, Result: t.ResultSummary})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func handleStreamTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := ownedTask(deps, w, r)
		if !ok {
			return
		}
		stream, ok := newSSE(w)
		if !ok {
			return
		}
		err := followTask(r.Context(), deps.Store, t.ID, deps.TaskPoll, func(f taskFrame) error {
			return stream.send(f)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("task stream ended", "task_id", t.ID, "error", err)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func handleTaskSocket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := ownedTask(deps, w, r)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("task socket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// The client never sends; a read error means it went away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		err = followTask(ctx, deps.Store, t.ID, deps.TaskPoll, func(f taskFrame) error {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(f)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("task socket ended", "task_id", t.ID, "error", err)
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
}

func handleCreateSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Intent     string `json:"intent"`
			TriggerAt  string `json:"trigger_at"`
			Recurrence string `json:"recurrence"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(body.TriggerAt))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "trigger_at must be RFC3339: %v", err)
			return
		}
		st, err := deps.Scheduler.Create(HandleFrom(r.Context()), body.Intent, at, body.Recurrence)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewSchedule(st))
	}
}

func handleListSchedules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Scheduler.List(HandleFrom(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list schedules: %v", err)
			return
		}
		out := make([]scheduleView, 0, len(list))
		for _, s := range list {
			out = append(out, viewSchedule(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func scheduleAction(action func(owner, id string) error, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := action(HandleFrom(r.Context()), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "schedule not found")
		case errors.Is(err, scheduler.ErrForbidden):
			httpError(w, http.StatusForbidden, "permission_error", "not your schedule")
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": status})
		}
	}
}

func handleCancelSchedule(deps AppDeps) http.HandlerFunc {
	return scheduleAction(deps.Scheduler.Cancel, storage.ScheduleCancelled)
}

func handlePauseSchedule(deps AppDeps) http.HandlerFunc {
	return scheduleAction(deps.Scheduler.Pause, storage.SchedulePaused)
}

func handleResumeSchedule(deps AppDeps) http.HandlerFunc {
	return scheduleAction(deps.Scheduler.Resume, storage.ScheduleActive)
}
