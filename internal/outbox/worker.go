// Package outbox delivers agent replies to external agents from the durable
// job queue, so a slow or unreachable peer never blocks the inbound request
// that produced the reply.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) (string, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Sender delivers one message/send call.
type Sender interface {
	Send(ctx context.Context, cardURL string, out a2a.Outgoing) (string, error)
}

// Reply is the payload of an a2a_reply job.
type Reply struct {
	CardURL        string `json:"card_url"`
	Text           string `json:"text"`
	SenderName     string `json:"sender_name"`
	SenderCardURL  string `json:"sender_card_url"`
	ConversationID string `json:"conversation_id"`
}

// Enqueue stores r as a pending a2a_reply job and returns its id.
func Enqueue(store JobStore, r Reply) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshaling reply payload: %w", err)
	}
	id, err := store.EnqueueJob(storage.Job{Type: storage.JobTypeA2AReply, PayloadJSON: string(payload)})
	if err != nil {
		return "", fmt.Errorf("enqueueing reply: %w", err)
	}
	return id, nil
}

// Worker processes a2a_reply jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	sender Sender
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, sender Sender, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		sender: sender,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("outbox iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single a2a_reply job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeA2AReply})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.deliver(ctx, job); err != nil {
		w.logger.Warn("reply delivery failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, job *storage.Job) error {
	var r Reply
	if err := json.Unmarshal([]byte(job.PayloadJSON), &r); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if r.CardURL == "" {
		return fmt.Errorf("reply job %s has no card_url", job.ID)
	}

	answer, err := w.sender.Send(ctx, r.CardURL, a2a.Outgoing{
		Text:           r.Text,
		SenderName:     r.SenderName,
		SenderCardURL:  r.SenderCardURL,
		SenderType:     "personal",
		ConversationID: r.ConversationID,
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", r.CardURL, err)
	}
	w.logger.Info("reply delivered", "job_id", job.ID, "conversation_id", r.ConversationID, "answer_len", len(answer))
	return nil
}
