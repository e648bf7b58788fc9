// Package router delivers messages between platform users. Every message is
// written twice, once per party, and the recipient's agent may answer on its
// own within a per-conversation rate window.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/storage"
)

// NoResponse is recorded when an agent run produced no text.
const NoResponse = "[No response generated]"

// Ledger is the slice of the conversation ledger the router uses.
type Ledger interface {
	EnsureConversation(id, participantA, participantB string) error
	IsConversationStopped(conversationID string) (bool, error)
	ResumeConversation(conversationID string) error
	Deliver(p storage.DeliverParams) (storage.Message, error)
	CountRecent(conversationID string, window time.Duration) (int, error)
	SetAutoRespond(conversationID string, enabled bool) error
	MarkProcessing(id string) error
	MarkProcessed(id string) error
	UpdateProcessingLog(id string, entries any) error
}

// Preferences answers whether a user's agent replies on its own.
type Preferences interface {
	AutoInboxEnabled(handle string) (bool, error)
}

// Agents hands out the agent acting for a user.
type Agents interface {
	Get(handle string) (agent.Agent, error)
}

type Deps struct {
	Ledger Ledger
	Prefs  Preferences
	Agents Agents
}

type Options struct {
	// MaxAutoMessages is how many messages a conversation may hold within
	// Window before automatic replies stop.
	MaxAutoMessages int
	Window          time.Duration
	Concurrency     int64
	AutoResume      bool
	Stagger         time.Duration
	// Backoff lists the wait after each failed transient attempt; its length
	// is the attempt limit.
	Backoff []time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		MaxAutoMessages: 20,
		Window:          10 * time.Minute,
		Concurrency:     2,
		AutoResume:      true,
		Stagger:         time.Second,
		Backoff:         []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result describes what Route did.
type Result struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	AutoResponding bool   `json:"auto_responding"`
	Status         string `json:"status"`
}

// Router is safe for concurrent use.
type Router struct {
	ledger Ledger
	prefs  Preferences
	agents Agents
	opts   Options
	sem    *semaphore.Weighted
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	next    uint64
	running map[uint64]context.CancelFunc
}

// New builds a Router. Zero option fields take their defaults.
func New(deps Deps, opts Options) *Router {
	def := DefaultOptions()
	if opts.MaxAutoMessages <= 0 {
		opts.MaxAutoMessages = def.MaxAutoMessages
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = def.Backoff
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	base, cancel := context.WithCancel(context.Background())
	return &Router{
		ledger:  deps.Ledger,
		prefs:   deps.Prefs,
		agents:  deps.Agents,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.Concurrency),
		logger:  slog.Default(),
		base:    base,
		cancel:  cancel,
		running: make(map[uint64]context.CancelFunc),
	}
}

// NewConversationID mints a fresh thread id for a pair of users.
func NewConversationID(a, b string) string {
	pair := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(pair)
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return "conv_" + strings.Join(pair, "_") + "_" + hex.EncodeToString(buf[:])
}

// Route delivers message from sender to target. When the target has opted
// into automatic replies and the conversation is under its rate window, the
// target's agent is run in the background; Route never waits for it.
func (r *Router) Route(ctx context.Context, target, message, sender, conversationID string) (Result, error) {
	conv := conversationID
	if conv == "" {
		if pinned, ok := interaction.ConversationID(ctx); ok {
			conv = pinned
		} else {
			conv = NewConversationID(sender, target)
		}
	}
	res := Result{ConversationID: conv}

	if err := r.ledger.EnsureConversation(conv, sender, target); err != nil {
		return res, fmt.Errorf("ensuring conversation: %w", err)
	}
	stopped, err := r.ledger.IsConversationStopped(conv)
	if err != nil {
		return res, fmt.Errorf("checking conversation status: %w", err)
	}
	if stopped && r.opts.AutoResume {
		if err := r.ledger.ResumeConversation(conv); err != nil {
			return res, fmt.Errorf("resuming conversation: %w", err)
		}
		r.logger.Info("auto-resumed stopped conversation", "conversation_id", conv)
		stopped = false
	}

	if _, err := r.ledger.Deliver(storage.DeliverParams{
		ConversationID: conv,
		RecipientID:    sender,
		SenderName:     sender,
		SenderType:     storage.SenderFriend,
		Direction:      storage.DirectionOutbound,
		Content:        message,
	}); err != nil {
		return res, fmt.Errorf("delivering outbound copy: %w", err)
	}
	delivered, err := r.ledger.Deliver(storage.DeliverParams{
		ConversationID: conv,
		RecipientID:    target,
		SenderName:     sender,
		SenderType:     storage.SenderFriend,
		Direction:      storage.DirectionInbound,
		Content:        message,
	})
	if err != nil {
		return res, fmt.Errorf("delivering inbound copy: %w", err)
	}
	res.MessageID = delivered.ID

	awaiting := fmt.Sprintf("Message delivered to %s's inbox. Awaiting manual response.", target)
	if stopped {
		res.Status = fmt.Sprintf("Message delivered to %s's inbox. The conversation is paused.", target)
		return res, nil
	}

	auto, err := r.prefs.AutoInboxEnabled(target)
	if err != nil {
		r.logger.Warn("reading auto inbox preference", "user", target, "error", err)
	}
	if !auto {
		res.Status = awaiting
		return res, nil
	}

	recent, err := r.ledger.CountRecent(conv, r.opts.Window)
	if err != nil {
		return res, fmt.Errorf("counting recent messages: %w", err)
	}
	if recent >= r.opts.MaxAutoMessages {
		r.logger.Info("auto-respond depth limit reached", "conversation_id", conv, "limit", r.opts.MaxAutoMessages, "recent", recent)
		res.Status = awaiting
		return res, nil
	}

	r.dispatch(func(ctx context.Context) { r.process(ctx, delivered, target) })
	res.AutoResponding = true
	res.Status = fmt.Sprintf("Message delivered to %s. Their agent is responding automatically.", target)
	return res, nil
}

// SendResponse routes an agent's reply back to the user who wrote to it, in
// the same conversation.
func (r *Router) SendResponse(ctx context.Context, senderHandle, recipientHandle, response, conversationID string) error {
	_, err := r.Route(ctx, senderHandle, response, recipientHandle, conversationID)
	return err
}

// dispatch runs fn detached from the caller, tracked until it returns. It is
// a no-op once Shutdown has begun.
func (r *Router) dispatch(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.base)
	id := r.next
	r.next++
	r.running[id] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, id)
			r.mu.Unlock()
			cancel()
			r.wg.Done()
		}()
		fn(ctx)
	}()
}

// process is the automatic reply job for one delivered message.
func (r *Router) process(ctx context.Context, msg storage.Message, agentHandle string) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)
	if err := r.opts.Sleep(ctx, r.opts.Stagger); err != nil {
		return
	}

	log := r.logger.With("message_id", msg.ID, "conversation_id", msg.ConversationID, "agent", agentHandle)
	a, err := r.agents.Get(agentHandle)
	if err != nil {
		log.Error("auto-process failed to load agent", "error", err)
		return
	}

	runCtx := interaction.WithChannel(ctx, interaction.ChannelInbox)
	session := fmt.Sprintf("inbox_%s_%s", msg.ConversationID, agentHandle)
	prompt := inboxPrompt(msg.SenderName, msg.Content)

	attempts := len(r.opts.Backoff)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, calls, err := run(runCtx, a, session, prompt)
		if err == nil {
			r.finish(ctx, msg, agentHandle, text, calls, log)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			log.Info("auto-process cancelled", "attempt", attempt)
			return
		}
		if !IsTransient(err) {
			log.Error("auto-process failed", "attempt", attempt, "sender", msg.SenderName, "error", err)
			return
		}
		wait := r.opts.Backoff[attempt-1]
		log.Warn("auto-process attempt failed, retrying", "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
		if err := r.opts.Sleep(ctx, wait); err != nil {
			return
		}
	}
	log.Error("auto-process gave up", "attempts", attempts, "error", lastErr)
}

func run(ctx context.Context, a agent.Agent, session, prompt string) (string, []agent.Event, error) {
	events, err := a.Invoke(ctx, session, prompt)
	if err != nil {
		return "", nil, err
	}
	return agent.Collect(events)
}

func (r *Router) finish(ctx context.Context, msg storage.Message, agentHandle, text string, calls []agent.Event, log *slog.Logger) {
	if strings.TrimSpace(text) == "" {
		text = NoResponse
	}
	if calls == nil {
		calls = []agent.Event{}
	}
	if err := r.ledger.UpdateProcessingLog(msg.ID, calls); err != nil {
		log.Error("saving processing log", "error", err)
	}
	if err := r.ledger.MarkProcessed(msg.ID); err != nil {
		log.Error("marking message processed", "error", err)
	}
	if err := r.SendResponse(ctx, msg.SenderName, agentHandle, text, msg.ConversationID); err != nil {
		log.Error("sending response", "error", err)
		return
	}
	log.Info("auto-processed message")
}

// ProcessMessage is the manual inbox path: it runs agentHandle's agent on msg,
// forwards every event to onEvent, and sends the reply back to the sender.
// Subsequent messages in the conversation are answered automatically.
func (r *Router) ProcessMessage(ctx context.Context, msg storage.Message, agentHandle string, onEvent func(agent.Event)) (string, error) {
	if err := r.ledger.SetAutoRespond(msg.ConversationID, true); err != nil {
		return "", fmt.Errorf("enabling auto respond: %w", err)
	}
	if err := r.ledger.MarkProcessing(msg.ID); err != nil {
		return "", fmt.Errorf("marking message processing: %w", err)
	}
	a, err := r.agents.Get(agentHandle)
	if err != nil {
		return "", err
	}

	runCtx := interaction.WithChannel(ctx, interaction.ChannelInbox)
	session := fmt.Sprintf("inbox_%s_%s", msg.ConversationID, agentHandle)
	events, err := a.Invoke(runCtx, session, inboxPrompt(msg.SenderName, msg.Content))
	if err != nil {
		return "", fmt.Errorf("invoking agent: %w", err)
	}

	var texts []string
	calls := []agent.Event{}
	var runErr error
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Type {
		case agent.EventText:
			if !ev.Partial && strings.TrimSpace(ev.Content) != "" {
				texts = append(texts, ev.Content)
			}
		case agent.EventFunctionCall, agent.EventFunctionResponse:
			calls = append(calls, ev)
		case agent.EventError:
			runErr = ev.Err
		}
	}
	if runErr != nil {
		return "", runErr
	}

	text := strings.Join(texts, "\n")
	if text == "" {
		text = NoResponse
	}
	if err := r.ledger.UpdateProcessingLog(msg.ID, calls); err != nil {
		return "", fmt.Errorf("saving processing log: %w", err)
	}
	if err := r.ledger.MarkProcessed(msg.ID); err != nil {
		return "", fmt.Errorf("marking processed: %w", err)
	}
	if err := r.SendResponse(ctx, msg.SenderName, agentHandle, text, msg.ConversationID); err != nil {
		return text, fmt.Errorf("sending response: %w", err)
	}
	return text, nil
}

// RouteDirect runs target's agent on message without touching the inbox.
func (r *Router) RouteDirect(ctx context.Context, target, message, sender string) (string, error) {
	a, err := r.agents.Get(target)
	if err != nil {
		return "", err
	}
	session := fmt.Sprintf("direct_%s_%s", sender, target)
	text, _, err := run(interaction.WithChannel(ctx, interaction.ChannelChat), a, session, directPrompt(sender, message))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return NoResponse, nil
	}
	return text, nil
}

// InFlight reports how many background jobs are running or queued.
func (r *Router) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Wait blocks until every background job has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all background jobs and waits for them, or for ctx.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("router shutdown timed out"), ctx.Err())
	}
}
