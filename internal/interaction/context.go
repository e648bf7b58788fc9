// Package interaction carries request-scoped values that tools consult while an
// agent runs. They travel on context.Context and are never process globals.
package interaction

import (
	"context"
	"sync"
)

// Channel values.
const (
	ChannelChat  = "chat"
	ChannelInbox = "inbox"
)

// TurnLimitReached is what the contact capability reports once the budget is
// spent. It is a normal tool result, not an error.
const TurnLimitReached = "Turn limit reached. Pausing further outreach."

const (
	MinTurns = 1
	MaxTurns = 10
)

type ctxKey int

const (
	channelKey ctxKey = iota
	budgetKey
	conversationKey
)

// WithChannel records the channel for the rest of the call chain.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// Channel returns the channel, or ChannelChat if none was set.
func Channel(ctx context.Context) string {
	if v, ok := ctx.Value(channelKey).(string); ok && v != "" {
		return v
	}
	return ChannelChat
}

// budget is shared by every context derived from the one it was installed on,
// so nested tool calls draw from the same pool.
type budget struct {
	mu        sync.Mutex
	remaining int
}

// ClampTurns bounds n into [MinTurns, MaxTurns].
func ClampTurns(n int) int {
	if n < MinTurns {
		return MinTurns
	}
	if n > MaxTurns {
		return MaxTurns
	}
	return n
}

// WithTurnBudget installs a fresh budget of n turns, clamped into [1, 10].
func WithTurnBudget(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, budgetKey, &budget{remaining: ClampTurns(n)})
}

// Budget returns the remaining turns and whether a budget is installed.
func Budget(ctx context.Context) (int, bool) {
	b, ok := ctx.Value(budgetKey).(*budget)
	if !ok {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, true
}

// TakeTurn consumes one turn. It returns false once the budget is exhausted
// and never drives it below zero. Without a budget every call succeeds.
func TakeTurn(ctx context.Context) bool {
	b, ok := ctx.Value(budgetKey).(*budget)
	if !ok {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// WithConversationID pins replies made during this request to id.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey, id)
}

// ConversationID returns the pinned conversation id, if any.
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(conversationKey).(string)
	return v, ok && v != ""
}
