// Package agent is the invocation facade over the reasoning engine. Callers
// hand it a session id and a prompt and consume a stream of events; which
// backend produces them is decided by configuration.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kalambet/agentrelay/internal/storage"
)

// Event types.
const (
	EventText             = "text"
	EventFunctionCall     = "function_call"
	EventFunctionResponse = "function_response"
	EventError            = "error"
)

// Event is one item of an agent run. Partial text events carry streamed
// fragments; the complete text of a turn follows as a non-partial event.
type Event struct {
	Type     string         `json:"type"`
	Author   string         `json:"author,omitempty"`
	Content  string         `json:"content,omitempty"`
	Name     string         `json:"name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Response any            `json:"response,omitempty"`
	Partial  bool           `json:"partial,omitempty"`
	Err      error          `json:"-"`
}

// Agent runs one prompt within a session. The returned channel is closed when
// the run ends. A failure mid-run is delivered as a final EventError.
type Agent interface {
	Invoke(ctx context.Context, sessionID, prompt string) (<-chan Event, error)
}

// Tool is a capability an agent backend may call on behalf of owner.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Call(ctx context.Context, owner string, args map[string]any) (string, error)
}

// Persona is the per-user configuration an agent is built from.
type Persona struct {
	Handle       string
	DisplayName  string
	Instructions string
}

// PersonaFor derives a persona from a directory user.
func PersonaFor(u storage.User) Persona {
	return Persona{Handle: u.Handle, DisplayName: u.DisplayName, Instructions: u.AgentInstructions}
}

// AgentName is the author name events carry and the protocol card advertises.
func (p Persona) AgentName() string {
	return p.Handle + "_personal_agent"
}

// SystemPrompt builds the instruction block every backend sends first.
func (p Persona) SystemPrompt() string {
	name := p.DisplayName
	if name == "" {
		name = p.Handle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are the personal agent of %s (@%s). You act on their behalf: ", name, p.Handle)
	b.WriteString("you talk to their friends' agents and to merchant agents, research options, and report back concisely.\n")
	b.WriteString("Never invent facts about your user. When you need information from another agent, use your tools.\n")
	if p.Instructions != "" {
		b.WriteString("\nYour user's instructions:\n")
		b.WriteString(p.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}

// Collect drains events and returns the joined non-partial text and the
// function call/response events, in order. An EventError ends collection with
// its error.
func Collect(events <-chan Event) (string, []Event, error) {
	var texts []string
	var calls []Event
	for ev := range events {
		switch ev.Type {
		case EventText:
			if !ev.Partial && strings.TrimSpace(ev.Content) != "" {
				texts = append(texts, ev.Content)
			}
		case EventFunctionCall, EventFunctionResponse:
			calls = append(calls, ev)
		case EventError:
			for range events {
			}
			return strings.Join(texts, "\n"), calls, ev.Err
		}
	}
	return strings.Join(texts, "\n"), calls, nil
}

// turn is one remembered message of a session.
type turn struct {
	role    string
	content string
}

// sessions keeps a bounded transcript per session id so repeated turns in
// the same conversation or task keep their context.
type sessions struct {
	mu      sync.Mutex
	max     int
	history map[string][]turn
}

func newSessions(max int) *sessions {
	if max <= 0 {
		max = 40
	}
	return &sessions{max: max, history: make(map[string][]turn)}
}

func (s *sessions) get(id string) []turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[id]
	out := make([]turn, len(h))
	copy(out, h)
	return out
}

func (s *sessions) append(id string, turns ...turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[id], turns...)
	if len(h) > s.max {
		h = h[len(h)-s.max:]
	}
	s.history[id] = h
}
