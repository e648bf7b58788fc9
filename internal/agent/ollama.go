package agent

import (
	"context"
	"strings"

	"github.com/kalambet/agentrelay/internal/ollama"
)

// ChatStreamer is the part of the Ollama client the local backend needs.
type ChatStreamer interface {
	ChatStream(ctx context.Context, model string, messages []ollama.Message, onChunk func(string)) error
}

// OllamaAgent answers with a local Ollama model. It streams text only; tools
// are not offered to local models.
type OllamaAgent struct {
	client   ChatStreamer
	model    string
	persona  Persona
	sessions *sessions
}

func NewOllamaAgent(client ChatStreamer, model string, persona Persona) *OllamaAgent {
	return &OllamaAgent{client: client, model: model, persona: persona, sessions: newSessions(0)}
}

func (a *OllamaAgent) Invoke(ctx context.Context, sessionID, prompt string) (<-chan Event, error) {
	msgs := []ollama.Message{{Role: "system", Content: a.persona.SystemPrompt()}}
	for _, t := range a.sessions.get(sessionID) {
		msgs = append(msgs, ollama.Message{Role: t.role, Content: t.content})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: prompt})

	author := a.persona.AgentName()
	out := make(chan Event, 32)
	go func() {
		defer close(out)

		var full strings.Builder
		err := a.client.ChatStream(ctx, a.model, msgs, func(chunk string) {
			full.WriteString(chunk)
			select {
			case out <- Event{Type: EventText, Author: author, Content: chunk, Partial: true}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			out <- Event{Type: EventError, Author: author, Err: err}
			return
		}
		text := full.String()
		a.sessions.append(sessionID, turn{"user", prompt}, turn{"assistant", text})
		out <- Event{Type: EventText, Author: author, Content: text}
	}()
	return out, nil
}
