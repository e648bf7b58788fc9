package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/router"
	"github.com/kalambet/agentrelay/internal/storage"
)

// AgentSource returns the agent acting for a user.
type AgentSource interface {
	Get(handle string) (agent.Agent, error)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	// Target, when set to another user, talks to that user's agent directly
	// instead of the caller's own.
	Target    string `json:"target,omitempty"`
}

// handleChatStream runs a chat turn and streams the agent's events, ending
// with a done frame carrying the reply and the session id to continue with.
func handleChatStream(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		handle := HandleFrom(r.Context())
		target := strings.ToLower(strings.TrimSpace(req.Target))
		if target == handle {
			target = ""
		}

		lookup := handle
		if target != "" {
			lookup = target
		}
		if _, err := deps.Store.GetUser(lookup); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "user %q not found", lookup)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get user: %v", err)
			return
		}

		if target != "" {
			reply, err := deps.Router.RouteDirect(r.Context(), target, req.Message, handle)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "agent error: %v", err)
				return
			}
			stream, ok := newSSE(w)
			if !ok {
				return
			}
			stream.send(agent.Event{Type: agent.EventText, Author: target, Content: reply})
			stream.send(map[string]string{"type": "done", "response": reply})
			return
		}

		if req.SessionID == "" {
			req.SessionID = uuid.NewString()[:8]
		}
		a, err := deps.Agents.Get(handle)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build agent: %v", err)
			return
		}
		ctx := interaction.WithChannel(r.Context(), interaction.ChannelChat)
		events, err := a.Invoke(ctx, "chat_"+handle+"_"+req.SessionID, req.Message)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "agent error: %v", err)
			return
		}

		stream, ok := newSSE(w)
		if !ok {
			for range events {
			}
			return
		}
		var texts []string
		for ev := range events {
			if ev.Type == agent.EventError {
				msg := "agent run failed"
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				slog.Error("chat run", "handle", handle, "session_id", req.SessionID, "error", msg)
				stream.send(map[string]string{"type": "error", "content": msg})
				for range events {
				}
				return
			}
			if ev.Type == agent.EventText && !ev.Partial && strings.TrimSpace(ev.Content) != "" {
				texts = append(texts, ev.Content)
			}
			if err := stream.send(ev); err != nil {
				slog.Debug("chat stream write", "error", err)
			}
		}
		reply := strings.Join(texts, "\n")
		if reply == "" {
			reply = router.NoResponse
		}
		stream.send(map[string]string{"type": "done", "response": reply, "session_id": req.SessionID})
	}
}
