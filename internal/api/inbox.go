package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/router"
	"github.com/kalambet/agentrelay/internal/storage"
)

func handleListInbox(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		msgs, err := deps.Store.ListMessages(HandleFrom(r.Context()), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list inbox: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewMessages(msgs))
	}
}

func handleUnreadCount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.UnreadCount(HandleFrom(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count unread: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Store.ListConversations(HandleFrom(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewConversations(convs))
	}
}

func handleDeleteAllConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.DeleteConversationsFor(HandleFrom(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversations: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": n})
	}
}

// conversationFor loads the {id} conversation and checks the caller takes
// part in it. It answers 404 itself otherwise.
func conversationFor(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Conversation, bool) {
	id := chi.URLParam(r, "id")
	handle := HandleFrom(r.Context())
	conv, err := deps.Store.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && conv.ParticipantA != handle && conv.ParticipantB != handle) {
		httpError(w, http.StatusNotFound, "not_found", "conversation not found")
		return storage.Conversation{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
		return storage.Conversation{}, false
	}
	return conv, true
}

func partnerOf(conv storage.Conversation, handle string) string {
	if conv.ParticipantA == handle {
		return conv.ParticipantB
	}
	return conv.ParticipantA
}

func handleConversationMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		handle := HandleFrom(r.Context())
		if err := deps.Store.MarkConversationRead(conv.ID, handle); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to mark read: %v", err)
			return
		}
		msgs, err := deps.Store.ConversationMessages(conv.ID, handle)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewMessages(msgs))
	}
}

func handleStopConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Store.StopConversation(conv.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to stop conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func handleResumeConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Store.ResumeConversation(conv.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resume conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Store.DeleteConversation(conv.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleToggleAutoRespond(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		next := !conv.AutoRespond
		if err := deps.Store.SetAutoRespond(conv.ID, next); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to toggle auto respond: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"auto_respond": next})
	}
}

func handleSendToConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := conversationFor(deps, w, r)
		if !ok {
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		handle := HandleFrom(r.Context())
		res, err := deps.Router.Route(r.Context(), partnerOf(conv, handle), body.Message, handle, conv.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to send: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "detail": res})
	}
}

// handleProcessMessage runs the caller's agent on one inbox message and
// streams its events, ending with a done frame carrying the reply.
func handleProcessMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := HandleFrom(r.Context())
		msg, err := deps.Store.GetMessage(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && msg.RecipientID != handle) {
			httpError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get message: %v", err)
			return
		}

		stream, ok := newSSE(w)
		if !ok {
			return
		}
		reply, err := deps.Router.ProcessMessage(r.Context(), msg, handle, func(ev agent.Event) {
			if ev.Type == agent.EventError {
				return
			}
			if err := stream.send(ev); err != nil {
				slog.Debug("process stream write", "error", err)
			}
		})
		if err != nil {
			slog.Error("processing inbox message", "message_id", msg.ID, "error", err)
			stream.send(map[string]string{"type": "error", "content": err.Error()})
			return
		}
		stream.send(map[string]string{"type": "done", "response": reply})
	}
}

type deliverRequest struct {
	Recipient      string `json:"recipient"`
	SenderName     string `json:"sender_name"`
	SenderType     string `json:"sender_type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// handleDeliver drops a message straight into a user's inbox.
func handleDeliver(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deliverRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Recipient = strings.ToLower(strings.TrimSpace(req.Recipient))
		if req.Recipient == "" || strings.TrimSpace(req.Message) == "" || req.SenderName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "recipient, sender_name and message are required")
			return
		}
		if req.SenderType == "" {
			req.SenderType = storage.SenderSystem
		}
		if req.ConversationID == "" {
			req.ConversationID = router.NewConversationID(req.Recipient, req.SenderName)
		}
		if err := deps.Store.EnsureConversation(req.ConversationID, req.Recipient, req.SenderName); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to ensure conversation: %v", err)
			return
		}
		msg, err := deps.Store.Deliver(storage.DeliverParams{
			ConversationID: req.ConversationID,
			RecipientID:    req.Recipient,
			SenderName:     req.SenderName,
			SenderType:     req.SenderType,
			Direction:      storage.DirectionInbound,
			Content:        req.Message,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to deliver: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewMessage(msg))
	}
}
