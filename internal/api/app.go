// Package api serves the HTTP surface: the public agent protocol endpoints,
// the user REST API behind JWT auth, the admin directory routes, and the MCP
// tool server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/gateway"
	"github.com/kalambet/agentrelay/internal/profile"
	"github.com/kalambet/agentrelay/internal/router"
	"github.com/kalambet/agentrelay/internal/scheduler"
	"github.com/kalambet/agentrelay/internal/storage"
	"github.com/kalambet/agentrelay/internal/tasks"
)

type AppDeps struct {
	Store      *storage.Store
	Profile    *profile.Manager
	Router     *router.Router
	Agents     AgentSource
	Tasks      *tasks.Runner
	Scheduler  *scheduler.Scheduler
	Gateway    *gateway.Gateway
	Trust      a2a.TrustPolicy
	JWTSecret  []byte
	AdminToken string
	TaskPoll   time.Duration // progress stream poll interval; 2s when zero
}

func NewHandler(deps AppDeps) http.Handler {
	if deps.TaskPoll <= 0 {
		deps.TaskPoll = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	// Agent protocol, reachable by any peer.
	r.Get("/a2a/{handle}/.well-known/agent-card.json", handleAgentCard(deps))
	r.Get("/agents/{handle}/card", handleAgentCard(deps))
	r.Post("/a2a/{handle}/rpc", handleRPC(deps))
	r.Post("/agents/{handle}/rpc", handleRPC(deps))
	r.Post("/a2a/inbound", handleInbound(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Post("/admin/users", handleCreateUser(deps))
		r.Post("/admin/agents", handleRegisterAgent(deps))
		r.Post("/inbox/deliver", handleDeliver(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))

		r.Get("/inbox", handleListInbox(deps))
		r.Get("/inbox/unread-count", handleUnreadCount(deps))
		r.Get("/inbox/conversations", handleListConversations(deps))
		r.Delete("/inbox/conversations", handleDeleteAllConversations(deps))
		r.Get("/inbox/conversations/{id}/messages", handleConversationMessages(deps))
		r.Post("/inbox/conversations/{id}/stop", handleStopConversation(deps))
		r.Post("/inbox/conversations/{id}/resume", handleResumeConversation(deps))
		r.Post("/inbox/conversations/{id}/auto-respond", handleToggleAutoRespond(deps))
		r.Post("/inbox/conversations/{id}/send", handleSendToConversation(deps))
		r.Delete("/inbox/conversations/{id}", handleDeleteConversation(deps))
		r.Post("/inbox/{id}/process", handleProcessMessage(deps))

		r.Post("/chat/stream", handleChatStream(deps))

		r.Post("/tasks", handleCreateTask(deps))
		r.Get("/tasks", handleListTasks(deps))
		r.Get("/tasks/{id}", handleGetTask(deps))
		r.Get("/tasks/{id}/stream", handleStreamTask(deps))
		r.Get("/tasks/{id}/ws", handleTaskSocket(deps))
		r.Post("/tasks/{id}/cancel", handleCancelTask(deps))

		r.Post("/schedule", handleCreateSchedule(deps))
		r.Get("/schedule", handleListSchedules(deps))
		r.Delete("/schedule/{id}", handleCancelSchedule(deps))
		r.Post("/schedule/{id}/pause", handlePauseSchedule(deps))
		r.Post("/schedule/{id}/resume", handleResumeSchedule(deps))

		r.Get("/contacts", handleListContacts(deps))
		r.Post("/contacts", handleAddContact(deps))
		r.Post("/contacts/{id}/approve", handleApproveContact(deps))

		r.Get("/me/preferences", handleGetPreferences(deps))
		r.Patch("/me/preferences", handlePatchPreferences(deps))
	})

	return r
}
