package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/profile"
	"github.com/kalambet/agentrelay/internal/storage"
)

func handleListContacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListContacts(HandleFrom(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list contacts: %v", err)
			return
		}
		out := make([]contactView, 0, len(list))
		for _, c := range list {
			out = append(out, viewContact(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type contactRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	AgentCardURL string   `json:"agent_card_url"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
}

func handleAddContact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contactRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.AgentCardURL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and agent_card_url are required")
			return
		}
		cardURL := deps.Trust.Addresses.Resolve(req.AgentCardURL)
		if err := deps.Trust.Check(cardURL); err != nil {
			if errors.Is(err, a2a.ErrUntrusted) {
				httpError(w, http.StatusForbidden, "permission_error", "agent_card_url is not trusted")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "trust check failed: %v", err)
			return
		}
		tags := "[]"
		if req.Tags != nil {
			b, err := json.Marshal(req.Tags)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tags: %v", err)
				return
			}
			tags = string(b)
		}
		c, err := deps.Store.AddContact(storage.Contact{
			Owner:        HandleFrom(r.Context()),
			Name:         strings.TrimSpace(req.Name),
			Type:         req.Type,
			AgentCardURL: cardURL,
			Description:  req.Description,
			Tags:         tags,
			Status:       storage.ContactActive,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add contact: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewContact(c))
	}
}

func handleApproveContact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetContact(HandleFrom(r.Context()), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "contact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get contact: %v", err)
			return
		}
		if err := deps.Store.SetContactStatus(c.ID, storage.ContactActive); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to approve contact: %v", err)
			return
		}
		c.Status = storage.ContactActive
		writeJSON(w, http.StatusOK, viewContact(c))
	}
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Get(HandleFrom(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch profile.Patch
		if !decodeBody(w, r, &patch) {
			return
		}
		if patch.Empty() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no preference fields given")
			return
		}
		p, err := deps.Profile.Update(HandleFrom(r.Context()), patch)
		switch {
		case errors.Is(err, profile.ErrInvalid):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "user not found")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update preferences: %v", err)
		default:
			writeJSON(w, http.StatusOK, p)
		}
	}
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Handle            string `json:"handle"`
			DisplayName       string `json:"display_name"`
			AgentInstructions string `json:"agent_instructions"`
			AutoInboxEnabled  bool   `json:"auto_inbox_enabled"`
			A2AMaxTurns       int    `json:"a2a_max_turns"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		handle := strings.ToLower(strings.TrimSpace(req.Handle))
		if handle == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "handle is required")
			return
		}
		if req.A2AMaxTurns < 0 || req.A2AMaxTurns > 10 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "a2a_max_turns must be between 1 and 10")
			return
		}
		if _, err := deps.Store.GetUser(handle); err == nil {
			httpError(w, http.StatusConflict, "conflict", "user %q already exists", handle)
			return
		}
		u, err := deps.Store.CreateUser(storage.User{
			Handle:            handle,
			DisplayName:       req.DisplayName,
			AgentInstructions: req.AgentInstructions,
			AutoInboxEnabled:  req.AutoInboxEnabled,
			A2AMaxTurns:       req.A2AMaxTurns,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create user: %v", err)
			return
		}
		p, err := deps.Profile.Get(u.Handle)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load user: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleRegisterAgent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name         string `json:"name"`
			Type         string `json:"type"`
			Description  string `json:"description"`
			AgentCardURL string `json:"agent_card_url"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.AgentCardURL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and agent_card_url are required")
			return
		}
		a, err := deps.Store.RegisterAgent(storage.TrustedAgent{
			Name:         strings.TrimSpace(req.Name),
			Type:         req.Type,
			Description:  req.Description,
			AgentCardURL: strings.TrimSpace(req.AgentCardURL),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to register agent: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"id":             a.ID,
			"name":           a.Name,
			"type":           a.Type,
			"agent_card_url": a.AgentCardURL,
		})
	}
}
