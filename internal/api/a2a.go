package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/gateway"
	"github.com/kalambet/agentrelay/internal/storage"
)

func handleAgentCard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := strings.ToLower(chi.URLParam(r, "handle"))
		if _, err := deps.Store.GetUser(handle); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "user %q not found", handle)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load user: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Gateway.Card(handle))
	}
}

func handleRPC(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := strings.ToLower(chi.URLParam(r, "handle"))
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req a2a.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rpcError(w, http.StatusBadRequest, nil, a2a.CodeParseError, "parse error: "+err.Error())
			return
		}
		if req.Method != a2a.MethodSendMessage {
			rpcError(w, http.StatusBadRequest, req.ID, a2a.CodeMethodNotFound, "method not found: "+req.Method)
			return
		}
		var params a2a.SendParams
		if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
			rpcError(w, http.StatusBadRequest, req.ID, a2a.CodeInvalidParams, "invalid params")
			return
		}

		reply, err := deps.Gateway.Send(r.Context(), handle, params)
		switch {
		case errors.Is(err, gateway.ErrEmptyMessage):
			rpcError(w, http.StatusBadRequest, req.ID, a2a.CodeInvalidParams, "message has no text")
			return
		case errors.Is(err, storage.ErrNotFound):
			rpcError(w, http.StatusNotFound, req.ID, a2a.CodeInvalidParams, "unknown recipient "+handle)
			return
		case err != nil:
			slog.Error("message/send failed", "handle", handle, "error", err)
			rpcError(w, http.StatusInternalServerError, req.ID, a2a.CodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a2a.Response{JSONRPC: "2.0", ID: req.ID, Result: reply})
	}
}

func rpcError(w http.ResponseWriter, status int, id any, code int, msg string) {
	writeJSON(w, status, a2a.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &a2a.RPCError{Code: code, Message: msg},
	})
}

func handleInbound(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in gateway.InboundParams
		if !decodeBody(w, r, &in) {
			return
		}
		res, err := deps.Gateway.Inbound(r.Context(), in)
		switch {
		case errors.Is(err, gateway.ErrEmptyMessage), errors.Is(err, gateway.ErrMissingSender):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "unknown recipient %q", in.RecipientHandle)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "inbound failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
