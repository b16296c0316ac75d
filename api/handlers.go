package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": supportrag.Version})
}

// QueryHandler serves support turns.
type QueryHandler struct {
	svc supportrag.Service
}

func NewQueryHandler(svc supportrag.Service) *QueryHandler {
	return &QueryHandler{svc: svc}
}

// Query handles POST /v1/query
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req schema.Query
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, schema.ErrUnsupportedBackend) {
			status = http.StatusBadRequest
		}
		logger.Warnf("api: query failed: request_id=%s status=%d err=%v", GetRequestID(r), status, err)
		writeError(w, status, err.Error())
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConversationHandler manages per-user conversation state.
type ConversationHandler struct {
	svc supportrag.Service
}

func NewConversationHandler(svc supportrag.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type lastConversationRequest struct {
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

type lastConversationResponse struct {
	UserID string `json:"userId"`
	Value  string `json:"value"`
}

// GetLast handles GET /v1/conversations/{userID}/last
func (h *ConversationHandler) GetLast(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	value, ok := h.svc.LastConversation(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "no conversation stored for user")
		return
	}
	writeJSON(w, http.StatusOK, lastConversationResponse{UserID: userID, Value: value})
}

// SetLast handles PUT /v1/conversations/{userID}/last
func (h *ConversationHandler) SetLast(w http.ResponseWriter, r *http.Request) {
	var req lastConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "ttlSeconds must not be negative")
		return
	}
	h.svc.SetLastConversation(chi.URLParam(r, "userID"), req.Value, time.Duration(req.TTLSeconds)*time.Second)
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles DELETE /v1/conversations/{userID}
func (h *ConversationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetConversation(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, http.StatusBadGateway, "reset conversation: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
