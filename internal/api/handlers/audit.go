package handlers

import (
	"net/http"
	"strconv"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/go-chi/chi/v5"
)

// AuditHandler exposes the append-only audit log to operators.
type AuditHandler struct {
	events repo.AuditEvents
}

func NewAuditHandler(e repo.AuditEvents) *AuditHandler {
	return &AuditHandler{events: e}
}

func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	list, err := h.events.ListRecent(r.Context(), listLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": list})
}

func (h *AuditHandler) ByAccount(w http.ResponseWriter, r *http.Request) {
	list, err := h.events.ListByAccount(r.Context(), chi.URLParam(r, "id"), listLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": list})
}

func listLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}
