package journal

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leeforge/core/server/httplog"
	"github.com/leeforge/framework/http/responder"
	"github.com/leeforge/framework/logging"
)

// Handler serves journal reads.
type Handler struct {
	store  *Store
	logger logging.Logger
}

// NewHandler creates a new journal handler.
func NewHandler(store *Store, logger logging.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts the journal routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/journal/{memberId}", h.ListEntries)
}

// ListEntries handles GET /journal/{memberId}
//
// @Summary List recorded membership decisions of a member
// @Tags Journal
// @Produce json
// @Param memberId path int true "Member ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {array} Entry
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /journal/{memberId} [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberId"), 10, 64)
	if err != nil || memberID < 1 {
		responder.BadRequest(w, r, "Invalid member ID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.store.ListByMember(r.Context(), memberID, limit)
	if err != nil {
		httplog.Error(h.logger, r, "Failed to list journal entries", err)
		responder.DatabaseError(w, r, "Failed to list journal entries")
		return
	}

	responder.OK(w, r, entries)
}
