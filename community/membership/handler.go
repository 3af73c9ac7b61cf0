package membership

import (
	"errors"
	"io"
	"net/http"

	"github.com/leeforge/core/server/httplog"
	"github.com/leeforge/framework/http/responder"
	"github.com/leeforge/framework/logging"

	"github.com/leeforge/community-processor/community/shared"
)

const maxPayloadBytes = 1 << 20

// Handler exposes operator replays of stream messages over HTTP.
type Handler struct {
	service *Service
	logger  logging.Logger
}

// NewHandler creates a new membership handler.
func NewHandler(service *Service, logger logging.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Reconcile handles POST /communities/reconcile
//
// @Summary Replay a community trait payload
// @Tags CommunityPlugin-Memberships
// @Accept json
// @Produce json
// @Param body body TraitPayload true "Trait payload"
// @Success 200 {object} Result
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/communities/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		responder.BindError(w, r, nil)
		return
	}

	payload, err := DecodeTraitPayload(raw)
	if err != nil {
		responder.BadRequest(w, r, err.Error())
		return
	}
	if !payload.IsCommunities() {
		responder.BadRequest(w, r, "Trait is not communities")
		return
	}

	result, err := h.service.Reconcile(r.Context(), payload.Event())
	if err != nil {
		h.mapServiceError(w, r, "Failed to reconcile memberships", err)
		return
	}
	responder.OK(w, r, result)
}

// Enroll handles POST /communities/enroll
//
// @Summary Replay an identity creation payload
// @Tags CommunityPlugin-Memberships
// @Accept json
// @Produce json
// @Param body body IdentityPayload true "Identity payload"
// @Success 200 {object} EnrollResult
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/communities/enroll [post]
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		responder.BindError(w, r, nil)
		return
	}

	payload, err := DecodeIdentityPayload(raw)
	if err != nil {
		responder.BadRequest(w, r, err.Error())
		return
	}

	result, err := h.service.EnrollFromSSOProvider(r.Context(), payload.Event())
	if err != nil {
		h.mapServiceError(w, r, "Failed to enroll identity", err)
		return
	}
	responder.OK(w, r, result)
}

func (h *Handler) mapServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidEvent):
		responder.BadRequest(w, r, err.Error())
	case errors.Is(err, shared.ErrAuth):
		responder.Unauthorized(w, r, "Group directory credentials unavailable")
	case errors.Is(err, shared.ErrGroupNotFound):
		responder.NotFound(w, r, "No group registered for provider")
	default:
		httplog.Error(h.logger, r, msg, err)
		responder.DatabaseError(w, r, msg)
	}
}
