package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/outbound"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// relayService is the slice of the relay allocator the API exposes.
type relayService interface {
	Connect(ctx context.Context, agent *model.AgentProfile, prospect *model.Prospect) (*model.ProspectRelay, error)
	Disconnect(ctx context.Context, lease *model.ProspectRelay) error
}

type batchSender interface {
	Send(ctx context.Context, req outbound.SendRequest) (*outbound.Outcome, error)
}

// APIHandler serves the synchronous user-initiated actions. Unlike webhook
// endpoints these return real status codes: validation failures are 4xx with
// a field-level message.
type APIHandler struct {
	relay     relayService
	sender    batchSender
	prospects storage.ProspectRepo
	relays    storage.RelayRepo
	validate  *validator.Validate
}

// NewAPIHandler wires the user-facing action endpoints.
func NewAPIHandler(relay relayService, sender batchSender, prospects storage.ProspectRepo, relays storage.RelayRepo) *APIHandler {
	return &APIHandler{
		relay:     relay,
		sender:    sender,
		prospects: prospects,
		relays:    relays,
		validate:  validator.New(),
	}
}

// RegisterAPIRoutes mounts the action endpoints on the server's router.
func (s *Server) RegisterAPIRoutes(api *APIHandler) {
	s.router.Post("/api/relay/connect", api.handleRelayConnect)
	s.router.Post("/api/relay/disconnect", api.handleRelayDisconnect)
	s.router.Post("/api/outbound/send", api.handleOutboundSend)
}

type relayRequest struct {
	AgentProfileID int64 `json:"agent_profile_id" validate:"required,gt=0"`
	ProspectID     int64 `json:"prospect_id" validate:"required,gt=0"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) handleRelayConnect(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	agent, err := h.relays.FindAgentByID(ctx, req.AgentProfileID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	prospect, err := h.prospects.FindProspectByID(ctx, req.ProspectID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	lease, err := h.relay.Connect(ctx, agent, prospect)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, lease)
}

func (h *APIHandler) handleRelayDisconnect(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	lease, err := h.relays.FindRelayLease(ctx, req.ProspectID, req.AgentProfileID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.relay.Disconnect(ctx, lease); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *APIHandler) handleOutboundSend(w http.ResponseWriter, r *http.Request) {
	var req outbound.SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.sender.Send(r.Context(), req)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, outcome)
}

// decode unmarshals and validates the request body, answering 400/422 itself
// when the payload is unusable.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		utils.WriteJSONResponse(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// writeError maps domain errors onto status codes. Business rejections
// (limits, pools, cooldowns) are the caller's problem, not the server's.
func (h *APIHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsNotFoundError(err):
		utils.WriteJSONResponse(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case apperrors.IsValidationError(err):
		utils.WriteJSONResponse(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case apperrors.IsProviderError(err):
		utils.WriteJSONResponse(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		logger.FromContext(ctx).Error("api request failed", zap.Error(err))
		utils.WriteJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
