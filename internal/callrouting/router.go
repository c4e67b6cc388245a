// Package callrouting resolves inbound call sessions onto a forwarding
// target and drives the provider call-control actions.
package callrouting

import (
	"context"
	"errors"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/jobs"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	"gitlab.com/hearthline/api/telephony-engine/internal/resolver"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const unknownCallerRejection = "This number does not accept calls from unrecognized numbers. Goodbye."

// identityResolver is the slice of the resolver the router consumes.
type identityResolver interface {
	ResolveInbound(ctx context.Context, from, to string) (*resolver.Resolution, error)
}

// Router handles call-session webhooks end to end.
type Router struct {
	resolver   identityResolver
	calls      storage.CallRepo
	markets    storage.MarketRepo
	phones     storage.PhoneNumberRepo
	companies  storage.CompanyRepo
	controller provider.CallController
	publisher  events.Publisher
	dispatcher *jobs.Dispatcher
}

// NewRouter constructs the call router. dispatcher may be nil; recording
// persistence then runs inline.
func NewRouter(
	res identityResolver,
	calls storage.CallRepo,
	markets storage.MarketRepo,
	phones storage.PhoneNumberRepo,
	companies storage.CompanyRepo,
	controller provider.CallController,
	publisher events.Publisher,
	dispatcher *jobs.Dispatcher,
) *Router {
	return &Router{
		resolver:   res,
		calls:      calls,
		markets:    markets,
		phones:     phones,
		companies:  companies,
		controller: controller,
		publisher:  publisher,
		dispatcher: dispatcher,
	}
}

// HandleCallEvent dispatches one canonical call event. Errors from provider
// actions are recorded on the call and never propagated to the webhook
// caller; only storage failures return an error.
func (r *Router) HandleCallEvent(ctx context.Context, ev *normalizer.InboundEvent) error {
	switch ev.CallEventType {
	case normalizer.CallEventInitiated:
		return r.handleInitiated(ctx, ev)
	case normalizer.CallEventAnswered:
		return r.handleAnswered(ctx, ev)
	case normalizer.CallEventHangup:
		return r.handleHangup(ctx, ev)
	case normalizer.CallEventRecordingSaved:
		return r.handleRecordingSaved(ctx, ev)
	default:
		logger.FromContext(ctx).Debug("ignoring call event",
			zap.String("event_type", ev.CallEventType))
		return nil
	}
}

// handleInitiated resolves the session and issues the forward action at most
// once, regardless of duplicate or out-of-order provider deliveries.
func (r *Router) handleInitiated(ctx context.Context, ev *normalizer.InboundEvent) error {
	log := logger.FromContext(ctx)

	fresh := &model.Call{
		SessionID:  ev.SessionID,
		ControlID:  ev.ControlID,
		FromNumber: ev.From,
		ToNumber:   ev.To,
		StartTime:  ev.StartTime,
		RawPayload: datatypes.JSON(ev.Raw),
	}
	call, _, err := r.calls.GetOrCreateCall(ctx, ev.SessionID, fresh)
	if err != nil {
		return err
	}
	if call.ControlID == "" && ev.ControlID != "" {
		call.ControlID = ev.ControlID
	}

	res, err := r.resolver.ResolveInbound(ctx, ev.From, ev.To)
	switch {
	case errors.Is(err, resolver.ErrUnknownNumber):
		return r.terminate(ctx, call, model.CallErrUnknownNumber, "")
	case errors.Is(err, resolver.ErrNoProspect):
		rejection := ""
		if res != nil && res.Blocked {
			rejection = unknownCallerRejection
		}
		r.attribute(call, res)
		return r.terminate(ctx, call, model.CallErrNoProspect, rejection)
	case err != nil:
		return err
	}

	r.attribute(call, res)

	target := r.forwardingTarget(ctx, res)
	if target == "" {
		return r.terminate(ctx, call, model.CallErrNoForwarding, "")
	}

	// The CAS on forwarded guards against re-forwarding when the provider
	// replays the initiated event for this session.
	won, err := r.calls.MarkForwarded(ctx, call.SessionID, target)
	if err != nil {
		return err
	}
	if !won {
		log.Debug("session already forwarded", zap.String("session_id", call.SessionID))
		return r.calls.UpdateCall(ctx, call)
	}

	call.Forwarded = true
	call.ForwardedNumber = target
	if err := r.controller.AnswerCall(ctx, call.ControlID); err != nil {
		call.Error = model.CallErrProviderAPI
		observer.IncCallRouted("provider_error")
		if updateErr := r.calls.UpdateCall(ctx, call); updateErr != nil {
			return updateErr
		}
		return nil
	}
	if err := r.controller.TransferCall(ctx, call.ControlID, utils.E164(target), call.FromNumber); err != nil {
		call.Error = model.CallErrErrorForwarding
		observer.IncCallRouted("forward_error")
		if updateErr := r.calls.UpdateCall(ctx, call); updateErr != nil {
			return updateErr
		}
		return nil
	}

	observer.IncCallRouted("forwarded")
	if err := r.calls.UpdateCall(ctx, call); err != nil {
		return err
	}

	companyID := int64(0)
	if res.Company != nil {
		companyID = res.Company.ID
	}
	r.publisher.Emit(ctx, events.EventCallForwarded, companyID, map[string]interface{}{
		"session_id":       call.SessionID,
		"forwarded_number": target,
		"call_type":        call.CallType,
	})

	return nil
}

// handleAnswered starts recording when the owning company has it enabled.
func (r *Router) handleAnswered(ctx context.Context, ev *normalizer.InboundEvent) error {
	call, err := r.calls.FindCallBySessionID(ctx, ev.SessionID)
	if err != nil {
		// Answered for a session never tracked; nothing to do.
		logger.FromContext(ctx).Debug("answered event for unknown session",
			zap.String("session_id", ev.SessionID))
		return nil
	}

	company, err := r.companyForCall(ctx, call)
	if err != nil || company == nil || !company.RecordCalls {
		return nil
	}

	if err := r.controller.StartRecording(ctx, call.ControlID); err != nil {
		logger.FromContext(ctx).Warn("failed to start call recording",
			zap.String("session_id", call.SessionID), zap.Error(err))
	}
	return nil
}

// handleHangup closes the session and appends the timeline activity.
func (r *Router) handleHangup(ctx context.Context, ev *normalizer.InboundEvent) error {
	call, err := r.calls.FindCallBySessionID(ctx, ev.SessionID)
	if err != nil {
		return nil
	}

	if ev.EndTime != nil {
		call.EndTime = ev.EndTime
	} else {
		now := time.Now().UTC()
		call.EndTime = &now
	}
	if err := r.calls.UpdateCall(ctx, call); err != nil {
		return err
	}

	if call.ProspectID == nil {
		return nil
	}

	title := model.ActivityGeneralCall
	switch call.CallType {
	case model.CallTypeInbound:
		title = model.ActivityInboundCall
	case model.CallTypeOutbound:
		title = model.ActivityOutboundCall
	}
	activity := &model.Activity{
		ProspectID:    *call.ProspectID,
		Title:         title,
		Description:   utils.DisplayPhone(call.FromNumber),
		Icon:          "phone",
		RelatedLookup: call.SessionID,
	}
	if err := r.calls.SaveActivity(ctx, activity); err != nil {
		return err
	}

	companyID := int64(0)
	if company, err := r.companyForCall(ctx, call); err == nil && company != nil {
		companyID = company.ID
	}
	r.publisher.Emit(ctx, events.EventActivityAppended, companyID, map[string]interface{}{
		"prospect_id": *call.ProspectID,
		"session_id":  call.SessionID,
		"title":       title,
	})

	return nil
}

// handleRecordingSaved persists the recording reference out of band; the
// webhook response never waits on it.
func (r *Router) handleRecordingSaved(ctx context.Context, ev *normalizer.InboundEvent) error {
	store := func(jobCtx context.Context) {
		call, err := r.calls.FindCallBySessionID(jobCtx, ev.SessionID)
		if err != nil {
			return
		}
		call.RecordingURL = ev.RecordingURL
		if err := r.calls.UpdateCall(jobCtx, call); err != nil {
			logger.FromContext(jobCtx).Error("failed to store recording url",
				zap.String("session_id", ev.SessionID), zap.Error(err))
		}
	}

	if r.dispatcher != nil {
		return r.dispatcher.Submit(ctx, "store_recording", store)
	}
	store(ctx)
	return nil
}

// attribute copies the resolution onto the call record.
func (r *Router) attribute(call *model.Call, res *resolver.Resolution) {
	if res == nil {
		return
	}
	if res.PhoneNumber != nil {
		call.PhoneNumberID = &res.PhoneNumber.ID
	}
	if res.Prospect != nil {
		call.ProspectID = &res.Prospect.ID
	}
	if res.Agent != nil {
		call.AgentProfileID = &res.Agent.ID
	}
	call.CallType = res.Direction
}

// forwardingTarget applies the fixed precedence: relay counterparty, then the
// prospect's personal forwarding number, then market, then company.
func (r *Router) forwardingTarget(ctx context.Context, res *resolver.Resolution) string {
	if res.RelayMediated() {
		if res.Direction == model.CallTypeOutbound && res.Prospect != nil {
			return res.Prospect.PhoneRaw
		}
		if res.Agent != nil {
			return res.Agent.Phone
		}
	}

	if res.Prospect != nil && res.Prospect.CallForwardingNumber != "" {
		return res.Prospect.CallForwardingNumber
	}

	if res.PhoneNumber != nil {
		market, err := r.markets.FindMarketByID(ctx, res.PhoneNumber.MarketID)
		if err == nil && market.CallForwardingNumber != "" {
			return market.CallForwardingNumber
		}
	}

	if res.Company != nil && res.Company.CallForwardingNumber != "" {
		return res.Company.CallForwardingNumber
	}

	return ""
}

// terminate records the error taxonomy value and hangs up, optionally
// speaking a rejection first. Provider failures during teardown are logged
// and swallowed.
func (r *Router) terminate(ctx context.Context, call *model.Call, errValue, spoken string) error {
	log := logger.FromContext(ctx)

	call.Error = errValue
	observer.IncCallRouted(errValue)

	if spoken != "" && call.ControlID != "" {
		if err := r.controller.SpeakText(ctx, call.ControlID, spoken); err != nil {
			log.Warn("failed to speak rejection", zap.String("session_id", call.SessionID), zap.Error(err))
		}
	}
	if call.ControlID != "" {
		if err := r.controller.HangupCall(ctx, call.ControlID); err != nil {
			log.Warn("failed to hang up call", zap.String("session_id", call.SessionID), zap.Error(err))
		}
	}

	return r.calls.UpdateCall(ctx, call)
}

// companyForCall resolves the owning company through the call's phone record.
func (r *Router) companyForCall(ctx context.Context, call *model.Call) (*model.Company, error) {
	if call.PhoneNumberID == nil {
		return nil, nil
	}
	number, err := r.phones.FindPhoneNumberByID(ctx, *call.PhoneNumberID)
	if err != nil {
		return nil, err
	}
	return r.companies.FindCompanyByID(ctx, number.CompanyID)
}
