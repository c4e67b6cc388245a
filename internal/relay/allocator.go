// Package relay implements the masked-number allocator: leasing relay
// numbers to agent/prospect pairs and routing texts through them so neither
// side sees the other's real number.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
)

// Allocator failures surfaced to the user-initiated connect call. These are
// validation-class errors and map to a 4xx with a field message.
var (
	ErrMaxAssignments     = fmt.Errorf("%w: %s", apperrors.ErrValidation, model.RelayErrMaxAssignments)
	ErrNoAvailableNumbers = fmt.Errorf("%w: %s", apperrors.ErrValidation, model.RelayErrNoAvailableNumbers)
)

// Allocator leases relay numbers and routes masked traffic.
type Allocator struct {
	relays    storage.RelayRepo
	messages  storage.MessageRepo
	messenger provider.MessagingClient
	publisher events.Publisher
	cfg       config.RelayConfig
	appURL    string

	now func() time.Time
}

// NewAllocator constructs the relay allocator.
func NewAllocator(relays storage.RelayRepo, messages storage.MessageRepo, messenger provider.MessagingClient, publisher events.Publisher, cfg config.RelayConfig, appURL string) *Allocator {
	return &Allocator{
		relays:    relays,
		messages:  messages,
		messenger: messenger,
		publisher: publisher,
		cfg:       cfg,
		appURL:    appURL,
		now:       time.Now,
	}
}

// Connect leases a relay number pairing the agent with the prospect.
//
// The number is reserved with an atomic status claim before the notification
// goes out, so two concurrent connects can never hold the same number. A
// notification failure returns the number to the pool and surfaces the
// provider error; a lease is never created unconfirmed.
func (a *Allocator) Connect(ctx context.Context, agent *model.AgentProfile, prospect *model.Prospect) (*model.ProspectRelay, error) {
	log := logger.FromContext(ctx)

	count, err := a.relays.CountAgentLeases(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if count >= int64(a.cfg.MaxConnections) {
		observer.IncRelayConnectFailure("max_assignments")
		return nil, ErrMaxAssignments
	}

	// Connect is idempotent per (prospect, agent) pair.
	existing, err := a.relays.FindRelayLease(ctx, prospect.ID, agent.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	number, err := a.relays.ClaimAvailableNumber(ctx, agent.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
			observer.IncRelayConnectFailure("pool_exhausted")
			return nil, ErrNoAvailableNumbers
		}
		return nil, err
	}

	if err := a.sendConnectNotification(ctx, number, agent, prospect); err != nil {
		// Return the claimed number to the pool; the agent got nothing.
		if releaseErr := a.relays.ActivateNumber(ctx, number.ID); releaseErr != nil {
			log.Error("failed to return claimed relay number",
				zap.Int64("relay_number_id", number.ID), zap.Error(releaseErr))
		}
		observer.IncRelayConnectFailure("notification")
		return nil, fmt.Errorf("%w: relay notification: %v", apperrors.ErrProvider, err)
	}

	lease := &model.ProspectRelay{
		ProspectID:     prospect.ID,
		AgentProfileID: agent.ID,
		RelayNumberID:  number.ID,
		Prospect:       prospect,
		Agent:          agent,
		RelayNumber:    number,
	}
	if err := a.relays.CreateLease(ctx, lease); err != nil {
		return nil, err
	}
	// The claim flipped the number to pending; active means other agents may
	// lease it again. Per-agent exclusivity comes from the lease rows.
	if err := a.relays.ActivateNumber(ctx, number.ID); err != nil {
		return nil, err
	}

	a.publisher.Emit(ctx, events.EventRelayConnected, prospect.CompanyID, map[string]interface{}{
		"prospect_id":      prospect.ID,
		"agent_profile_id": agent.ID,
		"relay_number":     number.Phone,
	})

	log.Info("relay connected",
		zap.Int64("prospect_id", prospect.ID),
		zap.Int64("agent_profile_id", agent.ID),
		zap.String("relay_number", number.Phone))

	return lease, nil
}

// Disconnect notifies the agent best-effort and deletes the lease
// unconditionally; the number must return to the pool even when the
// notification fails.
func (a *Allocator) Disconnect(ctx context.Context, lease *model.ProspectRelay) error {
	if lease.RelayNumber != nil && lease.Agent != nil {
		body := "This relay conversation has ended. Texts to this number will no longer be forwarded."
		if _, err := a.messenger.SendMessage(ctx, provider.SendRequest{
			From: utils.E164(lease.RelayNumber.Phone),
			To:   utils.E164(lease.Agent.Phone),
			Body: body,
		}); err != nil {
			logger.FromContext(ctx).Warn("relay disconnect notification failed",
				zap.Int64("lease_id", lease.ID), zap.Error(err))
		}
	}
	return a.relays.ReleaseLease(ctx, lease.ID)
}

// Send forwards a prospect's inbound text to the agent, masked behind the
// relay number, and refreshes the lease activity timestamp.
func (a *Allocator) Send(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error {
	if lease.Agent == nil || lease.RelayNumber == nil {
		return fmt.Errorf("%w: relay lease missing associations", apperrors.ErrValidation)
	}
	return a.sendThrough(ctx, lease, utils.E164(lease.Agent.Phone), body, mediaURL)
}

// SendFromRep forwards an agent's text to the prospect, masked behind the
// relay number.
func (a *Allocator) SendFromRep(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error {
	if lease.Prospect == nil || lease.RelayNumber == nil {
		return fmt.Errorf("%w: relay lease missing associations", apperrors.ErrValidation)
	}
	return a.sendThrough(ctx, lease, utils.E164(lease.Prospect.PhoneRaw), body, mediaURL)
}

func (a *Allocator) sendThrough(ctx context.Context, lease *model.ProspectRelay, to, body, mediaURL string) error {
	// MMS with no text carries the sentinel body; the forwarded copy reads
	// better with a human placeholder.
	if body == model.NoTextSentinel && mediaURL != "" {
		body = "(image attached)"
	}
	_, err := a.messenger.SendMessage(ctx, provider.SendRequest{
		From:     utils.E164(lease.RelayNumber.Phone),
		To:       to,
		Body:     body,
		MediaURL: mediaURL,
	})
	if err != nil {
		return fmt.Errorf("%w: relay send: %v", apperrors.ErrProvider, err)
	}
	if err := a.relays.TouchLease(ctx, lease.ID, a.now()); err != nil {
		return err
	}
	return nil
}

// sendConnectNotification sends the two-part connect text: a status line and
// a link into the conversation.
func (a *Allocator) sendConnectNotification(ctx context.Context, number *model.RelayNumber, agent *model.AgentProfile, prospect *model.Prospect) error {
	from := utils.E164(number.Phone)
	to := utils.E164(agent.Phone)

	status := fmt.Sprintf("You are now connected with %s %s. Reply to this number to reach them.",
		prospect.FullName(), utils.DisplayPhone(prospect.PhoneRaw))
	if _, err := a.messenger.SendMessage(ctx, provider.SendRequest{From: from, To: to, Body: status}); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/prospects/%d", a.appURL, prospect.ID)
	if _, err := a.messenger.SendMessage(ctx, provider.SendRequest{From: from, To: to, Body: link}); err != nil {
		return err
	}
	return nil
}
