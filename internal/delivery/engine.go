// Package delivery processes provider status callbacks: it is the only
// writer of delivery results and carries the spam cooldown circuit breaker.
package delivery

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"go.uber.org/zap"
)

// Engine applies status callbacks to messages idempotently.
type Engine struct {
	messages  storage.MessageRepo
	campaigns storage.CampaignRepo
	markets   storage.MarketRepo
	publisher events.Publisher
	cfg       config.CooldownConfig

	now func() time.Time
}

// NewEngine constructs the delivery state machine.
func NewEngine(messages storage.MessageRepo, campaigns storage.CampaignRepo, markets storage.MarketRepo, publisher events.Publisher, cfg config.CooldownConfig) *Engine {
	return &Engine{
		messages:  messages,
		campaigns: campaigns,
		markets:   markets,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ProcessStatusCallback handles one provider delivery callback. Repeated
// callbacks for the same provider message id converge on one result row:
// the first creates it with the reported error code, later ones move status
// only. A provider message id this system never tracked is a silent no-op.
func (e *Engine) ProcessStatusCallback(ctx context.Context, ev *normalizer.InboundEvent) error {
	log := logger.FromContext(ctx)

	msg, err := e.messages.FindMessageByProviderID(ctx, ev.ProviderMessageID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Debug("status callback for untracked message",
				zap.String("provider_message_id", ev.ProviderMessageID))
			return nil
		}
		return err
	}

	status := canonicalStatus(ev.Status)
	previousStatus := msg.Status

	if _, err := e.messages.UpsertResult(ctx, msg.ID, status, ev.ErrorCode); err != nil {
		return err
	}
	if err := e.messages.UpdateMessageStatus(ctx, msg.ID, status); err != nil {
		return err
	}
	observer.IncDeliveryStatus(ev.Provider, status)

	if status == model.MessageStatusDelivered && previousStatus != model.MessageStatusDelivered {
		if err := e.recordDelivered(ctx, msg); err != nil {
			return err
		}
	}

	if ev.ErrorCode == e.cfg.SpamErrorCode {
		if err := e.evaluateCooldown(ctx, msg); err != nil {
			return err
		}
	}

	if isTerminal(status) {
		e.publisher.Emit(ctx, events.EventDeliveryResolved, msg.CompanyID, map[string]interface{}{
			"message_id":          msg.ID,
			"provider_message_id": msg.ProviderMessageID,
			"status":              status,
			"error_code":          ev.ErrorCode,
		})
	}

	return nil
}

// recordDelivered bumps the batch and campaign aggregates exactly once, on
// the first transition into delivered.
func (e *Engine) recordDelivered(ctx context.Context, msg *model.SMSMessage) error {
	if msg.StatsBatchID != nil {
		if err := e.campaigns.IncrementBatchDelivered(ctx, *msg.StatsBatchID); err != nil {
			return err
		}
	}
	if msg.CampaignID != nil {
		if err := e.campaigns.IncrementCampaignDelivered(ctx, *msg.CampaignID); err != nil {
			return err
		}
	}
	return nil
}

// evaluateCooldown runs the circuit breaker over the message's stats batch.
// The market enters cooldown when the batch has accumulated enough results
// and enough of them carry the carrier filtering code. Cooldown expiry is
// computed lazily from the timestamp; nothing clears it.
func (e *Engine) evaluateCooldown(ctx context.Context, msg *model.SMSMessage) error {
	if msg.StatsBatchID == nil || msg.MarketID == nil {
		return nil
	}

	total, spam, err := e.messages.BatchResultStats(ctx, *msg.StatsBatchID, e.cfg.SpamErrorCode)
	if err != nil {
		return err
	}
	if total < int64(e.cfg.MinResults) || spam < int64(e.cfg.MinSpamResults) {
		return nil
	}

	until := e.now().Add(e.cfg.Duration)
	if err := e.markets.SetSpamCooldown(ctx, *msg.MarketID, until); err != nil {
		return err
	}

	observer.IncSpamCooldownTrip(strconv.FormatInt(*msg.MarketID, 10))
	logger.FromContext(ctx).Warn("market placed into spam cooldown",
		zap.Int64("market_id", *msg.MarketID),
		zap.Int64("stats_batch_id", *msg.StatsBatchID),
		zap.Int64("total_results", total),
		zap.Int64("spam_results", spam),
		zap.Time("until", until))

	e.publisher.Emit(ctx, events.EventSpamCooldown, msg.CompanyID, map[string]interface{}{
		"market_id":      *msg.MarketID,
		"stats_batch_id": *msg.StatsBatchID,
		"until":          until,
	})

	return nil
}

// canonicalStatus maps raw provider status values onto the message state
// enum. Adapters already canonicalize the common cases; this is the fallback
// for values that arrive verbatim.
func canonicalStatus(status string) string {
	switch status {
	case model.MessageStatusSent,
		model.MessageStatusDelivered,
		model.MessageStatusDeliveryFailed,
		model.MessageStatusDeliveryUnconfirmed,
		model.MessageStatusSendingFailed:
		return status
	case "queued", "sending":
		return model.MessageStatusSent
	case "undelivered":
		return model.MessageStatusDeliveryFailed
	// Providers report "failed" when the message never left their side,
	// before any delivery attempt.
	case "failed":
		return model.MessageStatusSendingFailed
	default:
		return model.MessageStatusDeliveryUnconfirmed
	}
}

func isTerminal(status string) bool {
	switch status {
	case model.MessageStatusDelivered,
		model.MessageStatusDeliveryFailed,
		model.MessageStatusDeliveryUnconfirmed,
		model.MessageStatusSendingFailed:
		return true
	}
	return false
}
