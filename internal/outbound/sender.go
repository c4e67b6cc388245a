// Package outbound sends campaign messages: eligibility first, then number
// assignment, provider submit and the bookkeeping a batch send leaves behind.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	"gitlab.com/hearthline/api/telephony-engine/internal/skip"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	// ErrMarketCooldown rejects sends while the market sits in a spam
	// cooldown window.
	ErrMarketCooldown = fmt.Errorf("%w: market in spam cooldown", apperrors.ErrValidation)
	// ErrDailyLimitReached rejects sends once the market's daily allowance
	// is spent.
	ErrDailyLimitReached = fmt.Errorf("%w: market daily send limit reached", apperrors.ErrValidation)
	// ErrNoUsableNumbers means the market has no active sending number.
	ErrNoUsableNumbers = fmt.Errorf("%w: no usable sending numbers in market", apperrors.ErrValidation)
)

type eligibilityEngine interface {
	CheckSkip(ctx context.Context, cp *model.CampaignProspect, force bool) (skip.Decision, error)
}

// SendRequest identifies one membership to send to within a batch.
type SendRequest struct {
	CampaignID int64  `json:"campaign_id" validate:"required,gt=0"`
	ProspectID int64  `json:"prospect_id" validate:"required,gt=0"`
	BatchID    int64  `json:"batch_id" validate:"required,gt=0"`
	Body       string `json:"body" validate:"required"`
	MediaURL   string `json:"media_url"`
	Force      bool   `json:"force"`
}

// Outcome reports what one send attempt did.
type Outcome struct {
	Skipped           bool   `json:"skipped"`
	SkipReason        string `json:"skip_reason,omitempty"`
	MessageID         int64  `json:"message_id,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// Sender executes batch sends one membership at a time.
type Sender struct {
	eligibility eligibilityEngine
	campaigns   storage.CampaignRepo
	prospects   storage.ProspectRepo
	markets     storage.MarketRepo
	phones      storage.PhoneNumberRepo
	messages    storage.MessageRepo
	messenger   provider.MessagingClient
	publisher   events.Publisher

	now func() time.Time
}

// NewSender wires the outbound batch sender.
func NewSender(eligibility eligibilityEngine, repo storage.Repository, messenger provider.MessagingClient, publisher events.Publisher) *Sender {
	return &Sender{
		eligibility: eligibility,
		campaigns:   repo,
		prospects:   repo,
		markets:     repo,
		phones:      repo,
		messages:    repo,
		messenger:   messenger,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Send runs one membership through eligibility and, when it passes, submits
// the message to the provider and records the send.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*Outcome, error) {
	log := logger.FromContext(ctx)
	now := s.now()

	cp, err := s.campaigns.FindCampaignProspect(ctx, req.CampaignID, req.ProspectID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.FindCampaignByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	market, err := s.markets.FindMarketByID(ctx, campaign.MarketID)
	if err != nil {
		return nil, err
	}
	if market.InCooldown(now) {
		return nil, ErrMarketCooldown
	}
	if market.DailyLimitReached() {
		return nil, ErrDailyLimitReached
	}

	decision, err := s.eligibility.CheckSkip(ctx, cp, req.Force)
	if err != nil {
		return nil, err
	}
	if decision.Skipped {
		return &Outcome{Skipped: true, SkipReason: decision.Reason}, nil
	}

	prospect, err := s.prospects.FindProspectByID(ctx, req.ProspectID)
	if err != nil {
		return nil, err
	}
	number, err := s.assignNumber(ctx, prospect, market, now)
	if err != nil {
		return nil, err
	}

	msg := &model.SMSMessage{
		CompanyID:     campaign.CompanyID,
		OurNumber:     utils.E164(number.Phone),
		ContactNumber: utils.E164(prospect.PhoneRaw),
		FromNumber:    utils.E164(number.Phone),
		ToNumber:      utils.E164(prospect.PhoneRaw),
		Body:          req.Body,
		MediaURL:      req.MediaURL,
		Provider:      number.Provider,
		ProspectID:    &prospect.ID,
		CampaignID:    &campaign.ID,
		StatsBatchID:  &req.BatchID,
		MarketID:      &market.ID,
	}

	result, sendErr := s.messenger.SendMessage(ctx, provider.SendRequest{
		From:     msg.FromNumber,
		To:       msg.ToNumber,
		Body:     req.Body,
		MediaURL: req.MediaURL,
	})
	if sendErr != nil {
		msg.Status = model.MessageStatusSendingFailed
		if saveErr := s.messages.SaveMessage(ctx, msg); saveErr != nil {
			log.Error("failed to record failed send", zap.Error(saveErr))
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrProvider, sendErr)
	}

	msg.Status = model.MessageStatusSent
	msg.ProviderMessageID = result.ProviderMessageID
	msg.RawPayload = datatypes.JSON(result.Raw)
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	// The receipt is what the threshold and prior-receipt skip rules read;
	// without it this send is invisible to future eligibility checks.
	receipt := &model.ReceiptSMSDirect{
		CompanyID:  campaign.CompanyID,
		CampaignID: &campaign.ID,
		PhoneRaw:   prospect.PhoneRaw,
		SentAt:     now,
	}
	if err := s.messages.SaveReceipt(ctx, receipt); err != nil {
		return nil, err
	}

	if err := s.campaigns.MarkProspectSent(ctx, cp, req.BatchID, now); err != nil {
		return nil, err
	}
	if err := s.phones.RecordSend(ctx, number.ID, now); err != nil {
		log.Warn("send stat failed", zap.Int64("phone_number_id", number.ID), zap.Error(err))
	}
	if err := s.markets.IncrementDailySend(ctx, market.ID); err != nil {
		log.Warn("daily send counter bump failed", zap.Int64("market_id", market.ID), zap.Error(err))
	}

	s.publisher.Emit(ctx, events.EventCampaignStatsDirty, campaign.CompanyID, map[string]interface{}{
		"campaign_id":    campaign.ID,
		"stats_batch_id": req.BatchID,
	})

	return &Outcome{MessageID: msg.ID, ProviderMessageID: result.ProviderMessageID}, nil
}

// assignNumber returns the prospect's sticky sending number, or picks one
// round robin from the market and pins it to the prospect.
func (s *Sender) assignNumber(ctx context.Context, prospect *model.Prospect, market *model.Market, now time.Time) (*model.PhoneNumber, error) {
	log := logger.FromContext(ctx)

	if prospect.PhoneNumberID != nil {
		number, err := s.phones.FindPhoneNumberByID(ctx, *prospect.PhoneNumberID)
		if err == nil && number.IsUsable(market, now) {
			return number, nil
		}
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		// Assigned number is gone or unusable; fall through and reassign.
	}

	numbers, err := s.phones.FindUsableNumbersByMarket(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, ErrNoUsableNumbers
	}

	index := (market.LastIndexAssigned + 1) % len(numbers)
	number := &numbers[index]
	if err := s.markets.AdvanceAssignIndex(ctx, market.ID, index); err != nil {
		log.Warn("assign index advance failed", zap.Int64("market_id", market.ID), zap.Error(err))
	}

	prospect.PhoneNumberID = &number.ID
	if err := s.prospects.SaveProspect(ctx, prospect); err != nil {
		log.Warn("sticky number assignment failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
	}
	return number, nil
}
