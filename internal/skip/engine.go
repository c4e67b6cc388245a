// Package skip implements the eligibility engine for campaign batch sends.
// Rules run in a fixed priority order; the first matching rule records an
// exclusive skip reason and the remaining rules are not evaluated.
package skip

import (
	"context"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"go.uber.org/zap"
)

// Decision is the outcome of one eligibility check.
type Decision struct {
	Skipped bool
	Reason  string
}

// Engine evaluates skip rules for a campaign membership.
type Engine struct {
	companies  storage.CompanyRepo
	prospects  storage.ProspectRepo
	campaigns  storage.CampaignRepo
	messages   storage.MessageRepo
	compliance storage.ComplianceRepo
	carrier    provider.CarrierLookupClient
	cfg        config.SkipConfig

	now func() time.Time
}

// NewEngine constructs the eligibility engine. carrier may be nil when no
// lookup collaborator is configured; the verizon rule then relies on flags
// already stored on the prospect.
func NewEngine(
	companies storage.CompanyRepo,
	prospects storage.ProspectRepo,
	campaigns storage.CampaignRepo,
	messages storage.MessageRepo,
	compliance storage.ComplianceRepo,
	carrier provider.CarrierLookupClient,
	cfg config.SkipConfig,
) *Engine {
	return &Engine{
		companies:  companies,
		prospects:  prospects,
		campaigns:  campaigns,
		messages:   messages,
		compliance: compliance,
		carrier:    carrier,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CheckSkip evaluates the rules for one membership. Exactly one reason is
// recorded when a rule matches; the stats batch counter moves atomically with
// the membership flags and never double-counts a repeat evaluation.
func (e *Engine) CheckSkip(ctx context.Context, cp *model.CampaignProspect, force bool) (Decision, error) {
	log := logger.FromContext(ctx)

	prospect, err := e.prospects.FindProspectByID(ctx, cp.ProspectID)
	if err != nil {
		return Decision{}, err
	}
	company, err := e.companies.FindCompanyByID(ctx, prospect.CompanyID)
	if err != nil {
		return Decision{}, err
	}
	campaign, err := e.campaigns.FindCampaignByID(ctx, cp.CampaignID)
	if err != nil {
		return Decision{}, err
	}

	reason, err := e.firstMatch(ctx, cp, prospect, company, campaign, force)
	if err != nil {
		return Decision{}, err
	}
	if reason == "" {
		// A membership skipped on an earlier pass whose condition has since
		// cleared must not stay flagged, and the stale batch counter moves
		// back with it.
		if cp.Skipped {
			if err := e.campaigns.MarkProspectEligible(ctx, cp); err != nil {
				return Decision{}, err
			}
			log.Debug("membership skip cleared",
				zap.Int64("campaign_prospect_id", cp.ID))
		}
		return Decision{Skipped: false}, nil
	}

	if err := e.campaigns.MarkProspectSkipped(ctx, cp, reason); err != nil {
		return Decision{}, err
	}

	log.Debug("membership skipped",
		zap.Int64("campaign_prospect_id", cp.ID),
		zap.String("reason", reason))

	return Decision{Skipped: true, Reason: reason}, nil
}

// firstMatch walks the rules in priority order and returns the first matching
// reason, or "" when the membership is eligible to send.
func (e *Engine) firstMatch(ctx context.Context, cp *model.CampaignProspect, prospect *model.Prospect, company *model.Company, campaign *model.Campaign, force bool) (string, error) {
	if force {
		return model.SkipReasonForced, nil
	}

	if company.SendCarrierTemplates && !company.HasValidOutgoing {
		return model.SkipReasonOutgoingNotSet, nil
	}

	if !company.ThresholdExempt {
		hit, err := e.hasReceiptSince(ctx, company, prospect, e.thresholdSince(company))
		if err != nil {
			return "", err
		}
		if hit {
			return model.SkipReasonThresholdMessage, nil
		}
	}

	if campaign.SkipResponded && prospect.HasResponded {
		return model.SkipReasonHasResponded, nil
	}

	onDNC, err := e.compliance.IsInternalDNC(ctx, company.ID, prospect.PhoneRaw)
	if err != nil {
		return "", err
	}
	if onDNC {
		return model.SkipReasonPublicDNC, nil
	}

	verizon, err := e.isVerizon(ctx, prospect)
	if err != nil {
		return "", err
	}
	if verizon && !company.HasTwilioConnection {
		return model.SkipReasonVerizon, nil
	}

	if prospect.OptedOut {
		return model.SkipReasonOptedOut, nil
	}

	if prospect.DoNotCall {
		return model.SkipReasonCompanyDNC, nil
	}

	litigator, err := e.compliance.IsLitigator(ctx, prospect.PhoneRaw)
	if err != nil {
		return "", err
	}
	if litigator {
		return model.SkipReasonLitigator, nil
	}

	// Any receipt at all, regardless of the threshold window.
	hit, err := e.hasReceiptSince(ctx, company, prospect, time.Time{})
	if err != nil {
		return "", err
	}
	if hit {
		return model.SkipReasonSMSReceipt, nil
	}

	// Only evaluated when the campaign belongs to a different company than
	// the prospect's standard owner.
	if prospect.WrongNumber && campaign.CompanyID != prospect.CompanyID {
		return model.SkipReasonWrongNumber, nil
	}

	return "", nil
}

func (e *Engine) thresholdSince(company *model.Company) time.Time {
	days := company.ThresholdDays
	if days <= 0 {
		days = e.cfg.DefaultThresholdDays
	}
	return e.now().AddDate(0, 0, -days)
}

func (e *Engine) hasReceiptSince(ctx context.Context, company *model.Company, prospect *model.Prospect, since time.Time) (bool, error) {
	return e.messages.HasRecentReceipt(ctx, company.ID, prospect.PhoneRaw, since)
}

// isVerizon resolves the prospect's carrier flag, performing a one-time
// best-effort lookup when no check has happened yet. Lookup failure falls
// back to the stored flag; eligibility must not block on the collaborator.
func (e *Engine) isVerizon(ctx context.Context, prospect *model.Prospect) (bool, error) {
	if prospect.CarrierCheckedAt != nil || e.carrier == nil {
		return prospect.IsVerizon, nil
	}

	info, err := e.carrier.Lookup(ctx, prospect.PhoneRaw)
	if err != nil {
		logger.FromContext(ctx).Warn("carrier lookup failed",
			zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		return prospect.IsVerizon, nil
	}

	now := e.now()
	prospect.IsVerizon = info.IsVerizon()
	prospect.CarrierCheckedAt = &now
	if err := e.prospects.SaveProspect(ctx, prospect); err != nil {
		return false, err
	}

	return prospect.IsVerizon, nil
}
