// Package ingest runs the inbound SMS pipeline: resolve the sender, classify
// the content, persist the message and fan the consequences out to prospect
// state, campaign counters, compliance records and relay forwarding.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/classifier"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/resolver"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const stopKeyword = "stop"

type identityResolver interface {
	ResolveInbound(ctx context.Context, from, to string) (*resolver.Resolution, error)
}

type contentClassifier interface {
	Classify(ctx context.Context, body string, checkAutoDead bool) classifier.Result
}

// relayForwarder mirrors messages across an established relay lease. Send
// delivers to the leasing agent, SendFromRep to the prospect.
type relayForwarder interface {
	Send(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error
	SendFromRep(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error
}

// Pipeline processes normalized inbound message events.
type Pipeline struct {
	resolver   identityResolver
	classifier contentClassifier
	relay      relayForwarder
	companies  storage.CompanyRepo
	prospects  storage.ProspectRepo
	campaigns  storage.CampaignRepo
	messages   storage.MessageRepo
	phones     storage.PhoneNumberRepo
	relays     storage.RelayRepo
	compliance storage.ComplianceRepo
	publisher  events.Publisher

	now func() time.Time
}

// NewPipeline wires the inbound message pipeline.
func NewPipeline(res identityResolver, cls contentClassifier, relay relayForwarder, repo storage.Repository, publisher events.Publisher) *Pipeline {
	return &Pipeline{
		resolver:   res,
		classifier: cls,
		relay:      relay,
		companies:  repo,
		prospects:  repo,
		campaigns:  repo,
		messages:   repo,
		phones:     repo,
		relays:     repo,
		compliance: repo,
		publisher:  publisher,
		now:        time.Now,
	}
}

// ProcessInboundMessage handles one inbound SMS. Events from numbers this
// system does not manage, or from senders that resolve to no prospect, are
// dropped without error; providers are never asked to retry them.
func (p *Pipeline) ProcessInboundMessage(ctx context.Context, ev *normalizer.InboundEvent) error {
	log := logger.FromContext(ctx)

	res, err := p.resolver.ResolveInbound(ctx, ev.From, ev.To)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrUnknownNumber):
			log.Debug("inbound message for unmanaged number",
				zap.String("to", ev.To))
			return nil
		case errors.Is(err, resolver.ErrNoProspect):
			log.Debug("inbound message from unknown sender",
				zap.String("from", ev.From),
				zap.Bool("blocked", res != nil && res.Blocked))
			return nil
		default:
			return err
		}
	}

	if res.RelayMediated() {
		return p.processRelayMessage(ctx, res, ev)
	}
	return p.processProspectMessage(ctx, res, ev)
}

// processRelayMessage handles traffic on a leased relay number in either
// direction. Both sides see only the relay number; the counterparty's real
// number never leaks into the forwarded message.
func (p *Pipeline) processRelayMessage(ctx context.Context, res *resolver.Resolution, ev *normalizer.InboundEvent) error {
	log := logger.FromContext(ctx)
	lease := res.Relay

	var forwardErr error
	if res.Direction == model.CallTypeOutbound {
		forwardErr = p.relay.SendFromRep(ctx, lease, ev.Body, ev.MediaURL)
	} else {
		forwardErr = p.relay.Send(ctx, lease, ev.Body, ev.MediaURL)
	}
	if forwardErr != nil {
		log.Warn("relay forward failed",
			zap.Int64("lease_id", lease.ID),
			zap.String("direction", res.Direction),
			zap.Error(forwardErr))
	}

	msg := p.buildMessage(res, ev)
	msg.FromProspect = res.Direction == model.CallTypeInbound
	// Relay traffic lands directly on the agent's handset; it never sits
	// unread in the inbox.
	msg.UnreadByRecipient = false
	if err := p.messages.SaveMessage(ctx, msg); err != nil {
		if apperrors.IsDuplicateError(err) {
			log.Debug("duplicate relay message delivery",
				zap.String("provider_message_id", ev.ProviderMessageID))
			return nil
		}
		return err
	}

	if res.Direction == model.CallTypeInbound && res.Prospect != nil {
		if err := p.prospects.MarkResponded(ctx, res.Prospect.ID, p.now()); err != nil {
			log.Warn("mark responded failed", zap.Int64("prospect_id", res.Prospect.ID), zap.Error(err))
		}
		p.publisher.Emit(ctx, events.EventProspectReplied, msg.CompanyID, map[string]interface{}{
			"prospect_id": res.Prospect.ID,
			"message_id":  msg.ID,
			"relay":       true,
		})
	}
	return nil
}

// processProspectMessage handles an ordinary reply from a prospect to one of
// the company's sending numbers.
func (p *Pipeline) processProspectMessage(ctx context.Context, res *resolver.Resolution, ev *normalizer.InboundEvent) error {
	log := logger.FromContext(ctx)
	prospect := res.Prospect
	company := res.Company
	number := res.PhoneNumber
	now := p.now()

	stop := isStopKeyword(ev.Body)
	membership, campaign := p.latestMembership(ctx, prospect.ID)

	campaignAutoDead := campaign != nil && campaign.AutoDead
	checkAutoDead := !prospect.HasResponded && company.AutoDeadFor(campaignAutoDead)
	verdict := p.classifier.Classify(ctx, ev.Body, checkAutoDead)

	autoDead := verdict.AutoDead || (stop && company.AutoFilterMessages)

	msg := p.buildMessage(res, ev)
	msg.FromProspect = true
	msg.UnreadByRecipient = !autoDead
	if membership != nil {
		msg.CampaignID = &membership.CampaignID
	}
	if err := p.messages.SaveMessage(ctx, msg); err != nil {
		if apperrors.IsDuplicateError(err) {
			log.Debug("duplicate inbound message delivery",
				zap.String("provider_message_id", ev.ProviderMessageID))
			return nil
		}
		return err
	}

	p.recordClassification(ctx, prospect, msg, verdict)

	if err := p.prospects.MarkResponded(ctx, prospect.ID, now); err != nil {
		return err
	}

	stageID := p.targetLeadStage(ctx, prospect, company, autoDead)

	if autoDead {
		if err := p.prospects.SetAutoDead(ctx, prospect.ID, stageID); err != nil {
			return err
		}
		if err := p.phones.IncrementAutoDead(ctx, number.ID); err != nil {
			log.Warn("auto dead counter bump failed", zap.Int64("phone_number_id", number.ID), zap.Error(err))
		}
		p.publisher.Emit(ctx, events.EventProspectAutoDead, company.ID, map[string]interface{}{
			"prospect_id": prospect.ID,
			"source":      autoDeadSource(verdict, stop),
		})
	} else {
		if stageID != nil {
			prospect.LeadStageID = stageID
			if err := p.prospects.SaveProspect(ctx, prospect); err != nil {
				log.Warn("lead stage update failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
			}
		}
		if _, err := p.prospects.IncrementUnread(ctx, prospect.ID); err != nil {
			log.Warn("unread counter bump failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		}
		if err := p.campaigns.MarkMembershipResponded(ctx, prospect.ID, now); err != nil {
			log.Warn("membership responded flag failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		}
		if membership != nil && membership.StatsBatchID != nil {
			if err := p.campaigns.IncrementBatchReceived(ctx, *membership.StatsBatchID); err != nil {
				log.Warn("batch received counter bump failed", zap.Int64("stats_batch_id", *membership.StatsBatchID), zap.Error(err))
			}
		}
	}

	if stop {
		p.propagateOptOut(ctx, company.ID, prospect, number)
	}

	if err := p.phones.RecordReceive(ctx, number.ID, now); err != nil {
		log.Warn("receive stat failed", zap.Int64("phone_number_id", number.ID), zap.Error(err))
	}

	p.mirrorToRelay(ctx, prospect.ID, ev)

	p.publisher.Emit(ctx, events.EventProspectReplied, company.ID, map[string]interface{}{
		"prospect_id":  prospect.ID,
		"message_id":   msg.ID,
		"auto_dead":    autoDead,
		"wrong_number": verdict.WrongNumber,
	})
	return nil
}

// buildMessage fills the direction-independent fields of a received message.
func (p *Pipeline) buildMessage(res *resolver.Resolution, ev *normalizer.InboundEvent) *model.SMSMessage {
	msg := &model.SMSMessage{
		Body:              ev.Body,
		MediaURL:          ev.MediaURL,
		FromNumber:        utils.E164(ev.From),
		ToNumber:          utils.E164(ev.To),
		ProviderMessageID: ev.ProviderMessageID,
		Provider:          ev.Provider,
		Status:            model.MessageStatusDelivered,
		RawPayload:        datatypes.JSON(ev.Raw),
	}

	switch {
	case res.RelayMediated():
		if res.Relay.RelayNumber != nil {
			msg.OurNumber = utils.E164(res.Relay.RelayNumber.Phone)
		}
		if res.Prospect != nil {
			msg.ContactNumber = utils.E164(res.Prospect.PhoneRaw)
			msg.ProspectID = &res.Prospect.ID
			msg.CompanyID = res.Prospect.CompanyID
		}
	default:
		msg.OurNumber = utils.E164(res.PhoneNumber.Phone)
		msg.ContactNumber = utils.E164(res.Prospect.PhoneRaw)
		msg.ProspectID = &res.Prospect.ID
		msg.CompanyID = res.Company.ID
		msg.MarketID = &res.PhoneNumber.MarketID
	}
	return msg
}

// latestMembership loads the prospect's most recent campaign membership and
// its campaign. Prospects with no campaign history are normal.
func (p *Pipeline) latestMembership(ctx context.Context, prospectID int64) (*model.CampaignProspect, *model.Campaign) {
	log := logger.Log
	membership, err := p.campaigns.FindLatestMembership(ctx, prospectID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("membership lookup failed", zap.Int64("prospect_id", prospectID), zap.Error(err))
		}
		return nil, nil
	}
	campaign, err := p.campaigns.FindCampaignByID(ctx, membership.CampaignID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("campaign lookup failed", zap.Int64("campaign_id", membership.CampaignID), zap.Error(err))
		}
		return membership, nil
	}
	return membership, campaign
}

// recordClassification persists the side records a verdict calls for: the
// scoring audit row, the wrong-number flag and the litigator report.
func (p *Pipeline) recordClassification(ctx context.Context, prospect *model.Prospect, msg *model.SMSMessage, verdict classifier.Result) {
	log := logger.FromContext(ctx)

	if verdict.Score != nil {
		detection := &model.AutoDeadDetection{
			Message:        msg.Body,
			Score:          *verdict.Score,
			MarkedAutoDead: verdict.AutoDead && verdict.AutoDeadSource == "score",
		}
		if err := p.compliance.SaveAutoDeadDetection(ctx, detection); err != nil {
			log.Warn("auto dead detection save failed", zap.Error(err))
		}
	}

	if verdict.WrongNumber {
		if err := p.prospects.SetWrongNumber(ctx, prospect.ID); err != nil {
			log.Warn("wrong number flag failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		} else {
			p.publisher.Emit(ctx, events.EventWrongNumber, prospect.CompanyID, map[string]interface{}{
				"prospect_id": prospect.ID,
			})
		}
	}

	if verdict.LitigatorReport {
		report := &model.LitigatorReport{ProspectID: prospect.ID}
		if err := p.compliance.SaveLitigatorReport(ctx, report); err != nil {
			log.Warn("litigator report save failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		}
	}
}

// targetLeadStage picks the stage the prospect should move to, or nil when
// the prospect has already progressed past the initial send. Only the first
// reply moves a prospect; manual stages set by agents are never overwritten.
func (p *Pipeline) targetLeadStage(ctx context.Context, prospect *model.Prospect, company *model.Company, autoDead bool) *int64 {
	log := logger.Log

	if prospect.LeadStageID != nil {
		initial, err := p.companies.FindLeadStageByTitle(ctx, company.ID, model.LeadStageInitialSent)
		if err != nil || initial == nil || *prospect.LeadStageID != initial.ID {
			return nil
		}
	}

	title := model.LeadStageResponseReceived
	if autoDead {
		title = model.LeadStageDeadAuto
	}
	stage, err := p.companies.FindLeadStageByTitle(ctx, company.ID, title)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("lead stage lookup failed", zap.String("title", title), zap.Error(err))
		}
		return nil
	}
	return &stage.ID
}

// propagateOptOut marks every contact sharing the phone number as opted out
// and records the opt-out against the receiving number.
func (p *Pipeline) propagateOptOut(ctx context.Context, companyID int64, prospect *model.Prospect, number *model.PhoneNumber) {
	log := logger.FromContext(ctx)

	affected, err := p.prospects.PropagateOptOut(ctx, companyID, prospect.PhoneRaw)
	if err != nil {
		log.Warn("opt out propagation failed", zap.Int64("prospect_id", prospect.ID), zap.Error(err))
		return
	}
	if err := p.phones.IncrementOptOuts(ctx, number.ID); err != nil {
		log.Warn("opt out counter bump failed", zap.Int64("phone_number_id", number.ID), zap.Error(err))
	}
	p.publisher.Emit(ctx, events.EventOptOutPropagated, companyID, map[string]interface{}{
		"prospect_id": prospect.ID,
		"phone":       prospect.PhoneRaw,
		"affected":    affected,
	})
}

// mirrorToRelay forwards an ordinary inbound reply to the agent holding a
// relay lease on the prospect, when one exists. Forwarding is best effort.
func (p *Pipeline) mirrorToRelay(ctx context.Context, prospectID int64, ev *normalizer.InboundEvent) {
	log := logger.FromContext(ctx)

	lease, err := p.relays.FindLeaseByProspect(ctx, prospectID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("relay lease lookup failed", zap.Int64("prospect_id", prospectID), zap.Error(err))
		}
		return
	}
	if err := p.relay.Send(ctx, lease, ev.Body, ev.MediaURL); err != nil {
		log.Warn("relay mirror failed", zap.Int64("lease_id", lease.ID), zap.Error(err))
	}
}

func autoDeadSource(verdict classifier.Result, stop bool) string {
	if verdict.AutoDead {
		return verdict.AutoDeadSource
	}
	if stop {
		return "stop"
	}
	return ""
}

func isStopKeyword(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), stopKeyword)
}
