// Package resolver maps the canonical from/to of an inbound event onto the
// owning phone record, company and prospect, detecting relay-mediated traffic
// before ordinary contact resolution.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
)

// Resolution errors are recorded on the owning session or message and never
// surface past the webhook boundary.
var (
	ErrUnknownNumber = fmt.Errorf("%w: %s", apperrors.ErrNotFound, model.CallErrUnknownNumber)
	ErrNoProspect    = fmt.Errorf("%w: %s", apperrors.ErrNotFound, model.CallErrNoProspect)
)

// Resolution is the outcome of resolving one inbound event.
type Resolution struct {
	PhoneNumber *model.PhoneNumber
	Company     *model.Company
	Prospect    *model.Prospect

	// Relay is non-nil when the event arrived through a leased relay
	// number; Prospect and Agent are then taken from the lease.
	Relay *model.ProspectRelay
	Agent *model.AgentProfile

	// Direction is outbound when the agent originated the event through a
	// relay, inbound otherwise.
	Direction string

	// Blocked reports that no prospect matched and the company is
	// configured to terminate sessions from unknown senders.
	Blocked bool
}

// RelayMediated reports whether the event should take the relay path.
func (r *Resolution) RelayMediated() bool {
	return r.Relay != nil
}

// Resolver performs identity resolution for inbound SMS and call events.
type Resolver struct {
	phones    storage.PhoneNumberRepo
	prospects storage.ProspectRepo
	relays    storage.RelayRepo
	companies storage.CompanyRepo
}

// New constructs a Resolver over the given storage concerns.
func New(phones storage.PhoneNumberRepo, prospects storage.ProspectRepo, relays storage.RelayRepo, companies storage.CompanyRepo) *Resolver {
	return &Resolver{
		phones:    phones,
		prospects: prospects,
		relays:    relays,
		companies: companies,
	}
}

// ResolveInbound resolves the canonical from/to pair of an inbound event.
//
// Relay leases are checked first, in both directions: the agent texting or
// dialing a relay number they hold (outbound), and the prospect reaching a
// relay number leased against them (inbound). Only when neither matches does
// ordinary phone-record and prospect resolution run.
func (r *Resolver) ResolveInbound(ctx context.Context, from, to string) (*Resolution, error) {
	log := logger.FromContext(ctx)

	cleanFrom := utils.CleanPhone(from)
	cleanTo := utils.CleanPhone(to)

	if res, err := r.resolveRelay(ctx, cleanFrom, cleanTo); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	number, err := r.phones.FindPhoneNumberByPhone(ctx, cleanTo)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Debug("no phone record for called number", zap.String("to", cleanTo))
			return nil, ErrUnknownNumber
		}
		return nil, err
	}

	company, err := r.companies.FindCompanyByID(ctx, number.CompanyID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		PhoneNumber: number,
		Company:     company,
		Direction:   model.CallTypeInbound,
	}

	prospect, err := r.prospects.FindProspectForInbound(ctx, number.CompanyID, cleanFrom, number.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			res.Blocked = company.BlockUnknownCallers
			return res, ErrNoProspect
		}
		return nil, err
	}
	res.Prospect = prospect

	return res, nil
}

// resolveRelay returns a relay resolution when the from/to pair matches a
// lease, nil when it does not, and an error only on storage failure.
func (r *Resolver) resolveRelay(ctx context.Context, cleanFrom, cleanTo string) (*Resolution, error) {
	// Agent's personal number reaching a relay number they lease.
	lease, err := r.relays.FindLeaseByNumbers(ctx, cleanTo, cleanFrom)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if lease != nil {
		return r.relayResolution(ctx, lease, model.CallTypeOutbound)
	}

	// Prospect reaching the relay number leased against them.
	lease, err = r.relays.FindLeaseByRelayAndProspect(ctx, cleanTo, cleanFrom)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if lease != nil {
		return r.relayResolution(ctx, lease, model.CallTypeInbound)
	}

	return nil, nil
}

func (r *Resolver) relayResolution(ctx context.Context, lease *model.ProspectRelay, direction string) (*Resolution, error) {
	res := &Resolution{
		Relay:     lease,
		Agent:     lease.Agent,
		Prospect:  lease.Prospect,
		Direction: direction,
	}

	if res.Prospect == nil {
		prospect, err := r.prospects.FindProspectByID(ctx, lease.ProspectID)
		if err != nil {
			return nil, err
		}
		res.Prospect = prospect
	}

	company, err := r.companies.FindCompanyByID(ctx, res.Prospect.CompanyID)
	if err != nil {
		return nil, err
	}
	res.Company = company

	return res, nil
}
