package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	storagemock "gitlab.com/hearthline/api/telephony-engine/internal/storage/mock"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

type resolverMocks struct {
	phones    *storagemock.PhoneNumberRepoMock
	prospects *storagemock.ProspectRepoMock
	relays    *storagemock.RelayRepoMock
	companies *storagemock.CompanyRepoMock
}

func newResolver() (*Resolver, *resolverMocks) {
	m := &resolverMocks{
		phones:    new(storagemock.PhoneNumberRepoMock),
		prospects: new(storagemock.ProspectRepoMock),
		relays:    new(storagemock.RelayRepoMock),
		companies: new(storagemock.CompanyRepoMock),
	}
	return New(m.phones, m.prospects, m.relays, m.companies), m
}

func noLease(m *resolverMocks) {
	m.relays.On("FindLeaseByNumbers", mock.Anything, mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	m.relays.On("FindLeaseByRelayAndProspect", mock.Anything, mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
}

func TestResolveInbound_OrdinaryProspect(t *testing.T) {
	r, m := newResolver()
	noLease(m)

	number := &model.PhoneNumber{ID: 7, CompanyID: 3, Phone: "2068887771"}
	company := &model.Company{ID: 3}
	prospect := &model.Prospect{ID: 11, CompanyID: 3, PhoneRaw: "3234567890"}

	m.phones.On("FindPhoneNumberByPhone", mock.Anything, "2068887771").Return(number, nil)
	m.companies.On("FindCompanyByID", mock.Anything, int64(3)).Return(company, nil)
	m.prospects.On("FindProspectForInbound", mock.Anything, int64(3), "3234567890", int64(7)).Return(prospect, nil)

	res, err := r.ResolveInbound(context.Background(), "+1(323) 456 7890", "+12068887771")
	require.NoError(t, err)
	assert.Equal(t, number, res.PhoneNumber)
	assert.Equal(t, company, res.Company)
	assert.Equal(t, prospect, res.Prospect)
	assert.False(t, res.RelayMediated())
	assert.Equal(t, model.CallTypeInbound, res.Direction)
}

func TestResolveInbound_ProspectLookupScopedToOwningCompany(t *testing.T) {
	r, m := newResolver()
	noLease(m)

	// The same phone is a prospect of two companies; resolution against
	// company 1's number must only consult company 1's prospects.
	number := &model.PhoneNumber{ID: 7, CompanyID: 1, Phone: "2068887771"}
	prospect := &model.Prospect{ID: 21, CompanyID: 1, PhoneRaw: "3234567890"}

	m.phones.On("FindPhoneNumberByPhone", mock.Anything, "2068887771").Return(number, nil)
	m.companies.On("FindCompanyByID", mock.Anything, int64(1)).Return(&model.Company{ID: 1}, nil)
	m.prospects.On("FindProspectForInbound", mock.Anything, int64(1), "3234567890", int64(7)).Return(prospect, nil)

	res, err := r.ResolveInbound(context.Background(), "+13234567890", "+12068887771")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Prospect.CompanyID)
	m.prospects.AssertCalled(t, "FindProspectForInbound", mock.Anything, int64(1), "3234567890", int64(7))
}

func TestResolveInbound_UnknownNumber(t *testing.T) {
	r, m := newResolver()
	noLease(m)

	m.phones.On("FindPhoneNumberByPhone", mock.Anything, "2068880000").Return(nil, apperrors.ErrNotFound)

	res, err := r.ResolveInbound(context.Background(), "+13234567890", "+12068880000")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnknownNumber)
}

func TestResolveInbound_NoProspect_BlockUnknown(t *testing.T) {
	r, m := newResolver()
	noLease(m)

	number := &model.PhoneNumber{ID: 7, CompanyID: 3, Phone: "2068887771"}
	company := &model.Company{ID: 3, BlockUnknownCallers: true}

	m.phones.On("FindPhoneNumberByPhone", mock.Anything, "2068887771").Return(number, nil)
	m.companies.On("FindCompanyByID", mock.Anything, int64(3)).Return(company, nil)
	m.prospects.On("FindProspectForInbound", mock.Anything, int64(3), "3234567890", int64(7)).Return(nil, apperrors.ErrNotFound)

	res, err := r.ResolveInbound(context.Background(), "+13234567890", "+12068887771")
	assert.ErrorIs(t, err, ErrNoProspect)
	require.NotNil(t, res)
	assert.True(t, res.Blocked)
	assert.Equal(t, company, res.Company)
}

func TestResolveInbound_RelayOutbound(t *testing.T) {
	r, m := newResolver()

	agent := &model.AgentProfile{ID: 5, CompanyID: 3, Phone: "2065551234"}
	prospect := &model.Prospect{ID: 11, CompanyID: 3, PhoneRaw: "3234567890"}
	lease := &model.ProspectRelay{
		ID:             9,
		ProspectID:     11,
		AgentProfileID: 5,
		Prospect:       prospect,
		Agent:          agent,
		RelayNumber:    &model.RelayNumber{ID: 2, Phone: "2068889999"},
	}
	company := &model.Company{ID: 3}

	// Agent texting the relay number they lease.
	m.relays.On("FindLeaseByNumbers", mock.Anything, "2068889999", "2065551234").Return(lease, nil)
	m.companies.On("FindCompanyByID", mock.Anything, int64(3)).Return(company, nil)

	res, err := r.ResolveInbound(context.Background(), "+12065551234", "+12068889999")
	require.NoError(t, err)
	assert.True(t, res.RelayMediated())
	assert.Equal(t, model.CallTypeOutbound, res.Direction)
	assert.Equal(t, prospect, res.Prospect)
	assert.Equal(t, agent, res.Agent)
	m.phones.AssertNotCalled(t, "FindPhoneNumberByPhone", mock.Anything, mock.Anything)
}

func TestResolveInbound_RelayInbound(t *testing.T) {
	r, m := newResolver()

	prospect := &model.Prospect{ID: 11, CompanyID: 3, PhoneRaw: "3234567890"}
	lease := &model.ProspectRelay{
		ID:          9,
		ProspectID:  11,
		Prospect:    prospect,
		Agent:       &model.AgentProfile{ID: 5, CompanyID: 3},
		RelayNumber: &model.RelayNumber{ID: 2, Phone: "2068889999"},
	}

	m.relays.On("FindLeaseByNumbers", mock.Anything, "2068889999", "3234567890").Return(nil, apperrors.ErrNotFound)
	m.relays.On("FindLeaseByRelayAndProspect", mock.Anything, "2068889999", "3234567890").Return(lease, nil)
	m.companies.On("FindCompanyByID", mock.Anything, int64(3)).Return(&model.Company{ID: 3}, nil)

	res, err := r.ResolveInbound(context.Background(), "+13234567890", "+12068889999")
	require.NoError(t, err)
	assert.True(t, res.RelayMediated())
	assert.Equal(t, model.CallTypeInbound, res.Direction)
}
