package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	storagemock "gitlab.com/hearthline/api/telephony-engine/internal/storage/mock"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

type messengerMock struct {
	mock.Mock
}

func (m *messengerMock) Provider() string { return model.ProviderTelnyx }

func (m *messengerMock) SendMessage(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SendResult), args.Error(1)
}

func (m *messengerMock) PurchaseNumber(ctx context.Context, areaCode string) (*provider.NumberOrder, error) {
	args := m.Called(ctx, areaCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.NumberOrder), args.Error(1)
}

func (m *messengerMock) ReleaseNumber(ctx context.Context, providerNumberID string) error {
	args := m.Called(ctx, providerNumberID)
	return args.Error(0)
}

func newAllocator(maxConnections int) (*Allocator, *storagemock.RelayRepoMock, *messengerMock) {
	relays := new(storagemock.RelayRepoMock)
	messages := new(storagemock.MessageRepoMock)
	messenger := new(messengerMock)
	a := NewAllocator(relays, messages, messenger, events.NopPublisher{},
		config.RelayConfig{MaxConnections: maxConnections}, "https://console.example.com")
	return a, relays, messenger
}

func testAgent() *model.AgentProfile {
	a := model.NewAgentProfile(3)
	a.ID = 5
	a.Phone = "2065551234"
	return a
}

func testProspect() *model.Prospect {
	p := model.NewProspect(3)
	p.ID = 11
	p.FirstName = "Pat"
	p.LastName = "Doe"
	return p
}

func testRelayNumber() *model.RelayNumber {
	n := model.NewRelayNumber()
	n.ID = 2
	n.Phone = "2068889999"
	return n
}

func TestConnect_Success(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	agent, prospect := testAgent(), testProspect()
	number := testRelayNumber()
	number.Status = model.RelayStatusPending

	relays.On("CountAgentLeases", mock.Anything, int64(5)).Return(int64(3), nil)
	relays.On("FindRelayLease", mock.Anything, int64(11), int64(5)).Return(nil, apperrors.ErrNotFound)
	relays.On("ClaimAvailableNumber", mock.Anything, int64(5)).Return(number, nil)
	messenger.On("SendMessage", mock.Anything, mock.Anything).Return(&provider.SendResult{ProviderMessageID: "m1"}, nil)
	relays.On("CreateLease", mock.Anything, mock.AnythingOfType("*model.ProspectRelay")).Return(nil)
	relays.On("ActivateNumber", mock.Anything, int64(2)).Return(nil)

	lease, err := a.Connect(context.Background(), agent, prospect)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lease.RelayNumberID)

	// Two-part notification: status text then conversation link, both from
	// the relay number to the agent's personal phone.
	sends := messenger.Calls
	require.Len(t, sends, 2)
	first := sends[0].Arguments.Get(1).(provider.SendRequest)
	second := sends[1].Arguments.Get(1).(provider.SendRequest)
	assert.Equal(t, "+12068889999", first.From)
	assert.Equal(t, "+12065551234", first.To)
	assert.Contains(t, first.Body, "Pat Doe")
	assert.Contains(t, second.Body, "/prospects/11")
}

func TestConnect_MaxAssignmentsReached(t *testing.T) {
	a, relays, messenger := newAllocator(16)

	// 16 leases held: the 17th connect must fail.
	relays.On("CountAgentLeases", mock.Anything, int64(5)).Return(int64(16), nil)

	lease, err := a.Connect(context.Background(), testAgent(), testProspect())
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrMaxAssignments)
	relays.AssertNotCalled(t, "ClaimAvailableNumber", mock.Anything, mock.Anything)
	messenger.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestConnect_PoolExhausted(t *testing.T) {
	a, relays, _ := newAllocator(16)

	relays.On("CountAgentLeases", mock.Anything, int64(5)).Return(int64(0), nil)
	relays.On("FindRelayLease", mock.Anything, int64(11), int64(5)).Return(nil, apperrors.ErrNotFound)
	relays.On("ClaimAvailableNumber", mock.Anything, int64(5)).
		Return(nil, fmt.Errorf("%w: %s", apperrors.ErrConflict, model.RelayErrNoAvailableNumbers))

	lease, err := a.Connect(context.Background(), testAgent(), testProspect())
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrNoAvailableNumbers)
}

func TestConnect_NotificationFailureReleasesClaim(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	number := testRelayNumber()

	relays.On("CountAgentLeases", mock.Anything, int64(5)).Return(int64(0), nil)
	relays.On("FindRelayLease", mock.Anything, int64(11), int64(5)).Return(nil, apperrors.ErrNotFound)
	relays.On("ClaimAvailableNumber", mock.Anything, int64(5)).Return(number, nil)
	messenger.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("telnyx 500"))
	relays.On("ActivateNumber", mock.Anything, int64(2)).Return(nil)

	lease, err := a.Connect(context.Background(), testAgent(), testProspect())
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, apperrors.ErrProvider)
	relays.AssertCalled(t, "ActivateNumber", mock.Anything, int64(2))
	relays.AssertNotCalled(t, "CreateLease", mock.Anything, mock.Anything)
}

func TestConnect_ExistingLeaseReturned(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	existing := &model.ProspectRelay{ID: 9, ProspectID: 11, AgentProfileID: 5, RelayNumberID: 2}

	relays.On("CountAgentLeases", mock.Anything, int64(5)).Return(int64(1), nil)
	relays.On("FindRelayLease", mock.Anything, int64(11), int64(5)).Return(existing, nil)

	lease, err := a.Connect(context.Background(), testAgent(), testProspect())
	require.NoError(t, err)
	assert.Equal(t, existing, lease)
	relays.AssertNotCalled(t, "ClaimAvailableNumber", mock.Anything, mock.Anything)
	messenger.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestDisconnect_ReleasesDespiteNotificationFailure(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	lease := &model.ProspectRelay{
		ID:          9,
		Agent:       testAgent(),
		RelayNumber: testRelayNumber(),
	}

	messenger.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("telnyx down"))
	relays.On("ReleaseLease", mock.Anything, int64(9)).Return(nil)

	err := a.Disconnect(context.Background(), lease)
	require.NoError(t, err)
	relays.AssertCalled(t, "ReleaseLease", mock.Anything, int64(9))
}

func TestSend_MasksProspectBehindRelayNumber(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	lease := &model.ProspectRelay{
		ID:          9,
		Agent:       testAgent(),
		Prospect:    testProspect(),
		RelayNumber: testRelayNumber(),
	}

	messenger.On("SendMessage", mock.Anything, mock.Anything).Return(&provider.SendResult{ProviderMessageID: "m2"}, nil)
	relays.On("TouchLease", mock.Anything, int64(9), mock.Anything).Return(nil)

	require.NoError(t, a.Send(context.Background(), lease, "hello", ""))

	req := messenger.Calls[0].Arguments.Get(1).(provider.SendRequest)
	assert.Equal(t, "+12068889999", req.From)
	assert.Equal(t, "+12065551234", req.To)

	require.NoError(t, a.SendFromRep(context.Background(), lease, "hi back", ""))
	req = messenger.Calls[1].Arguments.Get(1).(provider.SendRequest)
	assert.Equal(t, "+12068889999", req.From)
	assert.Equal(t, "+1"+lease.Prospect.PhoneRaw, req.To)
	relays.AssertNumberOfCalls(t, "TouchLease", 2)
}

func TestSend_MediaOnlyBodyRewritten(t *testing.T) {
	a, relays, messenger := newAllocator(16)
	lease := &model.ProspectRelay{
		ID:          9,
		Agent:       testAgent(),
		Prospect:    testProspect(),
		RelayNumber: testRelayNumber(),
	}

	messenger.On("SendMessage", mock.Anything, mock.Anything).Return(&provider.SendResult{ProviderMessageID: "m3"}, nil)
	relays.On("TouchLease", mock.Anything, int64(9), mock.Anything).Return(nil)

	require.NoError(t, a.Send(context.Background(), lease, model.NoTextSentinel, "https://cdn.example.com/a.jpg"))

	req := messenger.Calls[0].Arguments.Get(1).(provider.SendRequest)
	assert.Equal(t, "(image attached)", req.Body)
	assert.Equal(t, "https://cdn.example.com/a.jpg", req.MediaURL)
}
