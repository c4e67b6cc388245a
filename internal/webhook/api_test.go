package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/outbound"
	storagemock "gitlab.com/hearthline/api/telephony-engine/internal/storage/mock"
)

type relayServiceMock struct {
	mock.Mock
}

func (m *relayServiceMock) Connect(ctx context.Context, agent *model.AgentProfile, prospect *model.Prospect) (*model.ProspectRelay, error) {
	args := m.Called(ctx, agent, prospect)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProspectRelay), args.Error(1)
}

func (m *relayServiceMock) Disconnect(ctx context.Context, lease *model.ProspectRelay) error {
	args := m.Called(ctx, lease)
	return args.Error(0)
}

type batchSenderMock struct {
	mock.Mock
}

func (m *batchSenderMock) Send(ctx context.Context, req outbound.SendRequest) (*outbound.Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbound.Outcome), args.Error(1)
}

type apiMocks struct {
	relay  *relayServiceMock
	sender *batchSenderMock
	repo   *storagemock.RepositoryMock
}

func newAPIServer() (*Server, *apiMocks) {
	m := &apiMocks{
		relay:  new(relayServiceMock),
		sender: new(batchSenderMock),
		repo:   new(storagemock.RepositoryMock),
	}
	s, _ := newTestServer(&stubAdapter{provider: "telnyx"})
	s.RegisterAPIRoutes(NewAPIHandler(m.relay, m.sender, m.repo, m.repo))
	return s, m
}

func postBody(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestRelayConnectEndpoint(t *testing.T) {
	s, m := newAPIServer()
	agent := &model.AgentProfile{ID: 51}
	prospect := &model.Prospect{ID: 21}
	m.repo.RelayRepoMock.On("FindAgentByID", mock.Anything, int64(51)).Return(agent, nil)
	m.repo.ProspectRepoMock.On("FindProspectByID", mock.Anything, int64(21)).Return(prospect, nil)
	m.relay.On("Connect", mock.Anything, agent, prospect).
		Return(&model.ProspectRelay{ID: 41, ProspectID: 21, AgentProfileID: 51}, nil)

	rec := postBody(s, "/api/relay/connect", `{"agent_profile_id":51,"prospect_id":21}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":41`)
}

func TestRelayConnectLimitIs422(t *testing.T) {
	s, m := newAPIServer()
	m.repo.RelayRepoMock.On("FindAgentByID", mock.Anything, int64(51)).
		Return(&model.AgentProfile{ID: 51}, nil)
	m.repo.ProspectRepoMock.On("FindProspectByID", mock.Anything, int64(21)).
		Return(&model.Prospect{ID: 21}, nil)
	m.relay.On("Connect", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, model.RelayErrMaxAssignments))

	rec := postBody(s, "/api/relay/connect", `{"agent_profile_id":51,"prospect_id":21}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), model.RelayErrMaxAssignments)
}

func TestRelayConnectMissingFieldIs422(t *testing.T) {
	s, m := newAPIServer()

	rec := postBody(s, "/api/relay/connect", `{"agent_profile_id":51}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	m.relay.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayDisconnectEndpoint(t *testing.T) {
	s, m := newAPIServer()
	lease := &model.ProspectRelay{ID: 41, ProspectID: 21, AgentProfileID: 51}
	m.repo.RelayRepoMock.On("FindRelayLease", mock.Anything, int64(21), int64(51)).Return(lease, nil)
	m.relay.On("Disconnect", mock.Anything, lease).Return(nil)

	rec := postBody(s, "/api/relay/disconnect", `{"agent_profile_id":51,"prospect_id":21}`)

	require.Equal(t, http.StatusOK, rec.Code)
	m.relay.AssertCalled(t, "Disconnect", mock.Anything, lease)
}

func TestRelayDisconnectUnknownLeaseIs404(t *testing.T) {
	s, m := newAPIServer()
	m.repo.RelayRepoMock.On("FindRelayLease", mock.Anything, int64(21), int64(51)).
		Return(nil, fmt.Errorf("%w: relay lease", apperrors.ErrNotFound))

	rec := postBody(s, "/api/relay/disconnect", `{"agent_profile_id":51,"prospect_id":21}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	m.relay.AssertNotCalled(t, "Disconnect", mock.Anything, mock.Anything)
}

func TestOutboundSendEndpoint(t *testing.T) {
	s, m := newAPIServer()
	m.sender.On("Send", mock.Anything, outbound.SendRequest{
		CampaignID: 5, ProspectID: 21, BatchID: 3, Body: "hello",
	}).Return(&outbound.Outcome{MessageID: 99, ProviderMessageID: "pm-1"}, nil)

	rec := postBody(s, "/api/outbound/send",
		`{"campaign_id":5,"prospect_id":21,"batch_id":3,"body":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider_message_id":"pm-1"`)
}

func TestOutboundSendProviderFailureIs502(t *testing.T) {
	s, m := newAPIServer()
	m.sender.On("Send", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: telnyx 500", apperrors.ErrProvider))

	rec := postBody(s, "/api/outbound/send",
		`{"campaign_id":5,"prospect_id":21,"batch_id":3,"body":"hello"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestOutboundSendInvalidJSONIs400(t *testing.T) {
	s, m := newAPIServer()

	rec := postBody(s, "/api/outbound/send", `{`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	m.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
