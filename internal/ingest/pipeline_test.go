package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/classifier"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/resolver"
	storagemock "gitlab.com/hearthline/api/telephony-engine/internal/storage/mock"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

type resolverMock struct {
	mock.Mock
}

func (m *resolverMock) ResolveInbound(ctx context.Context, from, to string) (*resolver.Resolution, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*resolver.Resolution), args.Error(1)
}

type classifierMock struct {
	mock.Mock
}

func (m *classifierMock) Classify(ctx context.Context, body string, checkAutoDead bool) classifier.Result {
	args := m.Called(ctx, body, checkAutoDead)
	return args.Get(0).(classifier.Result)
}

type relayMock struct {
	mock.Mock
}

func (m *relayMock) Send(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error {
	args := m.Called(ctx, lease, body, mediaURL)
	return args.Error(0)
}

func (m *relayMock) SendFromRep(ctx context.Context, lease *model.ProspectRelay, body, mediaURL string) error {
	args := m.Called(ctx, lease, body, mediaURL)
	return args.Error(0)
}

type pipelineMocks struct {
	resolver   *resolverMock
	classifier *classifierMock
	relay      *relayMock
	repo       *storagemock.RepositoryMock
}

func newPipeline() (*Pipeline, *pipelineMocks) {
	m := &pipelineMocks{
		resolver:   new(resolverMock),
		classifier: new(classifierMock),
		relay:      new(relayMock),
		repo:       new(storagemock.RepositoryMock),
	}
	p := NewPipeline(m.resolver, m.classifier, m.relay, m.repo, events.NopPublisher{})
	p.now = func() time.Time { return time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC) }
	return p, m
}

func inboundEvent(body string) *normalizer.InboundEvent {
	return &normalizer.InboundEvent{
		Kind:              normalizer.KindMessageReceived,
		Provider:          "telnyx",
		From:              "+12065550100",
		To:                "+12068881111",
		Body:              body,
		ProviderMessageID: "msg-abc",
		Raw:               []byte(`{}`),
	}
}

func prospectResolution() *resolver.Resolution {
	return &resolver.Resolution{
		PhoneNumber: &model.PhoneNumber{ID: 11, CompanyID: 1, MarketID: 4, Phone: "2068881111"},
		Company:     &model.Company{ID: 1},
		Prospect:    &model.Prospect{ID: 21, CompanyID: 1, PhoneRaw: "2065550100"},
		Direction:   model.CallTypeInbound,
	}
}

// expectReplyPath registers the storage calls every non-dead reply makes.
func expectReplyPath(m *pipelineMocks, res *resolver.Resolution, membership *model.CampaignProspect) {
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, res.Prospect.ID, mock.Anything).Return(nil)
	m.repo.ProspectRepoMock.On("IncrementUnread", mock.Anything, res.Prospect.ID).Return(1, nil)
	m.repo.CampaignRepoMock.On("MarkMembershipResponded", mock.Anything, res.Prospect.ID, mock.Anything).Return(nil)
	if membership != nil && membership.StatsBatchID != nil {
		m.repo.CampaignRepoMock.On("IncrementBatchReceived", mock.Anything, *membership.StatsBatchID).Return(nil)
	}
	m.repo.PhoneNumberRepoMock.On("RecordReceive", mock.Anything, res.PhoneNumber.ID, mock.Anything).Return(nil)
	m.repo.RelayRepoMock.On("FindLeaseByProspect", mock.Anything, res.Prospect.ID).
		Return(nil, fmt.Errorf("%w: relay lease", apperrors.ErrNotFound))
}

func TestProcessInboundMessageProspectReply(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	ev := inboundEvent("Yes, tell me more")

	batch := model.NewStatsBatch(5, 4)
	membership := model.NewCampaignProspect(5, 21, &batch.ID)
	membership.ID = 31
	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).Return(membership, nil)
	m.repo.CampaignRepoMock.On("FindCampaignByID", mock.Anything, int64(5)).
		Return(&model.Campaign{ID: 5, AutoDead: true}, nil)
	m.classifier.On("Classify", mock.Anything, ev.Body, true).Return(classifier.Result{})

	var saved *model.SMSMessage
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.SMSMessage) }).
		Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageResponseReceived).
		Return(&model.LeadStage{ID: 30, CompanyID: 1, Title: model.LeadStageResponseReceived}, nil)
	m.repo.ProspectRepoMock.On("SaveProspect", mock.Anything, mock.Anything).Return(nil)
	expectReplyPath(m, res, membership)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	require.NotNil(t, saved)
	assert.True(t, saved.FromProspect)
	assert.True(t, saved.UnreadByRecipient)
	assert.Equal(t, "+12068881111", saved.OurNumber)
	assert.Equal(t, "+12065550100", saved.ContactNumber)
	assert.Equal(t, model.MessageStatusDelivered, saved.Status)
	require.NotNil(t, saved.CampaignID)
	assert.Equal(t, int64(5), *saved.CampaignID)
	require.NotNil(t, saved.MarketID)
	assert.Equal(t, int64(4), *saved.MarketID)

	require.NotNil(t, res.Prospect.LeadStageID)
	assert.Equal(t, int64(30), *res.Prospect.LeadStageID)
	m.repo.CampaignRepoMock.AssertCalled(t, "IncrementBatchReceived", mock.Anything, int64(7))
}

func TestProcessInboundMessageAutoDeadKeyword(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	ev := inboundEvent("not interested, remove me")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	enabled := true
	res.Company.AutoDeadEnabled = &enabled
	m.classifier.On("Classify", mock.Anything, ev.Body, true).
		Return(classifier.Result{AutoDead: true, AutoDeadSource: "keyword"})

	var saved *model.SMSMessage
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.SMSMessage) }).
		Return(nil)
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageDeadAuto).
		Return(&model.LeadStage{ID: 33, CompanyID: 1, Title: model.LeadStageDeadAuto}, nil)
	m.repo.ProspectRepoMock.On("SetAutoDead", mock.Anything, int64(21), mock.Anything).
		Run(func(args mock.Arguments) {
			stageID := args.Get(2).(*int64)
			require.NotNil(t, stageID)
			assert.Equal(t, int64(33), *stageID)
		}).
		Return(nil)
	m.repo.PhoneNumberRepoMock.On("IncrementAutoDead", mock.Anything, int64(11)).Return(nil)
	m.repo.PhoneNumberRepoMock.On("RecordReceive", mock.Anything, int64(11), mock.Anything).Return(nil)
	m.repo.RelayRepoMock.On("FindLeaseByProspect", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: relay lease", apperrors.ErrNotFound))

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	require.NotNil(t, saved)
	assert.False(t, saved.UnreadByRecipient)
	m.repo.ProspectRepoMock.AssertNotCalled(t, "IncrementUnread", mock.Anything, mock.Anything)
	m.repo.CampaignRepoMock.AssertNotCalled(t, "MarkMembershipResponded", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInboundMessageStopPropagatesOptOut(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	res.Company.AutoFilterMessages = true
	ev := inboundEvent("STOP")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, mock.Anything).Return(classifier.Result{})

	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageDeadAuto).
		Return(nil, fmt.Errorf("%w: lead stage", apperrors.ErrNotFound))
	m.repo.ProspectRepoMock.On("SetAutoDead", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.PhoneNumberRepoMock.On("IncrementAutoDead", mock.Anything, int64(11)).Return(nil)
	m.repo.ProspectRepoMock.On("PropagateOptOut", mock.Anything, int64(1), "2065550100").Return(int64(3), nil)
	m.repo.PhoneNumberRepoMock.On("IncrementOptOuts", mock.Anything, int64(11)).Return(nil)
	m.repo.PhoneNumberRepoMock.On("RecordReceive", mock.Anything, int64(11), mock.Anything).Return(nil)
	m.repo.RelayRepoMock.On("FindLeaseByProspect", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: relay lease", apperrors.ErrNotFound))

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.ProspectRepoMock.AssertCalled(t, "PropagateOptOut", mock.Anything, int64(1), "2065550100")
	m.repo.ProspectRepoMock.AssertCalled(t, "SetAutoDead", mock.Anything, int64(21), mock.Anything)
}

func TestProcessInboundMessageStopWithoutAutoFilter(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	disabled := false
	res.Company.AutoDeadEnabled = &disabled
	ev := inboundEvent("stop")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, false).Return(classifier.Result{})

	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageResponseReceived).
		Return(nil, fmt.Errorf("%w: lead stage", apperrors.ErrNotFound))
	m.repo.ProspectRepoMock.On("PropagateOptOut", mock.Anything, int64(1), "2065550100").Return(int64(1), nil)
	m.repo.PhoneNumberRepoMock.On("IncrementOptOuts", mock.Anything, int64(11)).Return(nil)
	expectReplyPath(m, res, nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	// Without auto filtering the reply stays a live response; the opt out
	// still propagates.
	m.repo.ProspectRepoMock.AssertNotCalled(t, "SetAutoDead", mock.Anything, mock.Anything, mock.Anything)
	m.repo.ProspectRepoMock.AssertCalled(t, "IncrementUnread", mock.Anything, int64(21))
	m.repo.ProspectRepoMock.AssertCalled(t, "PropagateOptOut", mock.Anything, int64(1), "2065550100")
}

func TestProcessInboundMessageWrongNumberAndLitigator(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	res.Prospect.HasResponded = true
	ev := inboundEvent("wrong number, I will report you")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, false).
		Return(classifier.Result{WrongNumber: true, LitigatorReport: true})

	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.ProspectRepoMock.On("SetWrongNumber", mock.Anything, int64(21)).Return(nil)
	m.repo.ComplianceRepoMock.On("SaveLitigatorReport", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			report := args.Get(1).(*model.LitigatorReport)
			assert.Equal(t, int64(21), report.ProspectID)
		}).
		Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageResponseReceived).
		Return(nil, fmt.Errorf("%w: lead stage", apperrors.ErrNotFound))
	expectReplyPath(m, res, nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.ProspectRepoMock.AssertCalled(t, "SetWrongNumber", mock.Anything, int64(21))
	m.repo.ComplianceRepoMock.AssertCalled(t, "SaveLitigatorReport", mock.Anything, mock.Anything)
}

func TestProcessInboundMessageScoringAudit(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	ev := inboundEvent("leave me be")

	score := 0.93
	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, mock.Anything).
		Return(classifier.Result{AutoDead: true, AutoDeadSource: "score", Score: &score})

	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.ComplianceRepoMock.On("SaveAutoDeadDetection", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			detection := args.Get(1).(*model.AutoDeadDetection)
			assert.Equal(t, ev.Body, detection.Message)
			assert.Equal(t, 0.93, detection.Score)
			assert.True(t, detection.MarkedAutoDead)
		}).
		Return(nil)
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageDeadAuto).
		Return(nil, fmt.Errorf("%w: lead stage", apperrors.ErrNotFound))
	m.repo.ProspectRepoMock.On("SetAutoDead", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.PhoneNumberRepoMock.On("IncrementAutoDead", mock.Anything, int64(11)).Return(nil)
	m.repo.PhoneNumberRepoMock.On("RecordReceive", mock.Anything, int64(11), mock.Anything).Return(nil)
	m.repo.RelayRepoMock.On("FindLeaseByProspect", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: relay lease", apperrors.ErrNotFound))

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.ComplianceRepoMock.AssertCalled(t, "SaveAutoDeadDetection", mock.Anything, mock.Anything)
}

func TestProcessInboundMessageUnknownNumberDropped(t *testing.T) {
	p, m := newPipeline()
	ev := inboundEvent("hello")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).
		Return(nil, resolver.ErrUnknownNumber)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.MessageRepoMock.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything)
}

func TestProcessInboundMessageResolverFailurePropagates(t *testing.T) {
	p, m := newPipeline()
	ev := inboundEvent("hello")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).
		Return(nil, errors.New("connection refused"))

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.Error(t, err)
}

func TestProcessInboundMessageDuplicateDelivery(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	res.Prospect.HasResponded = true
	ev := inboundEvent("hello again")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, false).Return(classifier.Result{})
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: provider_message_id", apperrors.ErrDuplicate))

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.ProspectRepoMock.AssertNotCalled(t, "MarkResponded", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInboundMessageRelayInboundForwards(t *testing.T) {
	p, m := newPipeline()
	lease := &model.ProspectRelay{
		ID:             41,
		ProspectID:     21,
		AgentProfileID: 51,
		RelayNumberID:  61,
		Prospect:       &model.Prospect{ID: 21, CompanyID: 1, PhoneRaw: "2065550100"},
		Agent:          &model.AgentProfile{ID: 51, Phone: "2065550999"},
		RelayNumber:    &model.RelayNumber{ID: 61, Phone: "2067770001"},
	}
	res := &resolver.Resolution{
		Relay:     lease,
		Prospect:  lease.Prospect,
		Agent:     lease.Agent,
		Direction: model.CallTypeInbound,
	}
	ev := inboundEvent("is the offer still open?")
	ev.To = "+12067770001"

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.relay.On("Send", mock.Anything, lease, ev.Body, "").Return(nil)

	var saved *model.SMSMessage
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.SMSMessage) }).
		Return(nil)
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, int64(21), mock.Anything).Return(nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.relay.AssertCalled(t, "Send", mock.Anything, lease, ev.Body, "")
	require.NotNil(t, saved)
	assert.True(t, saved.FromProspect)
	assert.False(t, saved.UnreadByRecipient)
	assert.Equal(t, "+12067770001", saved.OurNumber)
}

func TestProcessInboundMessageRelayOutboundMasks(t *testing.T) {
	p, m := newPipeline()
	lease := &model.ProspectRelay{
		ID:          41,
		Prospect:    &model.Prospect{ID: 21, CompanyID: 1, PhoneRaw: "2065550100"},
		Agent:       &model.AgentProfile{ID: 51, Phone: "2065550999"},
		RelayNumber: &model.RelayNumber{ID: 61, Phone: "2067770001"},
	}
	res := &resolver.Resolution{
		Relay:     lease,
		Prospect:  lease.Prospect,
		Agent:     lease.Agent,
		Direction: model.CallTypeOutbound,
	}
	ev := inboundEvent("happy to set up a visit")
	ev.From = "+12065550999"
	ev.To = "+12067770001"

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.relay.On("SendFromRep", mock.Anything, lease, ev.Body, "").Return(nil)

	var saved *model.SMSMessage
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*model.SMSMessage) }).
		Return(nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.relay.AssertCalled(t, "SendFromRep", mock.Anything, lease, ev.Body, "")
	require.NotNil(t, saved)
	assert.False(t, saved.FromProspect)
	m.repo.ProspectRepoMock.AssertNotCalled(t, "MarkResponded", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInboundMessageMirrorsToRelayLease(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	res.Prospect.HasResponded = true
	ev := inboundEvent("sure, when works?")

	lease := &model.ProspectRelay{ID: 41, ProspectID: 21}
	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, false).Return(classifier.Result{})
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageResponseReceived).
		Return(nil, fmt.Errorf("%w: lead stage", apperrors.ErrNotFound))
	m.repo.ProspectRepoMock.On("MarkResponded", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.ProspectRepoMock.On("IncrementUnread", mock.Anything, int64(21)).Return(1, nil)
	m.repo.CampaignRepoMock.On("MarkMembershipResponded", mock.Anything, int64(21), mock.Anything).Return(nil)
	m.repo.PhoneNumberRepoMock.On("RecordReceive", mock.Anything, int64(11), mock.Anything).Return(nil)
	m.repo.RelayRepoMock.On("FindLeaseByProspect", mock.Anything, int64(21)).Return(lease, nil)
	m.relay.On("Send", mock.Anything, lease, ev.Body, "").Return(nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.relay.AssertCalled(t, "Send", mock.Anything, lease, ev.Body, "")
}

func TestProcessInboundMessageManualStagePreserved(t *testing.T) {
	p, m := newPipeline()
	res := prospectResolution()
	res.Prospect.HasResponded = true
	manual := int64(99)
	res.Prospect.LeadStageID = &manual
	ev := inboundEvent("thinking about it")

	m.resolver.On("ResolveInbound", mock.Anything, ev.From, ev.To).Return(res, nil)
	m.repo.CampaignRepoMock.On("FindLatestMembership", mock.Anything, int64(21)).
		Return(nil, fmt.Errorf("%w: membership", apperrors.ErrNotFound))
	m.classifier.On("Classify", mock.Anything, ev.Body, false).Return(classifier.Result{})
	m.repo.MessageRepoMock.On("SaveMessage", mock.Anything, mock.Anything).Return(nil)
	m.repo.CompanyRepoMock.On("FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageInitialSent).
		Return(&model.LeadStage{ID: 10, CompanyID: 1, Title: model.LeadStageInitialSent}, nil)
	expectReplyPath(m, res, nil)

	err := p.ProcessInboundMessage(context.Background(), ev)
	require.NoError(t, err)

	m.repo.ProspectRepoMock.AssertNotCalled(t, "SaveProspect", mock.Anything, mock.Anything)
	m.repo.CompanyRepoMock.AssertNotCalled(t, "FindLeadStageByTitle", mock.Anything, int64(1), model.LeadStageResponseReceived)
}
