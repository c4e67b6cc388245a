package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// --- Repository Mock (Combined Interface) ---

// RepositoryMock mocks the combined Repository interface
type RepositoryMock struct {
	mock.Mock
	CompanyRepoMock
	MarketRepoMock
	PhoneNumberRepoMock
	ProspectRepoMock
	CampaignRepoMock
	MessageRepoMock
	RelayRepoMock
	CallRepoMock
	ComplianceRepoMock
}

// Close mocks the Close method
func (m *RepositoryMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- CompanyRepo Mock ---

// CompanyRepoMock mocks the CompanyRepo interface
type CompanyRepoMock struct {
	mock.Mock
}

func (m *CompanyRepoMock) FindCompanyByID(ctx context.Context, id int64) (*model.Company, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

func (m *CompanyRepoMock) SaveCompany(ctx context.Context, company *model.Company) error {
	args := m.Called(ctx, company)
	return args.Error(0)
}

func (m *CompanyRepoMock) FindLeadStageByTitle(ctx context.Context, companyID int64, title string) (*model.LeadStage, error) {
	args := m.Called(ctx, companyID, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LeadStage), args.Error(1)
}

// --- MarketRepo Mock ---

// MarketRepoMock mocks the MarketRepo interface
type MarketRepoMock struct {
	mock.Mock
}

func (m *MarketRepoMock) FindMarketByID(ctx context.Context, id int64) (*model.Market, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Market), args.Error(1)
}

func (m *MarketRepoMock) SetSpamCooldown(ctx context.Context, marketID int64, until time.Time) error {
	args := m.Called(ctx, marketID, until)
	return args.Error(0)
}

func (m *MarketRepoMock) IncrementDailySend(ctx context.Context, marketID int64) error {
	args := m.Called(ctx, marketID)
	return args.Error(0)
}

func (m *MarketRepoMock) ResetDailySendCounts(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MarketRepoMock) AdvanceAssignIndex(ctx context.Context, marketID int64, index int) error {
	args := m.Called(ctx, marketID, index)
	return args.Error(0)
}

// --- PhoneNumberRepo Mock ---

// PhoneNumberRepoMock mocks the PhoneNumberRepo interface
type PhoneNumberRepoMock struct {
	mock.Mock
}

func (m *PhoneNumberRepoMock) FindPhoneNumberByID(ctx context.Context, id int64) (*model.PhoneNumber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhoneNumber), args.Error(1)
}

func (m *PhoneNumberRepoMock) FindPhoneNumberByPhone(ctx context.Context, phone string) (*model.PhoneNumber, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhoneNumber), args.Error(1)
}

func (m *PhoneNumberRepoMock) FindUsableNumbersByMarket(ctx context.Context, marketID int64) ([]model.PhoneNumber, error) {
	args := m.Called(ctx, marketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PhoneNumber), args.Error(1)
}

func (m *PhoneNumberRepoMock) UpdatePhoneNumberStatus(ctx context.Context, id int64, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *PhoneNumberRepoMock) RecordSend(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *PhoneNumberRepoMock) RecordReceive(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *PhoneNumberRepoMock) IncrementOptOuts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *PhoneNumberRepoMock) IncrementAutoDead(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *PhoneNumberRepoMock) SavePhoneNumber(ctx context.Context, number *model.PhoneNumber) error {
	args := m.Called(ctx, number)
	return args.Error(0)
}

// --- ProspectRepo Mock ---

// ProspectRepoMock mocks the ProspectRepo interface
type ProspectRepoMock struct {
	mock.Mock
}

func (m *ProspectRepoMock) FindProspectByID(ctx context.Context, id int64) (*model.Prospect, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prospect), args.Error(1)
}

func (m *ProspectRepoMock) FindProspectByPhone(ctx context.Context, companyID int64, phone string) (*model.Prospect, error) {
	args := m.Called(ctx, companyID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prospect), args.Error(1)
}

func (m *ProspectRepoMock) FindProspectForInbound(ctx context.Context, companyID int64, phone string, phoneNumberID int64) (*model.Prospect, error) {
	args := m.Called(ctx, companyID, phone, phoneNumberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prospect), args.Error(1)
}

func (m *ProspectRepoMock) SaveProspect(ctx context.Context, prospect *model.Prospect) error {
	args := m.Called(ctx, prospect)
	return args.Error(0)
}

func (m *ProspectRepoMock) MarkResponded(ctx context.Context, prospectID int64, at time.Time) error {
	args := m.Called(ctx, prospectID, at)
	return args.Error(0)
}

func (m *ProspectRepoMock) IncrementUnread(ctx context.Context, prospectID int64) (int, error) {
	args := m.Called(ctx, prospectID)
	return args.Int(0), args.Error(1)
}

func (m *ProspectRepoMock) ClearUnread(ctx context.Context, prospectID int64) error {
	args := m.Called(ctx, prospectID)
	return args.Error(0)
}

func (m *ProspectRepoMock) PropagateOptOut(ctx context.Context, companyID int64, phone string) (int64, error) {
	args := m.Called(ctx, companyID, phone)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ProspectRepoMock) SetWrongNumber(ctx context.Context, prospectID int64) error {
	args := m.Called(ctx, prospectID)
	return args.Error(0)
}

func (m *ProspectRepoMock) SetAutoDead(ctx context.Context, prospectID int64, leadStageID *int64) error {
	args := m.Called(ctx, prospectID, leadStageID)
	return args.Error(0)
}

// --- CampaignRepo Mock ---

// CampaignRepoMock mocks the CampaignRepo interface
type CampaignRepoMock struct {
	mock.Mock
}

func (m *CampaignRepoMock) FindCampaignByID(ctx context.Context, id int64) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) FindCampaignProspect(ctx context.Context, campaignID, prospectID int64) (*model.CampaignProspect, error) {
	args := m.Called(ctx, campaignID, prospectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CampaignProspect), args.Error(1)
}

func (m *CampaignRepoMock) FindLatestMembership(ctx context.Context, prospectID int64) (*model.CampaignProspect, error) {
	args := m.Called(ctx, prospectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CampaignProspect), args.Error(1)
}

func (m *CampaignRepoMock) MarkProspectSkipped(ctx context.Context, cp *model.CampaignProspect, reason string) error {
	args := m.Called(ctx, cp, reason)
	return args.Error(0)
}

func (m *CampaignRepoMock) MarkProspectEligible(ctx context.Context, cp *model.CampaignProspect) error {
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func (m *CampaignRepoMock) MarkProspectSent(ctx context.Context, cp *model.CampaignProspect, batchID int64, at time.Time) error {
	args := m.Called(ctx, cp, batchID, at)
	return args.Error(0)
}

func (m *CampaignRepoMock) MarkMembershipResponded(ctx context.Context, prospectID int64, at time.Time) error {
	args := m.Called(ctx, prospectID, at)
	return args.Error(0)
}

func (m *CampaignRepoMock) FindStatsBatchByID(ctx context.Context, id int64) (*model.StatsBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StatsBatch), args.Error(1)
}

func (m *CampaignRepoMock) IncrementCampaignDelivered(ctx context.Context, campaignID int64) error {
	args := m.Called(ctx, campaignID)
	return args.Error(0)
}

func (m *CampaignRepoMock) IncrementBatchDelivered(ctx context.Context, batchID int64) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

func (m *CampaignRepoMock) IncrementBatchReceived(ctx context.Context, batchID int64) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) SaveMessage(ctx context.Context, message *model.SMSMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.SMSMessage, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SMSMessage), args.Error(1)
}

func (m *MessageRepoMock) UpdateMessageStatus(ctx context.Context, messageID int64, status string) error {
	args := m.Called(ctx, messageID, status)
	return args.Error(0)
}

func (m *MessageRepoMock) UpsertResult(ctx context.Context, messageID int64, status, errorCode string) (*model.SMSResult, error) {
	args := m.Called(ctx, messageID, status, errorCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SMSResult), args.Error(1)
}

func (m *MessageRepoMock) BatchResultStats(ctx context.Context, statsBatchID int64, spamErrorCode string) (int64, int64, error) {
	args := m.Called(ctx, statsBatchID, spamErrorCode)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MessageRepoMock) SaveReceipt(ctx context.Context, receipt *model.ReceiptSMSDirect) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MessageRepoMock) HasRecentReceipt(ctx context.Context, companyID int64, phone string, since time.Time) (bool, error) {
	args := m.Called(ctx, companyID, phone, since)
	return args.Bool(0), args.Error(1)
}

// --- RelayRepo Mock ---

// RelayRepoMock mocks the RelayRepo interface
type RelayRepoMock struct {
	mock.Mock
}

func (m *RelayRepoMock) CountAgentLeases(ctx context.Context, agentProfileID int64) (int64, error) {
	args := m.Called(ctx, agentProfileID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RelayRepoMock) FindRelayLease(ctx context.Context, prospectID, agentProfileID int64) (*model.ProspectRelay, error) {
	args := m.Called(ctx, prospectID, agentProfileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProspectRelay), args.Error(1)
}

func (m *RelayRepoMock) FindLeaseByNumbers(ctx context.Context, relayPhone, agentPhone string) (*model.ProspectRelay, error) {
	args := m.Called(ctx, relayPhone, agentPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProspectRelay), args.Error(1)
}

func (m *RelayRepoMock) FindLeaseByRelayAndProspect(ctx context.Context, relayPhone, prospectPhone string) (*model.ProspectRelay, error) {
	args := m.Called(ctx, relayPhone, prospectPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProspectRelay), args.Error(1)
}

func (m *RelayRepoMock) FindLeaseByProspect(ctx context.Context, prospectID int64) (*model.ProspectRelay, error) {
	args := m.Called(ctx, prospectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProspectRelay), args.Error(1)
}

func (m *RelayRepoMock) ClaimAvailableNumber(ctx context.Context, agentProfileID int64) (*model.RelayNumber, error) {
	args := m.Called(ctx, agentProfileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RelayNumber), args.Error(1)
}

func (m *RelayRepoMock) CreateLease(ctx context.Context, lease *model.ProspectRelay) error {
	args := m.Called(ctx, lease)
	return args.Error(0)
}

func (m *RelayRepoMock) ActivateNumber(ctx context.Context, relayNumberID int64) error {
	args := m.Called(ctx, relayNumberID)
	return args.Error(0)
}

func (m *RelayRepoMock) ReleaseLease(ctx context.Context, leaseID int64) error {
	args := m.Called(ctx, leaseID)
	return args.Error(0)
}

func (m *RelayRepoMock) TouchLease(ctx context.Context, leaseID int64, at time.Time) error {
	args := m.Called(ctx, leaseID, at)
	return args.Error(0)
}

func (m *RelayRepoMock) FindAgentByID(ctx context.Context, id int64) (*model.AgentProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AgentProfile), args.Error(1)
}

func (m *RelayRepoMock) FindAgentByPhone(ctx context.Context, companyID int64, phone string) (*model.AgentProfile, error) {
	args := m.Called(ctx, companyID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AgentProfile), args.Error(1)
}

// --- CallRepo Mock ---

// CallRepoMock mocks the CallRepo interface
type CallRepoMock struct {
	mock.Mock
}

func (m *CallRepoMock) GetOrCreateCall(ctx context.Context, sessionID string, fresh *model.Call) (*model.Call, bool, error) {
	args := m.Called(ctx, sessionID, fresh)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Call), args.Bool(1), args.Error(2)
}

func (m *CallRepoMock) FindCallBySessionID(ctx context.Context, sessionID string) (*model.Call, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *CallRepoMock) UpdateCall(ctx context.Context, call *model.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *CallRepoMock) MarkForwarded(ctx context.Context, sessionID, forwardedNumber string) (bool, error) {
	args := m.Called(ctx, sessionID, forwardedNumber)
	return args.Bool(0), args.Error(1)
}

func (m *CallRepoMock) SaveActivity(ctx context.Context, activity *model.Activity) error {
	args := m.Called(ctx, activity)
	return args.Error(0)
}

// --- ComplianceRepo Mock ---

// ComplianceRepoMock mocks the ComplianceRepo interface
type ComplianceRepoMock struct {
	mock.Mock
}

func (m *ComplianceRepoMock) IsInternalDNC(ctx context.Context, companyID int64, phone string) (bool, error) {
	args := m.Called(ctx, companyID, phone)
	return args.Bool(0), args.Error(1)
}

func (m *ComplianceRepoMock) IsLitigator(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *ComplianceRepoMock) SaveLitigatorReport(ctx context.Context, report *model.LitigatorReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *ComplianceRepoMock) SaveAutoDeadDetection(ctx context.Context, detection *model.AutoDeadDetection) error {
	args := m.Called(ctx, detection)
	return args.Error(0)
}
