package storage

import (
	"context"
	"time"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

// CompanyRepo defines company storage operations
type CompanyRepo interface {
	FindCompanyByID(ctx context.Context, id int64) (*model.Company, error)
	SaveCompany(ctx context.Context, company *model.Company) error
	FindLeadStageByTitle(ctx context.Context, companyID int64, title string) (*model.LeadStage, error)
}

// MarketRepo defines market storage operations
type MarketRepo interface {
	FindMarketByID(ctx context.Context, id int64) (*model.Market, error)
	SetSpamCooldown(ctx context.Context, marketID int64, until time.Time) error
	IncrementDailySend(ctx context.Context, marketID int64) error
	ResetDailySendCounts(ctx context.Context) error
	AdvanceAssignIndex(ctx context.Context, marketID int64, index int) error
}

// PhoneNumberRepo defines sending number storage operations
type PhoneNumberRepo interface {
	FindPhoneNumberByID(ctx context.Context, id int64) (*model.PhoneNumber, error)
	FindPhoneNumberByPhone(ctx context.Context, phone string) (*model.PhoneNumber, error)
	FindUsableNumbersByMarket(ctx context.Context, marketID int64) ([]model.PhoneNumber, error)
	UpdatePhoneNumberStatus(ctx context.Context, id int64, status string) error
	RecordSend(ctx context.Context, id int64, at time.Time) error
	RecordReceive(ctx context.Context, id int64, at time.Time) error
	IncrementOptOuts(ctx context.Context, id int64) error
	IncrementAutoDead(ctx context.Context, id int64) error
	SavePhoneNumber(ctx context.Context, number *model.PhoneNumber) error
}

// ProspectRepo defines prospect storage operations
type ProspectRepo interface {
	FindProspectByID(ctx context.Context, id int64) (*model.Prospect, error)
	FindProspectByPhone(ctx context.Context, companyID int64, phone string) (*model.Prospect, error)
	FindProspectForInbound(ctx context.Context, companyID int64, phone string, phoneNumberID int64) (*model.Prospect, error)
	SaveProspect(ctx context.Context, prospect *model.Prospect) error
	MarkResponded(ctx context.Context, prospectID int64, at time.Time) error
	IncrementUnread(ctx context.Context, prospectID int64) (int, error)
	ClearUnread(ctx context.Context, prospectID int64) error
	PropagateOptOut(ctx context.Context, companyID int64, phone string) (int64, error)
	SetWrongNumber(ctx context.Context, prospectID int64) error
	SetAutoDead(ctx context.Context, prospectID int64, leadStageID *int64) error
}

// CampaignRepo defines campaign and per-prospect membership storage operations
type CampaignRepo interface {
	FindCampaignByID(ctx context.Context, id int64) (*model.Campaign, error)
	FindCampaignProspect(ctx context.Context, campaignID, prospectID int64) (*model.CampaignProspect, error)
	FindLatestMembership(ctx context.Context, prospectID int64) (*model.CampaignProspect, error)
	MarkProspectSkipped(ctx context.Context, cp *model.CampaignProspect, reason string) error
	MarkProspectEligible(ctx context.Context, cp *model.CampaignProspect) error
	MarkProspectSent(ctx context.Context, cp *model.CampaignProspect, batchID int64, at time.Time) error
	MarkMembershipResponded(ctx context.Context, prospectID int64, at time.Time) error
	FindStatsBatchByID(ctx context.Context, id int64) (*model.StatsBatch, error)
	IncrementCampaignDelivered(ctx context.Context, campaignID int64) error
	IncrementBatchDelivered(ctx context.Context, batchID int64) error
	IncrementBatchReceived(ctx context.Context, batchID int64) error
}

// MessageRepo defines SMS message and delivery result storage operations
type MessageRepo interface {
	SaveMessage(ctx context.Context, message *model.SMSMessage) error
	FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.SMSMessage, error)
	UpdateMessageStatus(ctx context.Context, messageID int64, status string) error
	UpsertResult(ctx context.Context, messageID int64, status, errorCode string) (*model.SMSResult, error)
	BatchResultStats(ctx context.Context, statsBatchID int64, spamErrorCode string) (total int64, spam int64, err error)
	SaveReceipt(ctx context.Context, receipt *model.ReceiptSMSDirect) error
	HasRecentReceipt(ctx context.Context, companyID int64, phone string, since time.Time) (bool, error)
}

// RelayRepo defines relay number and lease storage operations
type RelayRepo interface {
	CountAgentLeases(ctx context.Context, agentProfileID int64) (int64, error)
	FindRelayLease(ctx context.Context, prospectID, agentProfileID int64) (*model.ProspectRelay, error)
	FindLeaseByNumbers(ctx context.Context, relayPhone, agentPhone string) (*model.ProspectRelay, error)
	FindLeaseByRelayAndProspect(ctx context.Context, relayPhone, prospectPhone string) (*model.ProspectRelay, error)
	FindLeaseByProspect(ctx context.Context, prospectID int64) (*model.ProspectRelay, error)
	ClaimAvailableNumber(ctx context.Context, agentProfileID int64) (*model.RelayNumber, error)
	CreateLease(ctx context.Context, lease *model.ProspectRelay) error
	ActivateNumber(ctx context.Context, relayNumberID int64) error
	ReleaseLease(ctx context.Context, leaseID int64) error
	TouchLease(ctx context.Context, leaseID int64, at time.Time) error
	FindAgentByID(ctx context.Context, id int64) (*model.AgentProfile, error)
	FindAgentByPhone(ctx context.Context, companyID int64, phone string) (*model.AgentProfile, error)
}

// CallRepo defines call session and activity storage operations
type CallRepo interface {
	GetOrCreateCall(ctx context.Context, sessionID string, fresh *model.Call) (*model.Call, bool, error)
	FindCallBySessionID(ctx context.Context, sessionID string) (*model.Call, error)
	UpdateCall(ctx context.Context, call *model.Call) error
	MarkForwarded(ctx context.Context, sessionID, forwardedNumber string) (bool, error)
	SaveActivity(ctx context.Context, activity *model.Activity) error
}

// ComplianceRepo defines DNC, litigator and auto-dead storage operations
type ComplianceRepo interface {
	IsInternalDNC(ctx context.Context, companyID int64, phone string) (bool, error)
	IsLitigator(ctx context.Context, phone string) (bool, error)
	SaveLitigatorReport(ctx context.Context, report *model.LitigatorReport) error
	SaveAutoDeadDetection(ctx context.Context, detection *model.AutoDeadDetection) error
}

// Repository aggregates every storage concern behind a single implementation.
type Repository interface {
	CompanyRepo
	MarketRepo
	PhoneNumberRepo
	ProspectRepo
	CampaignRepo
	MessageRepo
	RelayRepo
	CallRepo
	ComplianceRepo
	Close(ctx context.Context) error
}
