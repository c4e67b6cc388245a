package model

import (
	"time"
)

// Campaign groups prospects for batch sends. Aggregate counters are denormalized
// here; per-batch detail lives on StatsBatch.
type Campaign struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	MarketID  int64     `json:"market_id" gorm:"column:market_id;index"`
	Name      string    `json:"name" gorm:"column:name"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	// SkipResponded controls the HAS_RESPONDED skip rule.
	SkipResponded bool `json:"skip_responded" gorm:"column:skip_responded;default:true"`
	// AutoDead enables content classification for inbound responses.
	AutoDead bool `json:"auto_dead" gorm:"column:auto_dead;default:false"`

	HasUnreadSMS bool `json:"has_unread_sms" gorm:"column:has_unread_sms;default:false"`

	// Aggregate counters.
	TotalSent        int `json:"total_sent" gorm:"column:total_sent;default:0"`
	TotalDelivered   int `json:"total_delivered" gorm:"column:total_delivered;default:0"`
	TotalReceived    int `json:"total_received" gorm:"column:total_received;default:0"`
	TotalDNC         int `json:"total_dnc" gorm:"column:total_dnc;default:0"`
	TotalWrongNumber int `json:"total_wrong_number" gorm:"column:total_wrong_number;default:0"`
	TotalAutoDead    int `json:"total_auto_dead" gorm:"column:total_auto_dead;default:0"`
}

// TableName specifies the table name for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// Skip reasons, exclusive and single-valued per membership. Order of
// evaluation is fixed in the skip engine; these are just the recorded values.
const (
	SkipReasonForced           = "forced"
	SkipReasonOutgoingNotSet   = "outgoing_not_set"
	SkipReasonThresholdMessage = "threshold_message"
	SkipReasonHasResponded     = "has_responded"
	SkipReasonPublicDNC        = "public_dnc"
	SkipReasonVerizon          = "verizon"
	SkipReasonOptedOut         = "opted_out"
	SkipReasonCompanyDNC       = "company_dnc"
	SkipReasonLitigator        = "litigator"
	SkipReasonSMSReceipt       = "sms_receipt"
	SkipReasonWrongNumber      = "wrong_number"
)

// CampaignProspect joins a prospect to a campaign and tracks send/skip state.
type CampaignProspect struct {
	ID          int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CampaignID  int64     `json:"campaign_id" gorm:"column:campaign_id;index"`
	ProspectID  int64     `json:"prospect_id" gorm:"column:prospect_id;index"`
	StatsBatchID *int64   `json:"stats_batch_id" gorm:"column:stats_batch_id;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	Sent       bool   `json:"sent" gorm:"column:sent;default:false"`
	Skipped    bool   `json:"skipped" gorm:"column:skipped;default:false"`
	SkipReason string `json:"skip_reason" gorm:"column:skip_reason"`

	HasResponded         bool `json:"has_responded" gorm:"column:has_responded;default:false"`
	HasRespondedAutoDead bool `json:"has_responded_auto_dead" gorm:"column:has_responded_auto_dead;default:false"`
	HasUnreadSMS         bool `json:"has_unread_sms" gorm:"column:has_unread_sms;default:false"`

	LastInboundCall  *time.Time `json:"last_inbound_call" gorm:"column:last_inbound_call"`
	LastOutboundCall *time.Time `json:"last_outbound_call" gorm:"column:last_outbound_call"`
}

// TableName specifies the table name for GORM.
func (CampaignProspect) TableName() string {
	return "campaign_prospects"
}
