package model

import (
	"time"
)

// Company is the tenant that owns phone records, prospects and campaigns.
// Only the compliance and telephony settings consumed by the routing engine
// live here; account management is a separate service.
type Company struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"column:name"`
	Timezone  string    `json:"timezone" gorm:"column:timezone;default:US/Mountain"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	// Compliance / routing settings.
	BlockUnknownCallers  bool   `json:"block_unknown_callers" gorm:"column:block_unknown_callers;default:false"`
	RecordCalls          bool   `json:"record_calls" gorm:"column:record_calls;default:false"`
	ThresholdExempt      bool   `json:"threshold_exempt" gorm:"column:threshold_exempt;default:false"`
	ThresholdDays        int    `json:"threshold_days" gorm:"column:threshold_days;default:30"`
	AutoFilterMessages   bool   `json:"auto_filter_messages" gorm:"column:auto_filter_messages;default:false"`
	AutoDeadEnabled      *bool  `json:"auto_dead_enabled" gorm:"column:auto_dead_enabled"` // nil defers to the campaign setting
	CallForwardingNumber string `json:"call_forwarding_number" gorm:"column:call_forwarding_number"`

	// HasTwilioConnection marks an alternate telephony integration that can
	// reach carriers the default provider cannot.
	HasTwilioConnection bool `json:"has_twilio_connection" gorm:"column:has_twilio_connection;default:false"`

	// Carrier-approved template gating. A company that must send approved
	// templates cannot send at all until its outgoing templates are set up.
	SendCarrierTemplates bool `json:"send_carrier_templates" gorm:"column:send_carrier_templates;default:false"`
	HasValidOutgoing     bool `json:"has_valid_outgoing" gorm:"column:has_valid_outgoing;default:true"`
}

// TableName specifies the table name for GORM.
func (Company) TableName() string {
	return "companies"
}

// AutoDeadFor resolves the effective auto-dead setting for a campaign: the
// company-level override wins when set, otherwise the campaign decides.
func (c *Company) AutoDeadFor(campaignSetting bool) bool {
	if c.AutoDeadEnabled != nil {
		return *c.AutoDeadEnabled
	}
	return campaignSetting
}

// LeadStage classifies how far a prospect has progressed. The engine only
// moves prospects between the initial, response and auto-dead stages.
type LeadStage struct {
	ID        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64  `json:"company_id" gorm:"column:company_id;index"`
	Title     string `json:"title" gorm:"column:title"`
	SortOrder int    `json:"sort_order" gorm:"column:sort_order;default:0"`
}

// TableName specifies the table name for GORM.
func (LeadStage) TableName() string {
	return "lead_stages"
}

// Well-known lead stage titles the engine transitions between.
const (
	LeadStageInitialSent      = "Initial Message Sent"
	LeadStageResponseReceived = "Response Received"
	LeadStageDeadAuto         = "Dead (Auto)"
)
