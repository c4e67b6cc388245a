package model

import (
	"time"
)

// Phone number lifecycle states. Historic duplicates per (company, number)
// are tolerated; resolution prefers the active record, else the most recent.
const (
	PhoneStatusActive   = "active"
	PhoneStatusInactive = "inactive"
	PhoneStatusReleased = "released"
	PhoneStatusPending  = "pending"
)

// Telephony providers the engine can route through.
const (
	ProviderTelnyx = "telnyx"
	ProviderTwilio = "twilio"
	ProviderBroker = "phone_broker"
)

// PhoneNumber is a provider-owned number provisioned for a company.
type PhoneNumber struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	MarketID  int64     `json:"market_id" gorm:"column:market_id;index"`
	Phone     string    `json:"phone" gorm:"column:phone;index"` // cleaned 10-digit form
	Provider  string    `json:"provider" gorm:"column:provider;default:telnyx"`
	Status    string    `json:"status" gorm:"column:status;index;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	ProviderNumberID string `json:"provider_number_id" gorm:"column:provider_number_id"`

	// Aggregated send/receive accounting.
	TotalSent       int        `json:"total_sent" gorm:"column:total_sent;default:0"`
	TotalAutoDead   int        `json:"total_auto_dead" gorm:"column:total_auto_dead;default:0"`
	TotalOptOuts    int        `json:"total_opt_outs" gorm:"column:total_opt_outs;default:0"`
	LastSentAt      *time.Time `json:"last_sent_at" gorm:"column:last_sent_at"`
	LastReceivedAt  *time.Time `json:"last_received_at" gorm:"column:last_received_at"`
}

// TableName specifies the table name for GORM.
func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

// IsUsable reports whether the record can originate traffic right now, given
// the owning market's lazily evaluated cooldown state.
func (p *PhoneNumber) IsUsable(market *Market, now time.Time) bool {
	if p.Status != PhoneStatusActive {
		return false
	}
	if market != nil && market.InCooldown(now) {
		return false
	}
	return true
}
