package model

import (
	"time"
)

// Prospect is a lead identity targeted by messages and calls. Multiple
// prospects may legitimately share a phone number within one company; the
// resolver always picks the most recently created.
type Prospect struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	FirstName string    `json:"first_name" gorm:"column:first_name"`
	LastName  string    `json:"last_name" gorm:"column:last_name"`
	PhoneRaw  string    `json:"phone_raw" gorm:"column:phone_raw;index"` // cleaned 10-digit form
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	// Compliance flags mutated by the engine.
	DoNotCall   bool `json:"do_not_call" gorm:"column:do_not_call;default:false"`
	OptedOut    bool `json:"opted_out" gorm:"column:opted_out;default:false"`
	IsBlocked   bool `json:"is_blocked" gorm:"column:is_blocked;default:false"`
	WrongNumber bool `json:"wrong_number" gorm:"column:wrong_number;default:false"`
	IsAutoDead  bool `json:"is_auto_dead" gorm:"column:is_auto_dead;default:false"`

	// Carrier metadata from the lookup collaborator. CarrierCheckedAt is nil
	// until a lookup has been attempted for this number.
	IsVerizon        bool       `json:"is_verizon" gorm:"column:is_verizon;default:false"`
	CarrierCheckedAt *time.Time `json:"carrier_checked_at" gorm:"column:carrier_checked_at"`

	// HasResponded tracks whether any SMS response was ever received.
	HasResponded bool `json:"has_responded" gorm:"column:has_responded;default:false"`

	// Assigned sending number; nil until lazily assigned on first send.
	PhoneNumberID *int64 `json:"phone_number_id" gorm:"column:phone_number_id"`

	LeadStageID *int64 `json:"lead_stage_id" gorm:"column:lead_stage_id"`

	// Personal call-forwarding override, second in the forwarding cascade.
	CallForwardingNumber string `json:"call_forwarding_number" gorm:"column:call_forwarding_number"`

	// Unread accounting; incremented under a row lock.
	UnreadCount    int        `json:"unread_count" gorm:"column:unread_count;default:0"`
	HasUnreadSMS   bool       `json:"has_unread_sms" gorm:"column:has_unread_sms;default:false"`
	LastSMSSentAt  *time.Time `json:"last_sms_sent_at" gorm:"column:last_sms_sent_at"`
	LastSMSReceivedAt *time.Time `json:"last_sms_received_at" gorm:"column:last_sms_received_at"`
}

// TableName specifies the table name for GORM.
func (Prospect) TableName() string {
	return "prospects"
}

// FullName renders the prospect's display name for relay notifications.
func (p *Prospect) FullName() string {
	if p.FirstName == "" && p.LastName == "" {
		return "Unknown"
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
