package model

import (
	"time"

	"gorm.io/datatypes"
)

// Message delivery states. A message starts as created, becomes sent when the
// provider accepts it, and settles in one of the terminal states reported by
// asynchronous status callbacks.
const (
	MessageStatusCreated             = "created"
	MessageStatusSent                = "sent"
	MessageStatusDelivered           = "delivered"
	MessageStatusDeliveryFailed      = "delivery_failed"
	MessageStatusDeliveryUnconfirmed = "delivery_unconfirmed"
	MessageStatusSendingFailed       = "sending_failed"
)

// NoTextSentinel replaces an absent body on inbound media-only messages.
const NoTextSentinel = "no_text"

// SMSMessage is one send or receive event. Immutable once delivered except
// for status/result linkage.
type SMSMessage struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	// OurNumber / ContactNumber are the engine-side and prospect-side
	// endpoints in +1 form regardless of direction.
	OurNumber     string `json:"our_number" gorm:"column:our_number;index"`
	ContactNumber string `json:"contact_number" gorm:"column:contact_number;index"`
	FromNumber    string `json:"from_number" gorm:"column:from_number"`
	ToNumber      string `json:"to_number" gorm:"column:to_number"`

	Body     string `json:"body" gorm:"column:body"`
	MediaURL string `json:"media_url" gorm:"column:media_url"`

	// FromProspect marks direction: true = received, false = sent.
	FromProspect bool `json:"from_prospect" gorm:"column:from_prospect;default:false"`

	// ProviderMessageID is unique once assigned by the provider.
	ProviderMessageID string `json:"provider_message_id" gorm:"column:provider_message_id;uniqueIndex"`
	Provider          string `json:"provider" gorm:"column:provider;default:telnyx"`
	Status            string `json:"status" gorm:"column:status;default:created"`

	ProspectID   *int64 `json:"prospect_id" gorm:"column:prospect_id;index"`
	CampaignID   *int64 `json:"campaign_id" gorm:"column:campaign_id;index"` // nil for one-off sends
	StatsBatchID *int64 `json:"stats_batch_id" gorm:"column:stats_batch_id;index"`
	MarketID     *int64 `json:"market_id" gorm:"column:market_id;index"`

	UnreadByRecipient bool `json:"unread_by_recipient" gorm:"column:unread_by_recipient;default:false"`

	// RawPayload preserves the provider webhook body for audit.
	RawPayload datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb;column:raw_payload"`
}

// TableName specifies the table name for GORM.
func (SMSMessage) TableName() string {
	return "sms_messages"
}

// IsBulk reports whether this message was part of a campaign batch send.
func (m *SMSMessage) IsBulk() bool {
	return m.CampaignID != nil
}

// SMSResult records the provider's delivery verdict for one message.
// Created at most once per message; only status moves afterwards.
type SMSResult struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageID int64     `json:"message_id" gorm:"column:message_id;uniqueIndex"`
	ErrorCode string    `json:"error_code" gorm:"column:error_code"` // set once, at creation
	Status    string    `json:"status" gorm:"column:status"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (SMSResult) TableName() string {
	return "sms_results"
}

// ReceiptSMSDirect records a direct-send receipt per raw phone; the threshold
// skip rule counts these within the company's lookback window.
type ReceiptSMSDirect struct {
	ID         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID  int64     `json:"company_id" gorm:"column:company_id;index"`
	CampaignID *int64    `json:"campaign_id" gorm:"column:campaign_id;index"`
	PhoneRaw   string    `json:"phone_raw" gorm:"column:phone_raw;index"`
	SentAt     time.Time `json:"sent_at" gorm:"column:sent_at;index"`
}

// TableName specifies the table name for GORM.
func (ReceiptSMSDirect) TableName() string {
	return "receipt_sms_directs"
}
