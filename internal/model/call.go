package model

import (
	"time"

	"gorm.io/datatypes"
)

// Call error taxonomy. Recorded on the session and returned 200 to the
// provider; never raised across the webhook boundary.
const (
	CallErrNone            = ""
	CallErrUnknownNumber   = "unknown_number"
	CallErrNoProspect      = "no_prospect"
	CallErrNoForwarding    = "no_forwarding"
	CallErrErrorForwarding = "error_forwarding"
	CallErrDuplicatePhone  = "duplicate_phone"
	CallErrProviderAPI     = "provider_api_error"
	CallErrCallInactive    = "call_inactive"
)

// Call direction/type values.
const (
	CallTypeInbound  = "inbound"
	CallTypeOutbound = "outbound"
)

// Call is one call session. SessionID is the idempotency key; repeated
// provider events for the same session update one record.
type Call struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	ControlID string `json:"control_id" gorm:"column:control_id;index"`
	SessionID string `json:"session_id" gorm:"column:session_id;uniqueIndex"`

	FromNumber string `json:"from_number" gorm:"column:from_number"` // +1 form as received
	ToNumber   string `json:"to_number" gorm:"column:to_number"`

	StartTime *time.Time `json:"start_time" gorm:"column:start_time"`
	EndTime   *time.Time `json:"end_time" gorm:"column:end_time"`

	PhoneNumberID  *int64 `json:"phone_number_id" gorm:"column:phone_number_id;index"`
	ProspectID     *int64 `json:"prospect_id" gorm:"column:prospect_id;index"`
	AgentProfileID *int64 `json:"agent_profile_id" gorm:"column:agent_profile_id"`

	CallType        string `json:"call_type" gorm:"column:call_type"`
	Error           string `json:"error" gorm:"column:error"`
	ForwardedNumber string `json:"forwarded_number" gorm:"column:forwarded_number"`

	// Forwarded makes the transfer action idempotent across duplicate or
	// out-of-order webhook deliveries for the same session.
	Forwarded bool `json:"forwarded" gorm:"column:forwarded;default:false"`

	RecordingURL string `json:"recording_url" gorm:"column:recording_url"`

	// RawPayload preserves the first provider webhook body for audit.
	RawPayload datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb;column:raw_payload"`
}

// TableName specifies the table name for GORM.
func (Call) TableName() string {
	return "calls"
}

// Duration returns the call length, or zero when either endpoint is missing.
func (c *Call) Duration() time.Duration {
	if c.StartTime == nil || c.EndTime == nil {
		return 0
	}
	return c.EndTime.Sub(*c.StartTime)
}

// Activity is an append-only feed entry shown on the prospect timeline.
// Deduplicated by RelatedLookup (the call session id).
type Activity struct {
	ID            int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ProspectID    int64     `json:"prospect_id" gorm:"column:prospect_id;index"`
	Title         string    `json:"title" gorm:"column:title"`
	Description   string    `json:"description" gorm:"column:description"`
	Icon          string    `json:"icon" gorm:"column:icon"`
	RelatedLookup string    `json:"related_lookup" gorm:"column:related_lookup;index"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (Activity) TableName() string {
	return "activities"
}

// Activity titles used by the engine.
const (
	ActivityInboundCall  = "Received Call"
	ActivityOutboundCall = "Outbound Call"
	ActivityGeneralCall  = "Call"
)
