package model

import (
	"time"
)

// Relay number lifecycle states. A number is leasable only while active;
// pending marks the window during an atomic claim before the connection row
// exists.
const (
	RelayStatusActive   = "active"
	RelayStatusPending  = "pending"
	RelayStatusInactive = "inactive"
	RelayStatusReleased = "released"
)

// Relay allocator failure values returned to the user-initiated connect call.
const (
	RelayErrMaxAssignments     = "max_assignment_limit_reached"
	RelayErrNoAvailableNumbers = "no_available_relay_numbers"
)

// RelayNumber is a leasable masking number shared across agents.
type RelayNumber struct {
	ID               int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Phone            string    `json:"phone" gorm:"column:phone;index"` // cleaned 10-digit form
	Status           string    `json:"status" gorm:"column:status;index;default:active"`
	Provider         string    `json:"provider" gorm:"column:provider;default:telnyx"`
	ProviderNumberID string    `json:"provider_number_id" gorm:"column:provider_number_id"`
	CreatedAt        time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (RelayNumber) TableName() string {
	return "relay_numbers"
}

// AgentProfile is the thin slice of the accounts service the relay allocator
// needs: who the agent is and their personal phone.
type AgentProfile struct {
	ID        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64  `json:"company_id" gorm:"column:company_id;index"`
	Name      string `json:"name" gorm:"column:name"`
	Phone     string `json:"phone" gorm:"column:phone;index"` // cleaned 10-digit form
}

// TableName specifies the table name for GORM.
func (AgentProfile) TableName() string {
	return "agent_profiles"
}

// ProspectRelay links one agent to one prospect through a leased relay
// number. Destroyed on disconnect; the number returns to the pool when its
// status flips back to active.
type ProspectRelay struct {
	ID             int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ProspectID     int64      `json:"prospect_id" gorm:"column:prospect_id;index"`
	AgentProfileID int64      `json:"agent_profile_id" gorm:"column:agent_profile_id;index"`
	RelayNumberID  int64      `json:"relay_number_id" gorm:"column:relay_number_id;index"`
	CreatedAt      time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	LastActivity   *time.Time `json:"last_activity" gorm:"column:last_activity"`

	Prospect    *Prospect     `json:"prospect,omitempty" gorm:"foreignKey:ProspectID"`
	Agent       *AgentProfile `json:"agent,omitempty" gorm:"foreignKey:AgentProfileID"`
	RelayNumber *RelayNumber  `json:"relay_number,omitempty" gorm:"foreignKey:RelayNumberID"`
}

// TableName specifies the table name for GORM.
func (ProspectRelay) TableName() string {
	return "prospect_relays"
}
