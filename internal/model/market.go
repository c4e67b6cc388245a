package model

import (
	"time"
)

// Market groups a company's phone records for a region and carries the
// call-forwarding fallback plus the spam cooldown window.
type Market struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	Name      string    `json:"name" gorm:"column:name"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	CallForwardingNumber string `json:"call_forwarding_number" gorm:"column:call_forwarding_number"`

	// SpamCooldownUntil is evaluated lazily; no job clears it.
	SpamCooldownUntil *time.Time `json:"spam_cooldown_until" gorm:"column:spam_cooldown_until"`

	// Daily send accounting, reset by an external scheduler.
	DailySendCount int `json:"daily_send_count" gorm:"column:daily_send_count;default:0"`
	DailySendLimit int `json:"daily_send_limit" gorm:"column:daily_send_limit;default:0"` // 0 = unlimited

	// LastIndexAssigned drives round-robin phone assignment within the market.
	LastIndexAssigned int `json:"last_index_assigned" gorm:"column:last_index_assigned;default:0"`
}

// TableName specifies the table name for GORM.
func (Market) TableName() string {
	return "markets"
}

// InCooldown reports whether the market's numbers are temporarily unavailable
// at the given instant.
func (m *Market) InCooldown(now time.Time) bool {
	return m.SpamCooldownUntil != nil && now.Before(*m.SpamCooldownUntil)
}

// DailyLimitReached reports whether the market has exhausted its daily send
// allowance.
func (m *Market) DailyLimitReached() bool {
	return m.DailySendLimit > 0 && m.DailySendCount >= m.DailySendLimit
}
