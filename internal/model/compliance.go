package model

import (
	"time"
)

// InternalDNC is a company-scoped do-not-call entry.
type InternalDNC struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID int64     `json:"company_id" gorm:"column:company_id;index"`
	PhoneRaw  string    `json:"phone_raw" gorm:"column:phone_raw;index"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (InternalDNC) TableName() string {
	return "internal_dnc"
}

// LitigatorList is the global list of known litigator phone numbers.
type LitigatorList struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Phone     string    `json:"phone" gorm:"column:phone;uniqueIndex"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (LitigatorList) TableName() string {
	return "litigator_list"
}

// LitigatorReport queues a prospect for manual litigation review after an
// inbound text matched the report phrase list.
type LitigatorReport struct {
	ID         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ProspectID int64     `json:"prospect_id" gorm:"column:prospect_id;index"`
	Status     string    `json:"status" gorm:"column:status;default:open"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (LitigatorReport) TableName() string {
	return "litigator_reports"
}

// AutoDeadDetection records each external scoring decision for audit.
type AutoDeadDetection struct {
	ID             int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Message        string    `json:"message" gorm:"column:message"`
	Score          float64   `json:"score" gorm:"column:score"`
	MarkedAutoDead bool      `json:"marked_auto_dead" gorm:"column:marked_auto_dead"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AutoDeadDetection) TableName() string {
	return "auto_dead_detections"
}
