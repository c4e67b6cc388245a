package model

import (
	"time"
)

// StatsBatch buckets roughly 100 campaign prospects so delivery and skip rates
// can flag a bad group of numbers inside a campaign. Never deleted.
type StatsBatch struct {
	ID          int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CampaignID  *int64    `json:"campaign_id" gorm:"column:campaign_id;index"`
	MarketID    *int64    `json:"market_id" gorm:"column:market_id;index"`
	Provider    string    `json:"provider" gorm:"column:provider;default:telnyx"`
	BatchNumber int       `json:"batch_number" gorm:"column:batch_number;default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`

	// Aggregated fields.
	Sent        int `json:"sent" gorm:"column:sent;default:0"`
	Delivered   int `json:"delivered" gorm:"column:delivered;default:0"`
	Received    int `json:"received" gorm:"column:received;default:0"`
	SendAttempt int `json:"send_attempt" gorm:"column:send_attempt;default:0"`

	FirstSendAt *time.Time `json:"first_send_at" gorm:"column:first_send_at"`
	LastSendAt  *time.Time `json:"last_send_at" gorm:"column:last_send_at"`

	// Per-reason skip counters; one column per SkipReason value.
	SkippedForce           int `json:"skipped_force" gorm:"column:skipped_force;default:0"`
	SkippedOutgoingNotSet  int `json:"skipped_outgoing_not_set" gorm:"column:skipped_outgoing_not_set;default:0"`
	SkippedThreshold       int `json:"skipped_threshold" gorm:"column:skipped_threshold;default:0"`
	SkippedHasResponded    int `json:"skipped_has_responded" gorm:"column:skipped_has_responded;default:0"`
	SkippedInternalDNC     int `json:"skipped_internal_dnc" gorm:"column:skipped_internal_dnc;default:0"`
	SkippedVerizon         int `json:"skipped_verizon" gorm:"column:skipped_verizon;default:0"`
	SkippedOptedOut        int `json:"skipped_opted_out" gorm:"column:skipped_opted_out;default:0"`
	SkippedLitigator       int `json:"skipped_litigator" gorm:"column:skipped_litigator;default:0"`
	SkippedSMSReceipt      int `json:"skipped_sms_receipt" gorm:"column:skipped_sms_receipt;default:0"`
	SkippedWrongNumber     int `json:"skipped_wrong_number" gorm:"column:skipped_wrong_number;default:0"`
}

// TableName specifies the table name for GORM.
func (StatsBatch) TableName() string {
	return "stats_batches"
}

// SkipCounterColumn maps a skip reason to its counter column. Returns "" for
// an unknown reason.
func SkipCounterColumn(reason string) string {
	switch reason {
	case SkipReasonForced:
		return "skipped_force"
	case SkipReasonOutgoingNotSet:
		return "skipped_outgoing_not_set"
	case SkipReasonThresholdMessage:
		return "skipped_threshold"
	case SkipReasonHasResponded:
		return "skipped_has_responded"
	case SkipReasonPublicDNC, SkipReasonCompanyDNC:
		return "skipped_internal_dnc"
	case SkipReasonVerizon:
		return "skipped_verizon"
	case SkipReasonOptedOut:
		return "skipped_opted_out"
	case SkipReasonLitigator:
		return "skipped_litigator"
	case SkipReasonSMSReceipt:
		return "skipped_sms_receipt"
	case SkipReasonWrongNumber:
		return "skipped_wrong_number"
	}
	return ""
}

// TotalSkipped sums the per-reason counters.
func (b *StatsBatch) TotalSkipped() int {
	return b.SkippedForce +
		b.SkippedOutgoingNotSet +
		b.SkippedThreshold +
		b.SkippedHasResponded +
		b.SkippedInternalDNC +
		b.SkippedVerizon +
		b.SkippedOptedOut +
		b.SkippedLitigator +
		b.SkippedSMSReceipt +
		b.SkippedWrongNumber
}

// ResponseRate returns received/delivered as a whole percent.
func (b *StatsBatch) ResponseRate() int {
	if b.Received > 0 && b.Delivered > 0 {
		return int(float64(b.Received)/float64(b.Delivered)*100 + 0.5)
	}
	return 0
}
