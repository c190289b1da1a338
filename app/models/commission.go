package models

import "time"

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

// Commission is one affiliate payout line. SourceEventID is the provider
// transaction that produced it and is unique, so a charge pays out once.
type Commission struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	AffiliateID       uint             `gorm:"not null;index:idx_commissions_affiliate_currency,priority:1" json:"affiliate_id"`
	ReferredUserID    uint             `gorm:"not null;index" json:"referred_user_id"`
	SourceEventID     string           `gorm:"type:varchar(191);not null;uniqueIndex:ux_commissions_source_event" json:"source_event_id"`
	Provider          Provider         `gorm:"type:varchar(20);not null" json:"provider"`
	EventKind         EventKind        `gorm:"type:varchar(20);not null" json:"event_kind"`
	BilledAmountMinor int64            `gorm:"not null" json:"billed_amount_minor"`
	AmountMinor       int64            `gorm:"not null" json:"amount_minor"`
	Currency          string           `gorm:"type:varchar(3);not null;index:idx_commissions_affiliate_currency,priority:2" json:"currency"`
	CommissionRate    float64          `gorm:"type:decimal(5,2);not null" json:"commission_rate"`
	Status            CommissionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PeriodStart       time.Time        `gorm:"not null" json:"period_start"`
	PaidAt            *time.Time       `gorm:"default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
