package models

import (
	"time"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

type Provider string

const (
	ProviderCardProcessor Provider = "card_processor"
	ProviderIAPBroker     Provider = "iap_broker"
	ProviderManual        Provider = "manual"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderCardProcessor, ProviderIAPBroker, ProviderManual:
		return true
	default:
		return false
	}
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Entitling reports whether a record in this status may grant its tier.
func (s SubscriptionStatus) Entitling() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// SubscriptionRecord is the local view of one provider subscription.
// ResolvedFor is set to UserID on the single record that currently decides
// the user's tier; the unique index keeps that to one row per user.
type SubscriptionRecord struct {
	ID                     uint               `gorm:"primaryKey" json:"id"`
	UserID                 uint               `gorm:"not null;index" json:"user_id"`
	Tier                   entitlements.Tier  `gorm:"type:varchar(16);not null;default:'free'" json:"tier"`
	Status                 SubscriptionStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	Provider               Provider           `gorm:"type:varchar(20);not null;index:ux_subscription_records_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string             `gorm:"type:varchar(191);not null;index:ux_subscription_records_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string             `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	CurrentPeriodStart     *time.Time         `gorm:"default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `gorm:"default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `gorm:"default:false" json:"cancel_at_period_end"`
	ReferredByUserID       *uint              `gorm:"index" json:"referred_by_user_id,omitempty"`
	Superseded             bool               `gorm:"default:false" json:"superseded"`
	ResolvedFor            *uint              `gorm:"uniqueIndex:ux_subscription_records_resolved_for" json:"-"`
	ActivatedAt            time.Time          `gorm:"not null" json:"activated_at"`
	LastEventAt            time.Time          `gorm:"not null" json:"last_event_at"`
	LastEventID            string             `gorm:"type:varchar(191);not null;default:''" json:"last_event_id"`
	CreatedAt              time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsResolved reports whether this record currently decides its user's tier.
func (r *SubscriptionRecord) IsResolved() bool {
	return r.ResolvedFor != nil && *r.ResolvedFor == r.UserID
}
