package models

import "time"

type EventKind string

const (
	EventKindPurchased     EventKind = "PURCHASED"
	EventKindRenewed       EventKind = "RENEWED"
	EventKindCanceled      EventKind = "CANCELED"
	EventKindReactivated   EventKind = "REACTIVATED"
	EventKindPaymentFailed EventKind = "PAYMENT_FAILED"
	EventKindExpired       EventKind = "EXPIRED"
)

// Billable reports whether events of this kind can carry a commissionable charge.
func (k EventKind) Billable() bool {
	return k == EventKindPurchased || k == EventKindRenewed
}

const (
	WebhookOutcomeApplied    = "applied"
	WebhookOutcomeUnmappable = "unmappable"
	WebhookOutcomeFailed     = "failed"
)

// WebhookEvent is the processed-event set. A row exists for every provider
// event id that has been accepted, which makes redelivery a no-op.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        Provider   `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Kind            EventKind  `gorm:"type:varchar(20);not null;default:''" json:"kind"`
	UserID          uint       `gorm:"not null;default:0;index" json:"user_id"`
	Outcome         string     `gorm:"type:varchar(20);not null;default:''" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
