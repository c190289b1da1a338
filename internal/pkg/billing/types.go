package billing

import (
	"time"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// VerifiedEvent is a webhook delivery whose authenticity has been checked.
// Advisory events (sandbox traffic) are authentic enough to log but must
// never change entitlements.
type VerifiedEvent struct {
	Provider   models.Provider
	EventID    string
	EventType  string
	Payload    []byte
	Advisory   bool
	OccurredAt time.Time

	card *cardEvent
	iap  *iapEvent
}

// Money is an amount in two-decimal minor units (cents).
type Money struct {
	Minor    int64
	Currency string
}

// SubscriptionEvent is the provider-agnostic shape the reconciler applies.
type SubscriptionEvent struct {
	Provider  models.Provider
	EventID   string
	EventType string
	Kind      models.EventKind

	// UserID is 0 when the payload carries no usable user reference; the
	// reconciler then falls back to the subscription record and customer link.
	UserID         uint
	CustomerID     string
	SubscriptionID string
	// TransactionID identifies the charge behind PURCHASED/RENEWED events.
	TransactionID string

	// Tier is empty when the event does not say which product it is about.
	Tier        entitlements.Tier
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Amount      Money
	OccurredAt  time.Time
}

type OutcomeStatus string

const (
	OutcomeApplied    OutcomeStatus = "applied"
	OutcomeDuplicate  OutcomeStatus = "duplicate"
	OutcomeUnmappable OutcomeStatus = "unmappable"
	OutcomeAdvisory   OutcomeStatus = "advisory"
)

// Outcome reports what Apply did with one event.
type Outcome struct {
	Status     OutcomeStatus      `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	UserID     uint               `json:"user_id,omitempty"`
	RecordID   uint               `json:"record_id,omitempty"`
	Tier       entitlements.Tier  `json:"tier,omitempty"`
	Commission *commission.Result `json:"commission,omitempty"`
}
