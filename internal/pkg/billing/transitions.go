package billing

import (
	"time"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// newRecord materializes a subscription from the first event seen for it.
// Out-of-order delivery means that first event is not always a purchase; the
// record starts in the state the event implies.
func newRecord(ev *SubscriptionEvent, userID uint) *models.SubscriptionRecord {
	rec := &models.SubscriptionRecord{
		UserID:                 userID,
		Tier:                   ev.Tier,
		Status:                 models.SubscriptionStatusActive,
		Provider:               ev.Provider,
		ProviderSubscriptionID: ev.SubscriptionID,
		ProviderCustomerID:     ev.CustomerID,
		CurrentPeriodStart:     copyTime(ev.PeriodStart),
		CurrentPeriodEnd:       copyTime(ev.PeriodEnd),
		ActivatedAt:            ev.OccurredAt,
		LastEventAt:            ev.OccurredAt,
		LastEventID:            ev.EventID,
	}
	switch ev.Kind {
	case models.EventKindCanceled:
		rec.CancelAtPeriodEnd = true
	case models.EventKindPaymentFailed:
		rec.Status = models.SubscriptionStatusPastDue
	case models.EventKindExpired:
		rec.Status = models.SubscriptionStatusCanceled
	}
	return rec
}

// applyTransition mutates rec according to ev and reports whether anything
// changed. Events older than the last applied one may only push the billing
// period forward.
func applyTransition(rec *models.SubscriptionRecord, ev *SubscriptionEvent) bool {
	changed := advancePeriod(rec, ev)
	if ev.OccurredAt.Before(rec.LastEventAt) {
		return changed
	}

	wasEntitling := rec.Status.Entitling()
	status, cancel, tier := rec.Status, rec.CancelAtPeriodEnd, rec.Tier

	switch ev.Kind {
	case models.EventKindPurchased:
		// existing subscription: period fields only
	case models.EventKindRenewed:
		status = models.SubscriptionStatusActive
		tier = tierOr(ev.Tier, tier)
	case models.EventKindCanceled:
		cancel = true
	case models.EventKindReactivated:
		status = models.SubscriptionStatusActive
		cancel = false
		tier = tierOr(ev.Tier, tier)
	case models.EventKindPaymentFailed:
		if status != models.SubscriptionStatusCanceled {
			status = models.SubscriptionStatusPastDue
		}
	case models.EventKindExpired:
		// keeps its historical tier
		status = models.SubscriptionStatusCanceled
	}

	if status != rec.Status || cancel != rec.CancelAtPeriodEnd || tier != rec.Tier {
		changed = true
	}
	rec.Status, rec.CancelAtPeriodEnd, rec.Tier = status, cancel, tier
	if !wasEntitling && status.Entitling() {
		rec.ActivatedAt = ev.OccurredAt
	}
	if rec.LastEventID != ev.EventID || !rec.LastEventAt.Equal(ev.OccurredAt) {
		rec.LastEventAt = ev.OccurredAt
		rec.LastEventID = ev.EventID
		changed = true
	}
	return changed
}

// advancePeriod moves the billing period forward; it never moves backwards.
func advancePeriod(rec *models.SubscriptionRecord, ev *SubscriptionEvent) bool {
	if ev.PeriodEnd == nil {
		return false
	}
	if rec.CurrentPeriodEnd != nil && !ev.PeriodEnd.After(*rec.CurrentPeriodEnd) {
		return false
	}
	rec.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
	if ev.PeriodStart != nil {
		rec.CurrentPeriodStart = copyTime(ev.PeriodStart)
	}
	return true
}

// pickWinner chooses the record that decides the user's tier: the highest
// tier among entitling records, ties broken by the most recent activation.
func pickWinner(recs []models.SubscriptionRecord) *models.SubscriptionRecord {
	var winner *models.SubscriptionRecord
	for i := range recs {
		rec := &recs[i]
		if !rec.Status.Entitling() {
			continue
		}
		if winner == nil || outranks(rec, winner) {
			winner = rec
		}
	}
	return winner
}

func outranks(a, b *models.SubscriptionRecord) bool {
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() > b.Tier.Rank()
	}
	if !a.ActivatedAt.Equal(b.ActivatedAt) {
		return a.ActivatedAt.After(b.ActivatedAt)
	}
	return a.ID > b.ID
}

func tierOr(t, fallback entitlements.Tier) entitlements.Tier {
	if t == "" {
		return fallback
	}
	return t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}
