package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// Reconciler applies subscription events to the persisted entitlement state.
// Every event is applied in one transaction; idempotency comes from unique
// constraints, so any number of replicas may run it concurrently.
type Reconciler struct {
	repo        Repository
	commissions *commission.Engine
	now         func() time.Time
}

func NewReconciler(repo Repository, commissions *commission.Engine) *Reconciler {
	return &Reconciler{repo: repo, commissions: commissions, now: time.Now}
}

// Apply applies ev at most once per (provider, event id).
func (r *Reconciler) Apply(ctx context.Context, ev *SubscriptionEvent) (*Outcome, error) {
	if ev == nil || ev.EventID == "" || ev.SubscriptionID == "" || !ev.Provider.Valid() {
		return nil, errors.New("subscription event requires provider, event id and subscription id")
	}
	local := *ev
	ev = &local
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	var out *Outcome
	run := func() error {
		return r.repo.Transaction(ctx, func(tx Repository) error {
			o, err := r.apply(ctx, tx, ev)
			out = o
			return err
		})
	}

	err := run()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race on a unique key; the retry sees the winner's commit
		log.Warnf("[Reconciler] %s event %s hit a unique constraint, retrying", ev.Provider, ev.EventID)
		err = run()
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s event %s: %w", ev.Provider, ev.EventID, err)
	}
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, tx Repository, ev *SubscriptionEvent) (*Outcome, error) {
	we := &models.WebhookEvent{
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		EventType:       ev.EventType,
		Kind:            ev.Kind,
	}
	created, err := tx.CreateWebhookEventIfNotExists(ctx, we)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created {
		log.Infof("[Reconciler] duplicate %s event %s ignored", ev.Provider, ev.EventID)
		return &Outcome{Status: OutcomeDuplicate}, nil
	}

	rec, err := tx.FindSubscription(ctx, ev.Provider, ev.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	userID, err := r.resolveUser(ctx, tx, ev, rec)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return r.unmappable(ctx, tx, we, ev, "no user for subscription")
	}
	if ev.CustomerID != "" && ev.Provider != models.ProviderManual {
		if err := tx.UpsertCustomerLink(ctx, &models.CustomerLink{
			UserID:             userID,
			Provider:           ev.Provider,
			ProviderCustomerID: ev.CustomerID,
		}); err != nil {
			return nil, fmt.Errorf("link customer: %w", err)
		}
	}

	if rec == nil {
		if ev.Tier == "" {
			return r.unmappable(ctx, tx, we, ev, "first event for subscription names no tier")
		}
		rec, err = r.insert(ctx, tx, ev, userID)
		if err != nil {
			return nil, err
		}
	} else if applyTransition(rec, ev) {
		if err := tx.SaveSubscription(ctx, rec); err != nil {
			return nil, fmt.Errorf("save subscription: %w", err)
		}
	}

	tier, err := r.rebalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Status: OutcomeApplied, UserID: userID, RecordID: rec.ID, Tier: tier}
	if r.commissions != nil && ev.Kind.Billable() && ev.Amount.Minor > 0 && ev.TransactionID != "" {
		periodStart := ev.OccurredAt
		if ev.PeriodStart != nil {
			periodStart = *ev.PeriodStart
		}
		_, res, err := r.commissions.Calculate(ctx, tx.Commissions(), commission.BillingEvent{
			Kind:             ev.Kind,
			Provider:         ev.Provider,
			SourceEventID:    string(ev.Provider) + ":" + ev.TransactionID,
			UserID:           userID,
			ReferredByUserID: rec.ReferredByUserID,
			AmountMinor:      ev.Amount.Minor,
			Currency:         ev.Amount.Currency,
			PeriodStart:      periodStart,
		})
		if err != nil {
			return nil, fmt.Errorf("commission: %w", err)
		}
		out.Commission = &res
	}

	if err := tx.MarkWebhookProcessed(ctx, we.ID, models.WebhookOutcomeApplied, userID, ""); err != nil {
		return nil, fmt.Errorf("mark webhook processed: %w", err)
	}
	log.Infof("[Reconciler] applied %s %s user=%d subscription=%s status=%s tier=%s effective=%s",
		ev.Provider, ev.Kind, userID, ev.SubscriptionID, rec.Status, rec.Tier, tier)
	return out, nil
}

func (r *Reconciler) insert(ctx context.Context, tx Repository, ev *SubscriptionEvent, userID uint) (*models.SubscriptionRecord, error) {
	rec := newRecord(ev, userID)
	if ref, err := tx.Commissions().FindReferral(ctx, userID); err == nil {
		rec.ReferredByUserID = &ref.ReferrerUserID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load referral: %w", err)
	}

	created, err := tx.InsertSubscriptionIfNotExists(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	if created {
		return rec, nil
	}

	// a concurrent event for the same subscription got there first
	existing, err := tx.FindSubscription(ctx, ev.Provider, ev.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("reload subscription: %w", err)
	}
	if applyTransition(existing, ev) {
		if err := tx.SaveSubscription(ctx, existing); err != nil {
			return nil, fmt.Errorf("save subscription: %w", err)
		}
	}
	return existing, nil
}

// resolveUser finds the local user an event belongs to. An existing record
// keeps its owner even if a later payload names someone else.
func (r *Reconciler) resolveUser(ctx context.Context, tx Repository, ev *SubscriptionEvent, rec *models.SubscriptionRecord) (uint, error) {
	if rec != nil {
		if ev.UserID != 0 && ev.UserID != rec.UserID {
			log.Warnf("[Reconciler] %s subscription %s belongs to user %d, event names user %d; keeping owner",
				ev.Provider, ev.SubscriptionID, rec.UserID, ev.UserID)
		}
		return rec.UserID, nil
	}
	if ev.UserID != 0 {
		return ev.UserID, nil
	}
	if ev.CustomerID == "" {
		return 0, nil
	}
	link, err := tx.FindCustomerLink(ctx, ev.Provider, ev.CustomerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load customer link: %w", err)
	}
	return link.UserID, nil
}

func (r *Reconciler) unmappable(ctx context.Context, tx Repository, we *models.WebhookEvent, ev *SubscriptionEvent, reason string) (*Outcome, error) {
	log.Warnf("[Reconciler] dropping %s event %s (%s): %s", ev.Provider, ev.EventID, ev.EventType, reason)
	if err := tx.MarkWebhookProcessed(ctx, we.ID, models.WebhookOutcomeUnmappable, 0, reason); err != nil {
		return nil, fmt.Errorf("mark webhook processed: %w", err)
	}
	return &Outcome{Status: OutcomeUnmappable, Reason: reason}, nil
}

// rebalance recomputes which of the user's records is active for
// resolution. Losers are cleared before the winner is set so the unique
// resolved_for index never sees two rows for one user.
func (r *Reconciler) rebalance(ctx context.Context, tx Repository, userID uint) (entitlements.Tier, error) {
	recs, err := tx.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	winner := pickWinner(recs)

	for i := range recs {
		rec := &recs[i]
		if winner != nil && rec.ID == winner.ID {
			continue
		}
		superseded := rec.Status.Entitling()
		if rec.ResolvedFor == nil && rec.Superseded == superseded {
			continue
		}
		if err := tx.UpdateResolution(ctx, rec.ID, nil, superseded); err != nil {
			return "", fmt.Errorf("clear resolution of record %d: %w", rec.ID, err)
		}
	}

	if winner == nil {
		return entitlements.TierFree, nil
	}
	if !winner.IsResolved() || winner.Superseded {
		owner := userID
		if err := tx.UpdateResolution(ctx, winner.ID, &owner, false); err != nil {
			return "", fmt.Errorf("resolve record %d: %w", winner.ID, err)
		}
	}
	return winner.Tier, nil
}

// Rebalance recomputes the user's resolved record outside of event
// processing, for repair jobs and the admin API.
func (r *Reconciler) Rebalance(ctx context.Context, userID uint) (entitlements.Tier, error) {
	var tier entitlements.Tier
	err := r.repo.Transaction(ctx, func(tx Repository) error {
		t, err := r.rebalance(ctx, tx, userID)
		tier = t
		return err
	})
	if err != nil {
		return "", err
	}
	log.Infof("[Reconciler] rebalanced user=%d effective=%s", userID, tier)
	return tier, nil
}

// GrantManual records an admin-issued subscription. periodEnd may be nil for
// an open-ended grant.
func (r *Reconciler) GrantManual(ctx context.Context, userID uint, tier entitlements.Tier, periodEnd *time.Time) (*Outcome, error) {
	if userID == 0 {
		return nil, errors.New("user id is required")
	}
	if _, ok := entitlements.ParseTier(string(tier)); !ok || tier == entitlements.TierFree {
		return nil, fmt.Errorf("cannot grant tier %q", tier)
	}
	now := r.now().UTC()
	id := uuid.NewString()
	return r.Apply(ctx, &SubscriptionEvent{
		Provider:       models.ProviderManual,
		EventID:        "grant:" + id,
		EventType:      "manual.grant",
		Kind:           models.EventKindPurchased,
		UserID:         userID,
		SubscriptionID: "manual:" + id,
		Tier:           tier,
		PeriodStart:    &now,
		PeriodEnd:      copyTime(periodEnd),
		OccurredAt:     now,
	})
}

// RevokeManual expires every entitling manual grant of the user and returns
// how many were revoked.
func (r *Reconciler) RevokeManual(ctx context.Context, userID uint) (int, error) {
	recs, err := r.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, rec := range recs {
		if rec.Provider != models.ProviderManual || !rec.Status.Entitling() {
			continue
		}
		out, err := r.Apply(ctx, &SubscriptionEvent{
			Provider:       models.ProviderManual,
			EventID:        "revoke:" + uuid.NewString(),
			EventType:      "manual.revoke",
			Kind:           models.EventKindExpired,
			UserID:         userID,
			SubscriptionID: rec.ProviderSubscriptionID,
			OccurredAt:     r.now().UTC(),
		})
		if err != nil {
			return revoked, err
		}
		if out.Status == OutcomeApplied {
			revoked++
		}
	}
	return revoked, nil
}
