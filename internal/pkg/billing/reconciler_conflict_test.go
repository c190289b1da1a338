package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// contendedRepo wraps a real repository and plays the part of a concurrent
// writer: it can commit a competing row right before the reconciler's insert,
// and it can abort transactions with a unique-key violation.
type contendedRepo struct {
	Repository

	// beforeInsert runs once, inside the transaction, before the first
	// subscription insert.
	beforeInsert func(ctx context.Context, tx Repository)
	// failTx is how many transactions are rolled back with ErrDuplicatedKey.
	failTx  int
	txCalls int
}

func (r *contendedRepo) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	r.txCalls++
	abort := r.txCalls <= r.failTx
	return r.Repository.Transaction(ctx, func(tx Repository) error {
		if err := fn(&contendedTx{Repository: tx, parent: r}); err != nil {
			return err
		}
		if abort {
			return gorm.ErrDuplicatedKey
		}
		return nil
	})
}

type contendedTx struct {
	Repository
	parent *contendedRepo
}

func (t *contendedTx) InsertSubscriptionIfNotExists(ctx context.Context, rec *models.SubscriptionRecord) (bool, error) {
	if hook := t.parent.beforeInsert; hook != nil {
		t.parent.beforeInsert = nil
		hook(ctx, t.Repository)
	}
	return t.Repository.InsertSubscriptionIfNotExists(ctx, rec)
}

func TestApplyLostInsertRaceUpdatesWinnerPeriodOnly(t *testing.T) {
	f := newFixture(t)
	f.refer(t, 100, 42)

	periodEnd := t0.Add(30 * 24 * time.Hour)
	var winnerID uint
	repo := &contendedRepo{Repository: f.repo}
	repo.beforeInsert = func(ctx context.Context, tx Repository) {
		// the subscription.created delivery commits first, together with
		// the commission for the same charge
		winner := newRecord(purchaseEvent(models.ProviderCardProcessor, "evt_created", "sub_race", 42, entitlements.TierPro, t0), 42)
		created, err := tx.InsertSubscriptionIfNotExists(ctx, winner)
		require.NoError(t, err)
		require.True(t, created)
		winnerID = winner.ID

		_, res, err := f.engine.Calculate(ctx, tx.Commissions(), commission.BillingEvent{
			Kind:          models.EventKindPurchased,
			Provider:      models.ProviderCardProcessor,
			SourceEventID: "card_processor:in_race",
			UserID:        42,
			AmountMinor:   1299,
			Currency:      "USD",
			PeriodStart:   t0,
		})
		require.NoError(t, err)
		require.Equal(t, commission.StatusCreated, res.Status)
	}
	reconciler := NewReconciler(repo, f.engine)

	ev := purchaseEvent(models.ProviderCardProcessor, "evt_invoice", "sub_race", 42, entitlements.TierElite, t0.Add(time.Second))
	ev.TransactionID = "in_race"
	withPeriod(ev, t0, periodEnd)

	out, err := reconciler.Apply(context.Background(), ev)
	require.NoError(t, err)
	require.NotZero(t, winnerID, "competing insert did not run")

	assert.Equal(t, OutcomeApplied, out.Status)
	assert.Equal(t, winnerID, out.RecordID)
	assert.Equal(t, entitlements.TierPro, out.Tier)
	require.NotNil(t, out.Commission)
	assert.Equal(t, commission.StatusDuplicate, out.Commission.Status)

	assert.Equal(t, int64(1), f.count(t, &models.SubscriptionRecord{}))
	assert.Equal(t, int64(1), f.count(t, &models.Commission{}))

	rec := f.record(t, models.ProviderCardProcessor, "sub_race")
	assert.Equal(t, winnerID, rec.ID)
	assert.Equal(t, entitlements.TierPro, rec.Tier, "a purchase on an existing subscription never changes its tier")
	assert.Equal(t, models.SubscriptionStatusActive, rec.Status)
	assert.False(t, rec.CancelAtPeriodEnd)
	assert.True(t, rec.ActivatedAt.Equal(t0))
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.True(t, rec.CurrentPeriodEnd.Equal(periodEnd))
	assert.Equal(t, entitlements.TierPro, f.tier(t, 42))
}

func TestApplyRetriesOnceAfterDuplicateKey(t *testing.T) {
	f := newFixture(t)
	repo := &contendedRepo{Repository: f.repo, failTx: 1}
	reconciler := NewReconciler(repo, f.engine)

	out, err := reconciler.Apply(context.Background(),
		purchaseEvent(models.ProviderIAPBroker, "evt_retry", "sub_retry", 7, entitlements.TierPro, t0))
	require.NoError(t, err)

	assert.Equal(t, 2, repo.txCalls)
	assert.Equal(t, OutcomeApplied, out.Status)
	assert.Equal(t, int64(1), f.count(t, &models.WebhookEvent{}))
	assert.Equal(t, int64(1), f.count(t, &models.SubscriptionRecord{}))
	assert.Equal(t, entitlements.TierPro, f.tier(t, 7))
}

func TestApplyGivesUpAfterSecondDuplicateKey(t *testing.T) {
	f := newFixture(t)
	repo := &contendedRepo{Repository: f.repo, failTx: 2}
	reconciler := NewReconciler(repo, f.engine)

	_, err := reconciler.Apply(context.Background(),
		purchaseEvent(models.ProviderIAPBroker, "evt_retry", "sub_retry", 7, entitlements.TierPro, t0))
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	assert.Equal(t, 2, repo.txCalls)
	assert.Equal(t, int64(0), f.count(t, &models.WebhookEvent{}))
	assert.Equal(t, int64(0), f.count(t, &models.SubscriptionRecord{}))
}

func TestApplyDoesNotMutateCallerEvent(t *testing.T) {
	f := newFixture(t)
	f.reconciler.now = func() time.Time { return t0 }

	ev := purchaseEvent(models.ProviderCardProcessor, "evt_untimed", "sub_untimed", 5, entitlements.TierPro, time.Time{})
	out, err := f.reconciler.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out.Status)

	assert.True(t, ev.OccurredAt.IsZero())
	rec := f.record(t, models.ProviderCardProcessor, "sub_untimed")
	assert.True(t, rec.LastEventAt.Equal(t0))
}
