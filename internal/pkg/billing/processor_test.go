package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

type recordingArchiver struct {
	mu    sync.Mutex
	keys  []string
	fails bool
}

func (a *recordingArchiver) Archive(_ context.Context, provider models.Provider, eventID string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, string(provider)+"/"+eventID)
	if a.fails {
		return errors.New("bucket unavailable")
	}
	return nil
}

func newProcessor(f *fixture) *Processor {
	return NewProcessor(
		NewVerifier(testCardSecret, testIAPToken),
		NewNormalizer(testCardTiers, testIAPTiers),
		f.reconciler,
		f.repo,
	)
}

func TestProcessorCardPurchasePaysCommissionOnce(t *testing.T) {
	f := newFixture(t)
	f.refer(t, 100, 42)
	archiver := &recordingArchiver{}
	p := newProcessor(f).WithArchiver(archiver)

	payload := cardPayload(t, "evt_inv_1", "invoice.paid", t0, invoiceObject("subscription_create", 1299, "usd"))
	for i := 0; i < 3; i++ {
		out, err := p.HandleCard(context.Background(), payload, signCard(payload, testCardSecret, time.Now()))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApplied, out.Status)
			require.NotNil(t, out.Commission)
			assert.Equal(t, commission.StatusCreated, out.Commission.Status)
		} else {
			assert.Equal(t, OutcomeDuplicate, out.Status)
		}
	}

	var c models.Commission
	require.NoError(t, f.db.First(&c).Error)
	assert.Equal(t, int64(260), c.AmountMinor)
	assert.Equal(t, int64(1), f.count(t, &models.Commission{}))
	assert.Equal(t, entitlements.TierPro, f.tier(t, 42))
	assert.Len(t, archiver.keys, 3)
	assert.Equal(t, "card_processor/evt_inv_1", archiver.keys[0])
}

func TestProcessorRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	p := newProcessor(f)

	payload := cardPayload(t, "evt_inv_1", "invoice.paid", t0, invoiceObject("subscription_create", 1299, "usd"))
	_, err := p.HandleCard(context.Background(), payload, signCard(payload, "whsec_forged", time.Now()))
	assert.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, int64(0), f.count(t, &models.WebhookEvent{}))
	assert.Equal(t, int64(0), f.count(t, &models.SubscriptionRecord{}))
}

func TestProcessorSandboxLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	p := newProcessor(f)
	ctx := context.Background()

	_, err := p.HandleIAP(ctx, iapPayload(t, nil), "Bearer "+testIAPToken, "")
	require.NoError(t, err)
	require.Equal(t, entitlements.TierPro, f.tier(t, 42))
	events := f.count(t, &models.WebhookEvent{})

	sandbox := []map[string]interface{}{
		{"id": "sbx-1", "environment": "SANDBOX", "type": "EXPIRATION"},
		{"id": "sbx-2", "environment": "SANDBOX", "entitlement_ids": []string{"elite_access"},
			"transaction_id": "2000000001", "original_transaction_id": "2000000001"},
	}
	for _, fields := range sandbox {
		out, err := p.HandleIAP(ctx, iapPayload(t, fields), "", "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeAdvisory, out.Status)
	}

	assert.Equal(t, entitlements.TierPro, f.tier(t, 42))
	assert.Equal(t, events, f.count(t, &models.WebhookEvent{}))
	assert.Equal(t, int64(1), f.count(t, &models.SubscriptionRecord{}))
	assert.Equal(t, models.SubscriptionStatusActive, f.record(t, models.ProviderIAPBroker, "1000000001").Status)
}

func TestProcessorRemembersUnmappableEvents(t *testing.T) {
	f := newFixture(t)
	p := newProcessor(f)
	ctx := context.Background()

	payload := cardPayload(t, "evt_refund", "charge.refunded", t0, map[string]interface{}{"id": "ch_1"})
	out, err := p.HandleCard(ctx, payload, signCard(payload, testCardSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmappable, out.Status)
	assert.NotEmpty(t, out.Reason)

	out, err = p.HandleCard(ctx, payload, signCard(payload, testCardSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out.Status)

	var we models.WebhookEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_refund").First(&we).Error)
	assert.Equal(t, models.WebhookOutcomeUnmappable, we.Outcome)
	assert.Contains(t, we.ProcessingError, "unsupported event type")
}

func TestProcessorArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	archiver := &recordingArchiver{fails: true}
	p := newProcessor(f).WithArchiver(archiver)

	out, err := p.HandleIAP(context.Background(), iapPayload(t, nil), "", "iap-shared-token")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out.Status)
	assert.Len(t, archiver.keys, 1)
}
