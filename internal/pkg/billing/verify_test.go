package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/tiergate/app/models"
)

const (
	testCardSecret = "whsec_test_tiergate"
	testIAPToken   = "iap-shared-token"
)

// cardPayload builds a card processor event envelope around object.
func cardPayload(t *testing.T, id, eventType string, created time.Time, object map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func signCard(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	}).Header
}

// iapPayload builds an in-app purchase broker delivery; fields override the
// defaults of a production INITIAL_PURCHASE.
func iapPayload(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	event := map[string]interface{}{
		"id":                          "evt-iap-1",
		"type":                        "INITIAL_PURCHASE",
		"environment":                 "PRODUCTION",
		"app_user_id":                 "42",
		"original_app_user_id":        "42",
		"entitlement_ids":             []string{"pro_access"},
		"product_id":                  "com.example.pro.monthly",
		"purchased_at_ms":             int64(1773482400000),
		"expiration_at_ms":            int64(1776160800000),
		"event_timestamp_ms":          int64(1773482401000),
		"transaction_id":              "1000000001",
		"original_transaction_id":     "1000000001",
		"currency":                    "USD",
		"price":                       12.99,
		"price_in_purchased_currency": 12.99,
		"store":                       "APP_STORE",
	}
	for k, v := range fields {
		event[k] = v
	}
	b, err := json.Marshal(map[string]interface{}{"api_version": "1.0", "event": event})
	require.NoError(t, err)
	return b
}

func TestVerifyCard(t *testing.T) {
	v := NewVerifier(testCardSecret, testIAPToken)
	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	payload := cardPayload(t, "evt_card_1", "invoice.paid", created, map[string]interface{}{"id": "in_1"})

	t.Run("valid signature", func(t *testing.T) {
		got, err := v.VerifyCard(payload, signCard(payload, testCardSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ProviderCardProcessor, got.Provider)
		assert.Equal(t, "evt_card_1", got.EventID)
		assert.Equal(t, "invoice.paid", got.EventType)
		assert.True(t, got.OccurredAt.Equal(created))
		assert.False(t, got.Advisory)
		require.NotNil(t, got.card)
		assert.JSONEq(t, `{"id":"in_1"}`, string(got.card.Object))
	})

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{"wrong secret", payload, signCard(payload, "whsec_other", time.Now())},
		{"missing header", payload, ""},
		{"garbage header", payload, "t=abc,v1=zzz"},
		{"expired timestamp", payload, signCard(payload, testCardSecret, time.Now().Add(-10*time.Minute))},
		{"tampered body", append(append([]byte{}, payload[:len(payload)-1]...), []byte(`,"x":1}`)...), signCard(payload, testCardSecret, time.Now())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyCard(tt.payload, tt.header)
			assert.ErrorIs(t, err, ErrVerification)
		})
	}

	t.Run("unconfigured secret rejects everything", func(t *testing.T) {
		_, err := NewVerifier("", testIAPToken).VerifyCard(payload, signCard(payload, "", time.Now()))
		assert.ErrorIs(t, err, ErrVerification)
	})
}

func TestVerifyIAP(t *testing.T) {
	v := NewVerifier(testCardSecret, testIAPToken)
	payload := iapPayload(t, nil)

	accepted := []struct {
		name, auth, query string
	}{
		{"bearer header", "Bearer " + testIAPToken, ""},
		{"raw header", testIAPToken, ""},
		{"query token", "", testIAPToken},
	}
	for _, tt := range accepted {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.VerifyIAP(payload, tt.auth, tt.query)
			require.NoError(t, err)
			assert.Equal(t, models.ProviderIAPBroker, got.Provider)
			assert.Equal(t, "evt-iap-1", got.EventID)
			assert.Equal(t, "INITIAL_PURCHASE", got.EventType)
			assert.False(t, got.Advisory)
			assert.True(t, got.OccurredAt.Equal(time.UnixMilli(1773482401000)))
		})
	}

	rejected := []struct {
		name    string
		payload []byte
		auth    string
	}{
		{"wrong token", payload, "Bearer nope"},
		{"missing token", payload, ""},
		{"malformed body", []byte(`{"event":`), "Bearer " + testIAPToken},
		{"event without id", iapPayload(t, map[string]interface{}{"id": ""}), "Bearer " + testIAPToken},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyIAP(tt.payload, tt.auth, "")
			assert.ErrorIs(t, err, ErrVerification)
		})
	}

	t.Run("sandbox without token is advisory", func(t *testing.T) {
		got, err := v.VerifyIAP(iapPayload(t, map[string]interface{}{"environment": "SANDBOX"}), "", "")
		require.NoError(t, err)
		assert.True(t, got.Advisory)
	})

	t.Run("unconfigured token rejects production events", func(t *testing.T) {
		_, err := NewVerifier(testCardSecret, "").VerifyIAP(payload, "Bearer ", "")
		assert.ErrorIs(t, err, ErrVerification)
	})
}
