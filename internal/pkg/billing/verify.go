package billing

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/tiergate/app/models"
)

// DefaultSignatureTolerance bounds how old a signed card delivery may be.
const DefaultSignatureTolerance = 5 * time.Minute

const iapEnvironmentSandbox = "SANDBOX"

// Verifier authenticates webhook deliveries from both providers.
type Verifier struct {
	cardSecret string
	iapToken   string
	tolerance  time.Duration
}

func NewVerifier(cardSecret, iapToken string) *Verifier {
	return &Verifier{
		cardSecret: strings.TrimSpace(cardSecret),
		iapToken:   strings.TrimSpace(iapToken),
		tolerance:  DefaultSignatureTolerance,
	}
}

// VerifyCard checks the Stripe-Signature header (HMAC-SHA256 over
// "<timestamp>.<body>", constant-time compare, bounded timestamp age).
func (v *Verifier) VerifyCard(payload []byte, signatureHeader string) (*VerifiedEvent, error) {
	if v.cardSecret == "" {
		return nil, fmt.Errorf("%w: card webhook secret is not configured", ErrVerification)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrVerification)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.cardSecret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, fmt.Errorf("%w: event without id or data", ErrVerification)
	}

	return &VerifiedEvent{
		Provider:   models.ProviderCardProcessor,
		EventID:    event.ID,
		EventType:  string(event.Type),
		Payload:    payload,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		card: &cardEvent{
			Type:    string(event.Type),
			Created: event.Created,
			Object:  event.Data.Raw,
		},
	}, nil
}

// VerifyIAP checks the shared bearer token sent by the broker. authHeader is
// the Authorization header; queryToken the ?token= fallback some broker
// dashboards can only be configured with. Sandbox events are accepted
// without a token but marked advisory.
func (v *Verifier) VerifyIAP(payload []byte, authHeader, queryToken string) (*VerifiedEvent, error) {
	var env iapEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrVerification, err)
	}
	ev := env.Event
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Type) == "" {
		return nil, fmt.Errorf("%w: event without id or type", ErrVerification)
	}

	sandbox := strings.EqualFold(strings.TrimSpace(ev.Environment), iapEnvironmentSandbox)
	if !sandbox && !v.iapTokenMatches(authHeader, queryToken) {
		return nil, fmt.Errorf("%w: invalid or missing bearer token", ErrVerification)
	}

	occurred := time.Now().UTC()
	if ev.EventTimestampMs > 0 {
		occurred = time.UnixMilli(ev.EventTimestampMs).UTC()
	}
	return &VerifiedEvent{
		Provider:   models.ProviderIAPBroker,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Payload:    payload,
		Advisory:   sandbox,
		OccurredAt: occurred,
		iap:        &ev,
	}, nil
}

func (v *Verifier) iapTokenMatches(authHeader, queryToken string) bool {
	if v.iapToken == "" {
		return false
	}
	token := strings.TrimSpace(authHeader)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		token = strings.TrimSpace(queryToken)
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.iapToken)) == 1
}
