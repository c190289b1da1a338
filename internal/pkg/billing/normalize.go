package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// Normalizer maps verified provider payloads onto SubscriptionEvents.
type Normalizer struct {
	cardTiers *entitlements.TierTable
	iapTiers  *entitlements.TierTable
}

func NewNormalizer(cardTiers, iapTiers *entitlements.TierTable) *Normalizer {
	return &Normalizer{cardTiers: cardTiers, iapTiers: iapTiers}
}

// Normalize returns ErrUnmappable (wrapped) for events that carry no
// entitlement meaning.
func (n *Normalizer) Normalize(v *VerifiedEvent) (*SubscriptionEvent, error) {
	switch {
	case v == nil:
		return nil, fmt.Errorf("%w: nil event", ErrUnmappable)
	case v.card != nil:
		return n.normalizeCard(v)
	case v.iap != nil:
		return n.normalizeIAP(v)
	default:
		return nil, fmt.Errorf("%w: %s event %s has no payload", ErrUnmappable, v.Provider, v.EventID)
	}
}

func unmappable(v *VerifiedEvent, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s (%s): %s", ErrUnmappable, v.Provider, v.EventType, v.EventID, fmt.Sprintf(format, args...))
}

// parseUserID accepts positive decimal ids only.
func parseUserID(s string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0
	}
	return uint(id)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func unixMilliPtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// requireTier enforces that events which can create or renew a subscription
// name a known product.
func requireTier(v *VerifiedEvent, kind models.EventKind, tier entitlements.Tier, refs []string) error {
	if tier != "" {
		return nil
	}
	if kind == models.EventKindPurchased || kind == models.EventKindRenewed {
		return unmappable(v, "no tier mapping for %v", refs)
	}
	return nil
}
