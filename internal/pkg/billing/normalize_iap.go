package billing

import (
	"strings"

	"github.com/ManuelReschke/tiergate/app/models"
)

type iapEnvelope struct {
	APIVersion string   `json:"api_version"`
	Event      iapEvent `json:"event"`
}

type iapEvent struct {
	ID                       string   `json:"id"`
	Type                     string   `json:"type"`
	Environment              string   `json:"environment"`
	AppUserID                string   `json:"app_user_id"`
	OriginalAppUserID        string   `json:"original_app_user_id"`
	Aliases                  []string `json:"aliases"`
	ProductID                string   `json:"product_id"`
	EntitlementIDs           []string `json:"entitlement_ids"`
	EntitlementID            string   `json:"entitlement_id"`
	PeriodType               string   `json:"period_type"`
	PurchasedAtMs            int64    `json:"purchased_at_ms"`
	ExpirationAtMs           int64    `json:"expiration_at_ms"`
	EventTimestampMs         int64    `json:"event_timestamp_ms"`
	TransactionID            string   `json:"transaction_id"`
	OriginalTransactionID    string   `json:"original_transaction_id"`
	Currency                 string   `json:"currency"`
	Price                    float64  `json:"price"`
	PriceInPurchasedCurrency float64  `json:"price_in_purchased_currency"`
	Store                    string   `json:"store"`
}

var iapKinds = map[string]models.EventKind{
	"INITIAL_PURCHASE":      models.EventKindPurchased,
	"NON_RENEWING_PURCHASE": models.EventKindPurchased,
	"RENEWAL":               models.EventKindRenewed,
	"CANCELLATION":          models.EventKindCanceled,
	"UNCANCELLATION":        models.EventKindReactivated,
	"BILLING_ISSUE":         models.EventKindPaymentFailed,
	"EXPIRATION":            models.EventKindExpired,
}

func (n *Normalizer) normalizeIAP(v *VerifiedEvent) (*SubscriptionEvent, error) {
	e := v.iap
	kind, ok := iapKinds[strings.ToUpper(strings.TrimSpace(e.Type))]
	if !ok {
		return nil, unmappable(v, "unsupported event type")
	}

	subID := strings.TrimSpace(e.OriginalTransactionID)
	if subID == "" {
		subID = strings.TrimSpace(e.TransactionID)
	}
	if subID == "" {
		return nil, unmappable(v, "event without transaction id")
	}

	refs := append([]string{}, e.EntitlementIDs...)
	if e.EntitlementID != "" {
		refs = append(refs, e.EntitlementID)
	}
	tier, found := n.iapTiers.Best(refs)
	if !found && e.ProductID != "" {
		refs = append(refs, e.ProductID)
		tier, _ = n.iapTiers.Best([]string{e.ProductID})
	}
	if err := requireTier(v, kind, tier, refs); err != nil {
		return nil, err
	}

	customerID := strings.TrimSpace(e.OriginalAppUserID)
	if customerID == "" {
		customerID = strings.TrimSpace(e.AppUserID)
	}

	ev := &SubscriptionEvent{
		Provider:       models.ProviderIAPBroker,
		EventID:        v.EventID,
		EventType:      v.EventType,
		Kind:           kind,
		UserID:         iapUserID(e),
		CustomerID:     customerID,
		SubscriptionID: subID,
		Tier:           tier,
		PeriodStart:    unixMilliPtr(e.PurchasedAtMs),
		PeriodEnd:      unixMilliPtr(e.ExpirationAtMs),
		OccurredAt:     v.OccurredAt,
	}
	if kind.Billable() {
		ev.TransactionID = strings.TrimSpace(e.TransactionID)
		ev.Amount = decimalMoney(e.PriceInPurchasedCurrency, e.Currency)
		if ev.Amount.Minor == 0 && e.Price > 0 {
			// price is always reported in USD
			ev.Amount = decimalMoney(e.Price, "USD")
		}
	}
	return ev, nil
}

// iapUserID prefers the numeric app user id, then any numeric alias.
// Anonymous broker ids ($RCAnonymousID:...) never parse.
func iapUserID(e *iapEvent) uint {
	if id := parseUserID(e.AppUserID); id != 0 {
		return id
	}
	if id := parseUserID(e.OriginalAppUserID); id != 0 {
		return id
	}
	for _, alias := range e.Aliases {
		if id := parseUserID(alias); id != 0 {
			return id
		}
	}
	return 0
}
