package billing

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ManuelReschke/tiergate/app/models"
)

// cardEvent is the verified envelope; Object is event.data.object.
type cardEvent struct {
	Type    string
	Created int64
	Object  json.RawMessage
}

type cardPrice struct {
	ID string `json:"id"`
}

type cardSubscription struct {
	ID                 string            `json:"id"`
	Customer           json.RawMessage   `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price              cardPrice `json:"price"`
			CurrentPeriodStart int64     `json:"current_period_start"`
			CurrentPeriodEnd   int64     `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type cardInvoice struct {
	ID            string          `json:"id"`
	Customer      json.RawMessage `json:"customer"`
	Subscription  json.RawMessage `json:"subscription"`
	BillingReason string          `json:"billing_reason"`
	AmountPaid    int64           `json:"amount_paid"`
	Currency      string          `json:"currency"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Price   *cardPrice `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
}

// expandableID reads a field that is either an id string or an expanded
// object with an "id".
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func (n *Normalizer) normalizeCard(v *VerifiedEvent) (*SubscriptionEvent, error) {
	switch v.card.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return n.cardSubscriptionEvent(v)
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		return n.cardInvoiceEvent(v)
	default:
		return nil, unmappable(v, "unsupported event type")
	}
}

func (n *Normalizer) cardSubscriptionEvent(v *VerifiedEvent) (*SubscriptionEvent, error) {
	var sub cardSubscription
	if err := json.Unmarshal(v.card.Object, &sub); err != nil {
		return nil, unmappable(v, "decode subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, unmappable(v, "subscription without id")
	}

	var kind models.EventKind
	switch v.card.Type {
	case "customer.subscription.created":
		kind = models.EventKindPurchased
	case "customer.subscription.deleted":
		kind = models.EventKindExpired
	default:
		switch {
		case sub.Status == "canceled" || sub.Status == "incomplete_expired":
			kind = models.EventKindExpired
		case sub.Status == "past_due" || sub.Status == "unpaid":
			kind = models.EventKindPaymentFailed
		case sub.CancelAtPeriodEnd:
			kind = models.EventKindCanceled
		case sub.Status == "active" || sub.Status == "trialing":
			kind = models.EventKindReactivated
		default:
			return nil, unmappable(v, "subscription status %q", sub.Status)
		}
	}
	if kind == models.EventKindPurchased && sub.Status != "active" && sub.Status != "trialing" {
		// incomplete subscriptions become active through a later update/invoice
		return nil, unmappable(v, "subscription created in status %q", sub.Status)
	}

	refs := make([]string, 0, len(sub.Items.Data))
	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	for _, item := range sub.Items.Data {
		if item.Price.ID != "" {
			refs = append(refs, item.Price.ID)
		}
		if item.CurrentPeriodEnd > end {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	tier, _ := n.cardTiers.Best(refs)
	if err := requireTier(v, kind, tier, refs); err != nil {
		return nil, err
	}

	return &SubscriptionEvent{
		Provider:       models.ProviderCardProcessor,
		EventID:        v.EventID,
		EventType:      v.EventType,
		Kind:           kind,
		UserID:         parseUserID(sub.Metadata["user_id"]),
		CustomerID:     expandableID(sub.Customer),
		SubscriptionID: sub.ID,
		Tier:           tier,
		PeriodStart:    unixPtr(start),
		PeriodEnd:      unixPtr(end),
		OccurredAt:     v.OccurredAt,
	}, nil
}

func (n *Normalizer) cardInvoiceEvent(v *VerifiedEvent) (*SubscriptionEvent, error) {
	var inv cardInvoice
	if err := json.Unmarshal(v.card.Object, &inv); err != nil {
		return nil, unmappable(v, "decode invoice: %v", err)
	}

	subID := expandableID(inv.Subscription)
	metadata := map[string]string{}
	if inv.SubscriptionDetails != nil {
		for k, val := range inv.SubscriptionDetails.Metadata {
			metadata[k] = val
		}
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if subID == "" {
			subID = expandableID(inv.Parent.SubscriptionDetails.Subscription)
		}
		for k, val := range inv.Parent.SubscriptionDetails.Metadata {
			metadata[k] = val
		}
	}
	if subID == "" {
		return nil, unmappable(v, "invoice %s is not for a subscription", inv.ID)
	}

	var kind models.EventKind
	if v.card.Type == "invoice.payment_failed" {
		kind = models.EventKindPaymentFailed
	} else {
		switch inv.BillingReason {
		case "subscription_create":
			kind = models.EventKindPurchased
		case "subscription_cycle":
			kind = models.EventKindRenewed
		default:
			return nil, unmappable(v, "billing reason %q", inv.BillingReason)
		}
	}

	var (
		refs       []string
		start, end int64
	)
	for _, line := range inv.Lines.Data {
		switch {
		case line.Pricing != nil && line.Pricing.PriceDetails != nil && line.Pricing.PriceDetails.Price != "":
			refs = append(refs, line.Pricing.PriceDetails.Price)
		case line.Price != nil && line.Price.ID != "":
			refs = append(refs, line.Price.ID)
		}
		if line.Period.End > end {
			start, end = line.Period.Start, line.Period.End
		}
		if metadata["user_id"] == "" && line.Metadata["user_id"] != "" {
			metadata["user_id"] = line.Metadata["user_id"]
		}
	}
	tier, _ := n.cardTiers.Best(refs)
	if err := requireTier(v, kind, tier, refs); err != nil {
		return nil, err
	}

	ev := &SubscriptionEvent{
		Provider:       models.ProviderCardProcessor,
		EventID:        v.EventID,
		EventType:      v.EventType,
		Kind:           kind,
		UserID:         parseUserID(metadata["user_id"]),
		CustomerID:     expandableID(inv.Customer),
		SubscriptionID: subID,
		Tier:           tier,
		PeriodStart:    unixPtr(start),
		PeriodEnd:      unixPtr(end),
		OccurredAt:     v.OccurredAt,
	}
	if kind.Billable() {
		ev.TransactionID = strings.TrimSpace(inv.ID)
		ev.Amount = cardMoney(inv.AmountPaid, inv.Currency)
	}
	return ev, nil
}
