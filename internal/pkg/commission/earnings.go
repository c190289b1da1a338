package commission

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/app/models"
)

type MonthlyEarnings struct {
	Month        string `json:"month"`
	TotalMinor   int64  `json:"total_minor"`
	PaidMinor    int64  `json:"paid_minor"`
	PendingMinor int64  `json:"pending_minor"`
}

// Earnings summarizes an affiliate's commissions in one currency. Amounts
// are minor units (cents).
type Earnings struct {
	AffiliateID    uint              `json:"affiliate_id"`
	UserID         uint              `json:"user_id"`
	ReferralCode   string            `json:"referral_code"`
	RateTier       string            `json:"rate_tier"`
	CommissionRate float64           `json:"commission_rate"`
	ConvertedCount int               `json:"converted_count"`
	Currency       string            `json:"currency"`
	TotalMinor     int64             `json:"total_minor"`
	PaidMinor      int64             `json:"paid_minor"`
	PendingMinor   int64             `json:"pending_minor"`
	Monthly        []MonthlyEarnings `json:"monthly"`
}

// Earnings aggregates commissions of the affiliate owned by userID. Only
// pending and paid rows count; months are UTC and keyed by period start.
func (e *Engine) Earnings(ctx context.Context, userID uint, currency string) (*Earnings, error) {
	aff, err := e.repo.FindAffiliateByUserID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, err
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	rows, err := e.repo.ListCommissions(ctx, aff.ID, currency)
	if err != nil {
		return nil, err
	}

	out := &Earnings{
		AffiliateID:    aff.ID,
		UserID:         aff.UserID,
		ReferralCode:   aff.ReferralCode,
		RateTier:       aff.RateTier,
		CommissionRate: aff.CommissionRate,
		ConvertedCount: aff.ConvertedCount,
		Currency:       currency,
		Monthly:        []MonthlyEarnings{},
	}
	index := map[string]int{}
	for _, c := range rows {
		if c.Status != models.CommissionStatusPending && c.Status != models.CommissionStatusPaid {
			log.Warnf("[Commission] skipping commission %d with unknown status %q", c.ID, c.Status)
			continue
		}
		month := c.PeriodStart.UTC().Format("2006-01")
		i, ok := index[month]
		if !ok {
			out.Monthly = append(out.Monthly, MonthlyEarnings{Month: month})
			i = len(out.Monthly) - 1
			index[month] = i
		}
		m := &out.Monthly[i]

		out.TotalMinor += c.AmountMinor
		m.TotalMinor += c.AmountMinor
		switch c.Status {
		case models.CommissionStatusPaid:
			out.PaidMinor += c.AmountMinor
			m.PaidMinor += c.AmountMinor
		case models.CommissionStatusPending:
			out.PendingMinor += c.AmountMinor
			m.PendingMinor += c.AmountMinor
		}
	}
	return out, nil
}
