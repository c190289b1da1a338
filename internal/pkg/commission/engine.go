// Package commission turns billed subscription events into affiliate
// commissions. It only knows about models; the billing package calls in.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
	"github.com/ManuelReschke/tiergate/internal/pkg/referralcode"
)

var (
	ErrAffiliateNotFound   = errors.New("affiliate not found")
	ErrUnknownReferralCode = errors.New("unknown referral code")
	ErrSelfReferral        = errors.New("users cannot refer themselves")
	ErrAlreadyReferred     = errors.New("user already has a referrer")
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusDuplicate Status = "duplicate"
	StatusSkipped   Status = "skipped"
)

type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// BillingEvent is the subset of a subscription event the engine needs.
type BillingEvent struct {
	Kind     models.EventKind
	Provider models.Provider
	// SourceEventID identifies the charge (provider transaction id) and is
	// the idempotency key of the resulting commission.
	SourceEventID string
	UserID        uint
	// ReferredByUserID is the referrer recorded on the subscription, used
	// when the user has no Referral row.
	ReferredByUserID *uint
	AmountMinor      int64
	Currency         string
	PeriodStart      time.Time
}

type Engine struct {
	repo Repository
}

func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Calculate records the commission owed for ev, at most once per
// SourceEventID. repo may be a transaction-scoped repository; nil uses the
// engine's own.
func (e *Engine) Calculate(ctx context.Context, repo Repository, ev BillingEvent) (*models.Commission, Result, error) {
	if repo == nil {
		repo = e.repo
	}
	c, res, err := e.calculate(ctx, repo, ev)
	if err == nil {
		metrics.CommissionsTotal.WithLabelValues(string(res.Status)).Inc()
	}
	return c, res, err
}

func (e *Engine) calculate(ctx context.Context, repo Repository, ev BillingEvent) (*models.Commission, Result, error) {
	switch {
	case !ev.Kind.Billable():
		return nil, skipped("event kind is not billable"), nil
	case ev.AmountMinor <= 0:
		return nil, skipped("no billed amount"), nil
	case strings.TrimSpace(ev.SourceEventID) == "":
		return nil, skipped("missing transaction id"), nil
	case ev.UserID == 0:
		return nil, skipped("unknown user"), nil
	}

	referrerID, err := e.referrerOf(ctx, repo, ev)
	if err != nil {
		return nil, Result{}, err
	}
	if referrerID == 0 {
		return nil, skipped("user was not referred"), nil
	}
	if referrerID == ev.UserID {
		return nil, skipped("self referral"), nil
	}

	aff, err := repo.FindAffiliateByUserID(ctx, referrerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, skipped("referrer is not an affiliate"), nil
	}
	if err != nil {
		return nil, Result{}, fmt.Errorf("load affiliate for user %d: %w", referrerID, err)
	}
	if !aff.IsActive {
		return nil, skipped("affiliate is inactive"), nil
	}

	c := &models.Commission{
		AffiliateID:       aff.ID,
		ReferredUserID:    ev.UserID,
		SourceEventID:     ev.SourceEventID,
		Provider:          ev.Provider,
		EventKind:         ev.Kind,
		BilledAmountMinor: ev.AmountMinor,
		AmountMinor:       ComputeAmount(ev.AmountMinor, aff.CommissionRate),
		Currency:          strings.ToUpper(ev.Currency),
		CommissionRate:    aff.CommissionRate,
		Status:            models.CommissionStatusPending,
		PeriodStart:       ev.PeriodStart.UTC(),
	}
	if c.PeriodStart.IsZero() {
		c.PeriodStart = time.Now().UTC()
	}

	created, err := repo.CreateCommissionIfNotExists(ctx, c)
	if err != nil {
		return nil, Result{}, fmt.Errorf("create commission for %s: %w", ev.SourceEventID, err)
	}
	if !created {
		existing, err := repo.FindCommissionBySourceEvent(ctx, ev.SourceEventID)
		if err != nil {
			return nil, Result{}, fmt.Errorf("load commission %s: %w", ev.SourceEventID, err)
		}
		return existing, Result{Status: StatusDuplicate}, nil
	}

	if err := e.promote(ctx, repo, aff); err != nil {
		return nil, Result{}, err
	}

	log.Infof("[Commission] affiliate=%d user=%d source=%s amount=%d %s rate=%.2f",
		aff.ID, ev.UserID, ev.SourceEventID, c.AmountMinor, c.Currency, c.CommissionRate)
	return c, Result{Status: StatusCreated}, nil
}

func (e *Engine) referrerOf(ctx context.Context, repo Repository, ev BillingEvent) (uint, error) {
	ref, err := repo.FindReferral(ctx, ev.UserID)
	switch {
	case err == nil:
		return ref.ReferrerUserID, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("load referral for user %d: %w", ev.UserID, err)
	}
	if ev.ReferredByUserID != nil {
		return *ev.ReferredByUserID, nil
	}
	return 0, nil
}

// promote recomputes the affiliate's conversion count and raises its rate
// tier when a threshold is crossed. Rates never go down.
func (e *Engine) promote(ctx context.Context, repo Repository, aff *models.Affiliate) error {
	n, err := repo.CountConversions(ctx, aff.ID)
	if err != nil {
		return fmt.Errorf("count conversions for affiliate %d: %w", aff.ID, err)
	}
	converted := int(n)
	if converted <= aff.ConvertedCount {
		return nil
	}

	tierName, rate := aff.RateTier, aff.CommissionRate
	if next := RateTierFor(converted); next.Rate > rate {
		tierName, rate = next.Name, next.Rate
		log.Infof("[Commission] affiliate=%d promoted to %s (%.0f%%) after %d conversions",
			aff.ID, next.Name, next.Rate, converted)
	}
	if err := repo.UpdateAffiliateRate(ctx, aff.ID, tierName, rate, converted); err != nil {
		return fmt.Errorf("update affiliate %d rate: %w", aff.ID, err)
	}
	aff.RateTier, aff.CommissionRate, aff.ConvertedCount = tierName, rate, converted
	return nil
}

// CreateAffiliate enrolls userID as an affiliate at the base rate, or at
// rate when it is positive. An existing affiliate is returned unchanged with
// created=false.
func (e *Engine) CreateAffiliate(ctx context.Context, userID uint, rate float64) (*models.Affiliate, bool, error) {
	existing, err := e.repo.FindAffiliateByUserID(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	base := BaseRate()
	if rate <= 0 {
		rate = base.Rate
	}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		code, err := referralcode.Generate(referralcode.DefaultLength)
		if err != nil {
			return nil, false, err
		}
		aff := &models.Affiliate{
			UserID:         userID,
			ReferralCode:   code,
			IsActive:       true,
			RateTier:       base.Name,
			CommissionRate: rate,
		}
		if err := aff.Validate(); err != nil {
			return nil, false, err
		}
		err = e.repo.CreateAffiliate(ctx, aff)
		if err == nil {
			log.Infof("[Commission] enrolled affiliate user=%d code=%s rate=%.2f", userID, code, rate)
			return aff, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		// user_id race: someone enrolled the same user concurrently
		if existing, ferr := e.repo.FindAffiliateByUserID(ctx, userID); ferr == nil {
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("could not allocate a unique referral code after %d attempts", attempts)
}

// ClaimReferral attributes userID to the affiliate owning code. The first
// claim wins.
func (e *Engine) ClaimReferral(ctx context.Context, userID uint, code string) (*models.Referral, error) {
	code = referralcode.Normalize(code)
	aff, err := e.repo.FindAffiliateByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownReferralCode
	}
	if err != nil {
		return nil, err
	}
	if !aff.IsActive {
		return nil, ErrUnknownReferralCode
	}
	if aff.UserID == userID {
		return nil, ErrSelfReferral
	}

	ref := &models.Referral{
		AffiliateID:    aff.ID,
		ReferrerUserID: aff.UserID,
		UserID:         userID,
		ReferralCode:   code,
	}
	created, err := e.repo.CreateReferralIfNotExists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyReferred
	}
	return ref, nil
}
