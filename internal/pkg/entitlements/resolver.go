package entitlements

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
)

// Source names where a resolved tier came from.
type Source string

const (
	SourceRecord  Source = "record"
	SourceBroker  Source = "broker"
	SourceDefault Source = "default"
)

// sourceRecordUnavailable labels lookups where the record store failed or
// timed out and the resolver fell back to the broker and default.
const sourceRecordUnavailable = "record_unavailable"

const defaultResolveTimeout = 500 * time.Millisecond

// RecordSource returns the tier of the subscription record currently
// resolved for a user. found is false when the user has no such record.
type RecordSource interface {
	ResolvedTier(ctx context.Context, userID uint) (tier Tier, found bool, err error)
}

// BrokerSource asks the in-app purchase broker which entitlement ids are
// active for an app user right now.
type BrokerSource interface {
	ActiveEntitlements(ctx context.Context, appUserID string) ([]string, error)
}

type Resolution struct {
	UserID uint   `json:"user_id"`
	Tier   Tier   `json:"tier"`
	Source Source `json:"source"`
}

// Resolver answers "what tier does this user have right now". Persisted
// records win; the broker is consulted only when no record exists, and free
// is the answer when neither source has evidence. A failing or slow record
// store counts as no evidence, so gated callers are never failed by it.
type Resolver struct {
	records RecordSource
	broker  BrokerSource
	table   *TierTable
	timeout time.Duration
	group   singleflight.Group
}

// NewResolver wires a resolver. broker and table may be nil, in which case
// the broker fallback is skipped.
func NewResolver(records RecordSource, broker BrokerSource, table *TierTable) *Resolver {
	return &Resolver{
		records: records,
		broker:  broker,
		table:   table,
		timeout: defaultResolveTimeout,
	}
}

// WithTimeout overrides the per-source lookup timeout.
func (r *Resolver) WithTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// ResolveTier returns the user's current tier. Record store and broker
// failures or timeouts count as "no evidence". Concurrent lookups for the
// same user share one round trip.
func (r *Resolver) ResolveTier(ctx context.Context, userID uint) (Resolution, error) {
	if userID == 0 {
		return Resolution{Tier: TierFree, Source: SourceDefault}, nil
	}
	v, err, _ := r.group.Do(key(userID), func() (interface{}, error) {
		// detach from the first caller's cancellation; every waiter shares this result
		return r.resolve(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return Resolution{}, err
	}
	res := v.(Resolution)
	metrics.TierResolutions.WithLabelValues(string(res.Source)).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, userID uint) (Resolution, error) {
	res := Resolution{UserID: userID, Tier: TierFree, Source: SourceDefault}

	if r.records != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		tier, found, err := r.records.ResolvedTier(lookupCtx, userID)
		cancel()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Errorf("[Resolver] record lookup for user %d timed out after %s, falling back", userID, r.timeout)
			metrics.TierResolutions.WithLabelValues(sourceRecordUnavailable).Inc()
		case err != nil:
			log.Errorf("[Resolver] record lookup for user %d failed, falling back: %v", userID, err)
			metrics.TierResolutions.WithLabelValues(sourceRecordUnavailable).Inc()
		case found:
			res.Tier = NormalizeTier(string(tier))
			res.Source = SourceRecord
			return res, nil
		}
	}

	if r.broker == nil || r.table.Len() == 0 {
		return res, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ids, err := r.broker.ActiveEntitlements(lookupCtx, key(userID))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warnf("[Resolver] broker lookup for user %d timed out after %s", userID, r.timeout)
		return res, nil
	case err != nil:
		log.Warnf("[Resolver] broker lookup for user %d failed: %v", userID, err)
		return res, nil
	}
	if tier, ok := r.table.Best(ids); ok {
		res.Tier = tier
		res.Source = SourceBroker
	}
	return res, nil
}

func key(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}
