package entitlements

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

// Resource names a rate-limited, tier-gated capability class.
type Resource string

const (
	ResourceAnalysis      Resource = "analysis"
	ResourceVideoAnalysis Resource = "video_analysis"
	ResourceExport        Resource = "export"
	ResourceAPI           Resource = "api"
)

// Limit is the sliding-window budget for one subject on one resource.
type Limit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"-"`
}

// NormalizeTier maps free-form input onto a known tier. Unknown values are free.
func NormalizeTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierElite:
		return TierElite
	case TierPro:
		return TierPro
	default:
		return TierFree
	}
}

// ParseTier is the strict variant used for configuration input.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierPro, TierElite:
		return t, true
	default:
		return "", false
	}
}

// Rank orders tiers: elite > pro > free.
func (t Tier) Rank() int {
	switch NormalizeTier(string(t)) {
	case TierElite:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

func (t Tier) String() string {
	return string(NormalizeTier(string(t)))
}

// minimum tier per resource
var capabilities = map[Resource]Tier{
	ResourceAnalysis:      TierFree,
	ResourceAPI:           TierFree,
	ResourceExport:        TierPro,
	ResourceVideoAnalysis: TierElite,
}

var limits = map[Resource]map[Tier]Limit{
	ResourceAnalysis: {
		TierFree:  {Requests: 5, Window: 10 * time.Minute},
		TierPro:   {Requests: 50, Window: 10 * time.Minute},
		TierElite: {Requests: 200, Window: 10 * time.Minute},
	},
	ResourceAPI: {
		TierFree:  {Requests: 60, Window: time.Hour},
		TierPro:   {Requests: 1000, Window: time.Hour},
		TierElite: {Requests: 5000, Window: time.Hour},
	},
	ResourceExport: {
		TierPro:   {Requests: 20, Window: time.Hour},
		TierElite: {Requests: 100, Window: time.Hour},
	},
	ResourceVideoAnalysis: {
		TierElite: {Requests: 30, Window: time.Hour},
	},
}

// KnownResource reports whether r is one of the gated resource classes.
func KnownResource(r Resource) bool {
	_, ok := capabilities[r]
	return ok
}

// Resources lists every gated resource class in a stable order.
func Resources() []Resource {
	return []Resource{ResourceAnalysis, ResourceVideoAnalysis, ResourceExport, ResourceAPI}
}

// Allows reports whether tier t may use resource r at all.
func Allows(t Tier, r Resource) bool {
	min, ok := capabilities[r]
	if !ok {
		return false
	}
	return t.Rank() >= min.Rank()
}

// LimitFor returns the request budget of tier t on resource r. The second
// value is false when the tier has no access to the resource.
func LimitFor(t Tier, r Resource) (Limit, bool) {
	if !Allows(t, r) {
		return Limit{}, false
	}
	l, ok := limits[r][NormalizeTier(string(t))]
	return l, ok
}
