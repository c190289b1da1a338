package entitlements

import (
	"fmt"
	"strings"
)

// TierTable maps provider product references (price ids, entitlement ids) to
// tiers. A table is built once at startup and is read-only afterwards.
type TierTable struct {
	refs map[string]Tier
}

func NewTierTable(refs map[string]Tier) *TierTable {
	t := &TierTable{refs: make(map[string]Tier, len(refs))}
	for ref, tier := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		t.refs[ref] = NormalizeTier(string(tier))
	}
	return t
}

// ParseTierMap reads "ref:tier,ref:tier" as used in TIER_MAP_* variables.
func ParseTierMap(raw string) (*TierTable, error) {
	refs := map[string]Tier{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("invalid tier mapping %q", pair)
		}
		tier, ok := ParseTier(pair[idx+1:])
		if !ok {
			return nil, fmt.Errorf("unknown tier in mapping %q", pair)
		}
		refs[strings.TrimSpace(pair[:idx])] = tier
	}
	return NewTierTable(refs), nil
}

// With returns a copy of the table extended by refs. Existing entries win so
// that environment configuration overrides persisted mappings.
func (t *TierTable) With(refs map[string]Tier) *TierTable {
	merged := make(map[string]Tier, t.Len()+len(refs))
	for ref, tier := range refs {
		merged[ref] = tier
	}
	if t != nil {
		for ref, tier := range t.refs {
			merged[ref] = tier
		}
	}
	return NewTierTable(merged)
}

func (t *TierTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.refs)
}

func (t *TierTable) Lookup(ref string) (Tier, bool) {
	if t == nil {
		return "", false
	}
	tier, ok := t.refs[strings.TrimSpace(ref)]
	return tier, ok
}

// Best resolves several references at once and returns the highest mapped
// tier. ok is false when none of refs is known.
func (t *TierTable) Best(refs []string) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, ref := range refs {
		tier, ok := t.Lookup(ref)
		if !ok {
			continue
		}
		if !found || tier.Rank() > best.Rank() {
			best = tier
			found = true
		}
	}
	return best, found
}
