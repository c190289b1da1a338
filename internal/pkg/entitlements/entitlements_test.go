package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAndRank(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		rank int
	}{
		{"elite", TierElite, 2},
		{" PRO ", TierPro, 1},
		{"free", TierFree, 0},
		{"platinum", TierFree, 0},
		{"", TierFree, 0},
	}
	for _, tt := range tests {
		got := NormalizeTier(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.rank, got.Rank(), tt.in)
	}
}

func TestCapabilitiesAndLimits(t *testing.T) {
	assert.True(t, Allows(TierFree, ResourceAnalysis))
	assert.False(t, Allows(TierFree, ResourceExport))
	assert.False(t, Allows(TierPro, ResourceVideoAnalysis))
	assert.True(t, Allows(TierElite, ResourceVideoAnalysis))
	assert.False(t, Allows(TierElite, Resource("teleport")))

	l, ok := LimitFor(TierFree, ResourceAnalysis)
	require.True(t, ok)
	assert.Equal(t, 5, l.Requests)
	assert.Equal(t, 600000*time.Millisecond, l.Window)

	_, ok = LimitFor(TierPro, ResourceVideoAnalysis)
	assert.False(t, ok)

	// every allowed combination must have a budget
	for _, r := range Resources() {
		for _, tier := range []Tier{TierFree, TierPro, TierElite} {
			if !Allows(tier, r) {
				continue
			}
			l, ok := LimitFor(tier, r)
			assert.True(t, ok, "%s/%s", tier, r)
			assert.Positive(t, l.Requests, "%s/%s", tier, r)
			assert.Positive(t, l.Window, "%s/%s", tier, r)
		}
	}
}

func TestTierTable(t *testing.T) {
	table, err := ParseTierMap("price_pro:pro, price_elite:elite,")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	tier, ok := table.Best([]string{"price_unknown", "price_pro", "price_elite"})
	require.True(t, ok)
	assert.Equal(t, TierElite, tier)

	_, ok = table.Best([]string{"price_unknown"})
	assert.False(t, ok)

	merged := table.With(map[string]Tier{"price_pro": TierElite, "price_extra": TierPro})
	tier, _ = merged.Lookup("price_pro")
	assert.Equal(t, TierPro, tier, "configured mapping wins over persisted one")
	tier, ok = merged.Lookup("price_extra")
	assert.True(t, ok)
	assert.Equal(t, TierPro, tier)

	var empty *TierTable
	_, ok = empty.Lookup("x")
	assert.False(t, ok)

	for _, bad := range []string{"nocolon", ":pro", "price:", "price:gold"} {
		_, err := ParseTierMap(bad)
		assert.Error(t, err, bad)
	}
}
