package commission

import "math"

// RateTier is one step of the affiliate rate schedule.
type RateTier struct {
	Name           string
	MinConversions int
	Rate           float64
}

// ordered by MinConversions ascending
var rateTiers = []RateTier{
	{Name: "base", MinConversions: 0, Rate: 20},
	{Name: "silver", MinConversions: 10, Rate: 25},
	{Name: "gold", MinConversions: 50, Rate: 30},
}

// BaseRate is the commission rate of a freshly created affiliate.
func BaseRate() RateTier {
	return rateTiers[0]
}

// RateTierFor returns the highest tier reached with converted referrals.
func RateTierFor(converted int) RateTier {
	tier := rateTiers[0]
	for _, t := range rateTiers {
		if converted >= t.MinConversions {
			tier = t
		}
	}
	return tier
}

// ComputeAmount returns billedMinor * ratePercent / 100 rounded half away
// from zero. The rate is applied in hundredths of a percent so the result is
// exact integer arithmetic.
func ComputeAmount(billedMinor int64, ratePercent float64) int64 {
	bp := int64(math.Round(ratePercent * 100))
	product := billedMinor * bp
	if product < 0 {
		return -((-product + 5000) / 10000)
	}
	return (product + 5000) / 10000
}
