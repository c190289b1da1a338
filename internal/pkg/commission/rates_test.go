package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAmount(t *testing.T) {
	tests := []struct {
		name   string
		billed int64
		rate   float64
		want   int64
	}{
		{"12.99 at 20%", 1299, 20, 260},
		{"exact", 1000, 25, 250},
		{"half rounds away from zero", 1, 50, 1},
		{"below half rounds down", 1, 49, 0},
		{"9.99 at 30%", 999, 30, 300},
		{"fractional rate", 1000, 12.5, 125},
		{"zero", 0, 20, 0},
		{"negative half", -1, 50, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeAmount(tt.billed, tt.rate))
		})
	}
}

func TestRateTierFor(t *testing.T) {
	tests := []struct {
		converted int
		name      string
		rate      float64
	}{
		{0, "base", 20},
		{9, "base", 20},
		{10, "silver", 25},
		{49, "silver", 25},
		{50, "gold", 30},
		{500, "gold", 30},
	}
	for _, tt := range tests {
		got := RateTierFor(tt.converted)
		assert.Equal(t, tt.name, got.Name, "converted=%d", tt.converted)
		assert.Equal(t, tt.rate, got.Rate, "converted=%d", tt.converted)
	}
}
