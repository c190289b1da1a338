package billing

import (
	"math"
	"strings"
)

// ISO 4217 currencies the card processor bills without decimals.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// cardMoney converts a card processor amount (smallest currency unit) into
// two-decimal minor units.
func cardMoney(amount int64, currency string) Money {
	cur := normalizeCurrency(currency)
	if zeroDecimalCurrencies[cur] {
		amount *= 100
	}
	if amount < 0 {
		amount = 0
	}
	return Money{Minor: amount, Currency: cur}
}

// decimalMoney rounds a decimal price to cents, half away from zero.
func decimalMoney(price float64, currency string) Money {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Money{Currency: normalizeCurrency(currency)}
	}
	return Money{Minor: int64(math.Round(price * 100)), Currency: normalizeCurrency(currency)}
}
