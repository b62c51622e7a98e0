package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose smallest unit is the whole currency unit. Amounts in
// these must not be multiplied by 100.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"XAF": {}, "XOF": {}, "XPF": {},
}

// MinorUnits converts a decimal amount to the gateway's smallest currency
// unit. Amounts must be positive and must not lose precision in the
// conversion.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	cur := strings.ToUpper(currency)
	scaled := amount
	if _, zero := zeroDecimalCurrencies[cur]; !zero {
		scaled = amount.Mul(decimal.NewFromInt(100))
	}
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has sub-unit precision for %s", ErrValidation, amount, cur)
	}
	return scaled.IntPart(), nil
}
