package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose minor unit is not 1/100.
var minorUnitExponents = map[string]int32{
	"bif": 0, "clp": 0, "jpy": 0, "krw": 0, "pyg": 0, "vnd": 0, "xaf": 0, "xof": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// ToMinorUnits converts an amount to the gateway's integer minor unit. Any
// sub-minor remainder is rounded half-to-even.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	exp, ok := minorUnitExponents[strings.ToLower(currency)]
	if !ok {
		exp = 2
	}
	minor := amount.Shift(exp).RoundBank(0)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("amount %s out of range", amount)
	}
	return minor.IntPart(), nil
}
