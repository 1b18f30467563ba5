package cryptopay

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Gateway amounts travel as decimal strings; everything inside the
// platform is int64 minor units (2 decimal places). Conversion happens
// only at this boundary.

// ErrFractionalAmount means a gateway amount has more precision than a
// minor unit can hold. Dropping sub-unit dust silently would show up as
// reconciliation drift, so the caller has to decide.
var ErrFractionalAmount = errors.New("cryptopay: amount has sub-minor-unit precision")

// FromMinor renders minor units as a gateway decimal.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// ToMinor parses a gateway decimal into minor units.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, ErrFractionalAmount
	}
	return shifted.IntPart(), nil
}

// ToMinorString is ToMinor over the gateway's wire form.
func ToMinorString(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return ToMinor(d)
}
