// Package amount bounds the decimals blockkit accepts from callers.
//
// shopspring/decimal keeps whatever exponent it is given, so "1e-20000000"
// decodes in a few bytes but makes every later Add, Cmp or String rescale
// a twenty-million digit integer. Amounts are checked here before any of
// that arithmetic runs.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MaxScale is the most decimal places an amount may carry.
	MaxScale = 18
	// MaxExponent is the largest power of ten an amount may be written with.
	MaxExponent = 18
	// maxCoefficientBits fits every 38 digit coefficient.
	maxCoefficientBits = 127
)

var ErrOutOfRange = errors.New("amount out of range")

// Check returns ErrOutOfRange unless d has at most MaxScale decimal places,
// an exponent no larger than MaxExponent and a coefficient of at most 127
// bits (every 38 digit number fits, no 39 digit one above 1.7e38 does).
// It inspects only the exponent and coefficient size, so it is cheap for
// any input.
func Check(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < -MaxScale {
		return fmt.Errorf("%w: more than %d decimal places", ErrOutOfRange, MaxScale)
	}
	if exp > MaxExponent {
		return fmt.Errorf("%w: exponent %d exceeds %d", ErrOutOfRange, exp, MaxExponent)
	}
	if d.Coefficient().BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: too many significant digits", ErrOutOfRange)
	}
	return nil
}

// Valid reports whether Check passes.
func Valid(d decimal.Decimal) bool { return Check(d) == nil }

// String formats d for logs, without expanding amounts that fail Check.
func String(d decimal.Decimal) string {
	if !Valid(d) {
		return "<out of range>"
	}
	return d.String()
}
