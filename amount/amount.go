// Package amount parses and compares protocol money amounts exactly.
// Amounts travel as strings and are compared with integer arithmetic only;
// floating point would admit rounding errors on bid-ceiling checks.
package amount

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// amountPattern admits unsigned plain decimals only. Signs, exponents, bare
// fractions and surrounding whitespace are wire errors, not amounts.
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Parse converts an amount string into an exact decimal.
func Parse(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Compare orders two amount strings, returning -1 when a < b, 0 when they are
// numerically equal and 1 when a > b. Trailing fractional zeros are not
// significant: "0.010" equals "0.01".
func Compare(a, b string) (int, error) {
	da, err := Parse(a)
	if err != nil {
		return 0, err
	}

	db, err := Parse(b)
	if err != nil {
		return 0, err
	}

	return da.Cmp(db), nil
}
