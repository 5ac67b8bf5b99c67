package domain

import "github.com/shopspring/decimal"

// Money is a display amount. It always marshals as a string with exactly two
// decimal places, e.g. "12.50".
type Money struct {
	decimal.Decimal
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// Amount converts integer cents into a two-place decimal for output.
func Amount(cents int64) Money {
	return Money{decimal.New(cents, -2)}
}

// AverageAmount divides a cents total by count and rounds to two places.
// It is zero when count is zero.
func AverageAmount(totalCents int64, count int64) Money {
	if count == 0 {
		return Money{decimal.Zero}
	}
	return Money{decimal.New(totalCents, -2).Div(decimal.NewFromInt(count)).Round(2)}
}
