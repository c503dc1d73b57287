package finance

import (
	"fmt"
)

// Money represents a monetary value in a specific currency.
// It uses integer math (minor units) to avoid floating point errors.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
	Scale       int    `json:"scale"`    // e.g. 2 for USD/EUR
}

// NewMoney creates a new Money instance.
func NewMoney(amount int64, currency string) Money {
	scale := 2
	switch currency {
	case "JPY", "KRW":
		scale = 0
	}
	return Money{
		AmountMinor: amount,
		Currency:    currency,
		Scale:       scale,
	}
}

// Add adds two Money amounts. Returns error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// Sub subtracts other Money from m. Returns error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor - other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// SplitRatio divides m into a kept part and a remainder according to
// keptPercent (0-100). The remainder absorbs any rounding, so the two
// parts always sum back to m.
func (m Money) SplitRatio(keptPercent int) (kept Money, rest Money) {
	if keptPercent < 0 {
		keptPercent = 0
	}
	if keptPercent > 100 {
		keptPercent = 100
	}
	keptMinor := m.AmountMinor * int64(keptPercent) / 100
	kept = Money{AmountMinor: keptMinor, Currency: m.Currency, Scale: m.Scale}
	rest = Money{AmountMinor: m.AmountMinor - keptMinor, Currency: m.Currency, Scale: m.Scale}
	return kept, rest
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// String renders the amount with its minor-unit scale, e.g. "USD 25.00".
func (m Money) String() string {
	if m.Scale == 0 {
		return fmt.Sprintf("%s %d", m.Currency, m.AmountMinor)
	}
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	whole := m.AmountMinor / div
	frac := m.AmountMinor % div
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%s %d.%0*d", m.Currency, whole, m.Scale, frac)
}
