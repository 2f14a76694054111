package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoSizing means neither a fixed amount nor a percentage is configured.
var ErrNoSizing = errors.New("dispatch: no buy amount or percentage set")

var hundred = decimal.NewFromInt(100)

// Sizing decides how much to spend on each buy. A positive FixedAmount wins
// over Percent; Percent is a fraction of the available balance in (0, 1].
type Sizing struct {
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	Percent     decimal.Decimal `json:"percent"`
}

// Set reports whether either input is configured.
func (z Sizing) Set() bool {
	return z.FixedAmount.IsPositive() || z.Percent.IsPositive()
}

// Compute returns the amount to spend given balance, floored to whole units.
func (z Sizing) Compute(balance decimal.Decimal) decimal.Decimal {
	if z.FixedAmount.IsPositive() {
		return z.FixedAmount.Floor()
	}
	if z.Percent.IsPositive() {
		return balance.Mul(z.Percent).Floor()
	}
	return decimal.Zero
}

// Validate checks that Sizing is usable.
func (z Sizing) Validate() error {
	if z.FixedAmount.IsNegative() {
		return fmt.Errorf("dispatch: negative fixed amount %s", z.FixedAmount)
	}
	if z.Percent.IsNegative() || z.Percent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("dispatch: percent %s out of range", z.Percent.Mul(hundred))
	}
	if !z.Set() {
		return ErrNoSizing
	}
	return nil
}

// String renders the effective sizing.
func (z Sizing) String() string {
	switch {
	case z.FixedAmount.IsPositive():
		return z.FixedAmount.String()
	case z.Percent.IsPositive():
		return z.Percent.Mul(hundred).String() + "%"
	}
	return "unset"
}

// ParsePercent parses "25%" or "25" into 0.25. The empty string is zero.
func ParsePercent(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dispatch: percent %q: %w", s, err)
	}
	if v.IsNegative() || v.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("dispatch: percent %q out of range", s)
	}
	return v.Div(hundred), nil
}
