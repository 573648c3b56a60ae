// Package money provides fixed-point decimal amounts for escrow payments.
//
// Amounts carry 6 decimal places and are stored as int64 micro-units
// (1.00 = 1,000,000 units), matching the NUMERIC(20,6) column type used
// by the transaction store.
package money

import (
	"encoding/json"
	"errors"
	"strings"
)

// Decimals is the number of fractional digits an Amount carries.
const Decimals = 6

const unit = 1_000_000 // 10^Decimals

var (
	ErrMalformed   = errors.New("money: malformed amount")
	ErrNonPositive = errors.New("money: amount must be positive")
	ErrOverflow    = errors.New("money: amount out of range")
)

// Amount is a fixed-point decimal in micro-units.
type Amount int64

// Parse converts a decimal string (e.g. "10.00") to an Amount.
// Fractional digits beyond six are rejected rather than truncated:
// silently dropping sub-unit precision on a payment is never right.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformed
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrMalformed
	}

	whole, frac, found := strings.Cut(s, ".")
	if whole == "" {
		return 0, ErrMalformed
	}
	if found && frac == "" {
		return 0, ErrMalformed
	}
	if len(frac) > Decimals {
		return 0, ErrMalformed
	}

	var v int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, ErrMalformed
		}
		d := int64(r - '0')
		if v > (1<<63-1-d)/10 {
			return 0, ErrOverflow
		}
		v = v*10 + d
	}
	if v > (1<<63-1)/unit {
		return 0, ErrOverflow
	}
	v *= unit

	scale := int64(unit / 10)
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, ErrMalformed
		}
		v += int64(r-'0') * scale
		scale /= 10
	}

	return Amount(v), nil
}

// ParsePositive parses s and additionally rejects zero amounts.
func ParsePositive(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if a <= 0 {
		return 0, ErrNonPositive
	}
	return a, nil
}

// String formats the amount with exactly six decimal places.
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}

	wholePart := v / unit
	fracPart := v % unit

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(itoa(wholePart))
	b.WriteByte('.')
	f := itoa(fracPart)
	for i := len(f); i < Decimals; i++ {
		b.WriteByte('0')
	}
	b.WriteString(f)
	return b.String()
}

// Cents converts the amount to whole cents, rounding down. Used by the
// Stripe gateway, whose API takes integer minor units.
func (a Amount) Cents() int64 {
	return int64(a) / 10_000
}

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool { return a > 0 }

// MarshalJSON renders the amount as a decimal string, never a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
