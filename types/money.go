// Package types provides common value types shared by the escrow engine.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyIDR is the only currency the wallet ledger books.
const CurrencyIDR = "idr"

// ErrOutOfRange is returned when an amount does not fit in int64 minor units.
var ErrOutOfRange = errors.New("money: amount out of range")

// Money is an exact amount in minor units (sen for IDR, two decimal places).
// Balances, fees and amounts never pass through floating point.
//
// Examples:
//   - IDR(5000000) = Rp 50.000,00
//   - IDR(1) = Rp 0,01
type Money struct {
	Amount   int64  `json:"amount"`   // Minor units
	Currency string `json:"currency"` // ISO 4217 lowercase
}

// IDR creates a Money value in Indonesian Rupiah from sen (1/100 rupiah).
func IDR(sen int64) Money { return Money{Amount: sen, Currency: CurrencyIDR} }

// Rupiah creates a Money value from whole rupiah.
func Rupiah(whole int64) Money { return IDR(whole * 100) }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Currency: strings.ToLower(currency)} }

// ParseMoney parses a decimal string such as "500000" or "12500.5" into Money.
// Values with more than two fractional digits are rounded half away from zero,
// the same way the amount column stores them.
func ParseMoney(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	m, err := FromDecimal(d, currency)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return m, nil
}

// FromDecimal converts a decimal major-unit amount to Money. It fails with
// ErrOutOfRange when the rounded minor-unit amount overflows int64.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	scale := int32(currencyDecimals(currency))
	minor := d.Round(scale).Shift(scale)
	if !minor.BigInt().IsInt64() {
		return Money{}, ErrOutOfRange
	}
	return Money{
		Amount:   minor.IntPart(),
		Currency: strings.ToLower(currency),
	}, nil
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Arithmetic operations

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// CheckedAdd adds two Money values, failing with ErrOutOfRange instead of
// wrapping when the sum overflows int64. Panics if currencies don't match.
func (m Money) CheckedAdd(other Money) (Money, error) {
	m.assertSameCurrency(other)
	if (other.Amount > 0 && m.Amount > math.MaxInt64-other.Amount) ||
		(other.Amount < 0 && m.Amount < math.MinInt64-other.Amount) {
		return Money{}, ErrOutOfRange
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// Percent returns pct percent of m rounded half up to the currency's minor unit.
// Percent(10) of Rp 500.000,00 is Rp 50.000,00; of Rp 0,05 it is Rp 0,01.
// Panics if the share overflows, which pct in 0..100 never does.
func (m Money) Percent(pct int64) Money {
	share := m.Decimal().
		Mul(decimal.NewFromInt(pct)).
		Div(decimal.NewFromInt(100))
	out, err := FromDecimal(share, m.Currency)
	if err != nil {
		panic(fmt.Sprintf("money: %d%% of %s: %v", pct, m, err))
	}
	return out
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// SameCurrency reports whether both values are in the same currency.
func (m Money) SameCurrency(other Money) bool { return m.Currency == other.Currency }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// GreaterThan returns true if this Money is greater than other. Panics if currencies don't match.
func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount > other.Amount
}

// Formatting methods

// FormatMajor returns the major unit string without symbol: "500000.00".
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// Display formats the amount the way receipts and error messages show it:
// whole units rounded half up, '.' as thousands separator, no decimals.
// IDR(50000000) displays as "Rp 500.000".
func (m Money) Display() string {
	whole := m.Decimal().Round(0).IntPart()
	sign := ""
	if whole < 0 {
		sign = "-"
		whole = -whole
	}
	return currencySymbol(m.Currency) + sign + groupThousands(whole, ".")
}

// String returns the symbol followed by the exact major amount, e.g. "Rp 500000.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler. The amount is emitted as an exact
// decimal string next to the minor-unit integer.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Value    string `json:"value"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Value:    m.FormatMajor(),
		Display:  m.Display(),
	})
}

// UnmarshalJSON implements json.Unmarshaler for the shape MarshalJSON emits.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToLower(raw.Currency)
	return nil
}

// Helper functions

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case CurrencyIDR:
		return "Rp "
	case "usd":
		return "$"
	default:
		return strings.ToUpper(currency) + " "
	}
}

// currencyDecimals returns the number of minor-unit digits stored for a currency.
// IDR is booked with two decimals to match the ledger's decimal(15,2) columns.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd":
		return 0
	default:
		return 2
	}
}

func groupThousands(n int64, sep string) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// Sum calculates the sum of multiple Money values. All must have the same currency.
func Sum(values ...Money) Money {
	if len(values) == 0 {
		return Zero(CurrencyIDR)
	}

	result := values[0]
	for i := 1; i < len(values); i++ {
		result = result.Add(values[i])
	}
	return result
}
