package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount, always kept at cent precision
// =============================================================================

// MoneyPlaces is the number of decimal places every Money value is rounded to.
const MoneyPlaces = 2

// Money is a currency amount. Values are rounded half away from zero on the
// cent boundary whenever they are constructed or combined.
type Money struct {
	d decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{d: decimal.NewFromFloat(value).Round(MoneyPlaces)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{d: decimal.NewFromInt(value).Round(MoneyPlaces)}
}

func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyPlaces)}
}

// MustParseMoney parses s leniently and returns zero when it cannot.
func MustParseMoney(s string) Money {
	m, ok := ParseMoney(s)
	if !ok {
		return Money{}
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) Add(o Money) Money        { return MoneyFromDecimal(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money        { return MoneyFromDecimal(m.d.Sub(o.d)) }
func (m Money) MulInt(n int) Money       { return MoneyFromDecimal(m.d.Mul(decimal.NewFromInt(int64(n)))) }
func (m Money) Neg() Money               { return MoneyFromDecimal(m.d.Neg()) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) String() string           { return m.d.String() }
func (m Money) Float64() float64         { f, _ := m.d.Float64(); return f }

// DivInt splits m into n parts. Dividing by zero yields zero.
func (m Money) DivInt(n int) Money {
	if n == 0 {
		return Money{}
	}
	return MoneyFromDecimal(m.d.Div(decimal.NewFromInt(int64(n))))
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Money{}
	}
	return m
}

// MarshalJSON writes the amount as a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.Round(MoneyPlaces).String()), nil
}

// UnmarshalJSON accepts JSON numbers and numeric strings ("1 600,50").
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = Money{}
		return nil
	}
	parsed, ok := ParseMoney(raw)
	if !ok {
		return fmt.Errorf("invalid money amount %s", string(data))
	}
	*m = parsed
	return nil
}

// =============================================================================
// LENIENT NUMERIC PARSING
// =============================================================================

// ParseMoney coerces loosely typed input into Money. Strings may carry
// whitespace (including non-breaking spaces) and a comma decimal separator.
// The second result is false when v is not a finite number.
func ParseMoney(v any) (Money, bool) {
	d, ok := parseDecimal(v)
	if !ok {
		return Money{}, false
	}
	return MoneyFromDecimal(d), true
}

// ParseCount coerces loosely typed input into a whole number, rounding
// fractional values half away from zero.
func ParseCount(v any) (int, bool) {
	d, ok := parseDecimal(v)
	if !ok {
		return 0, false
	}
	return int(d.Round(0).IntPart()), true
}

func parseDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case Money:
		return x.d, true
	case *Money:
		if x == nil {
			return decimal.Zero, false
		}
		return x.d, true
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		return parseDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		return parseDecimalString(x.String())
	case string:
		return parseDecimalString(x)
	default:
		return decimal.Zero, false
	}
}

func parseDecimalString(s string) (decimal.Decimal, bool) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.Replace(s, ",", ".", 1)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
