// Package money provides the fixed-point decimal type used for every
// monetary quantity in the system. Binary floats are never used for money:
// a float64 rendition would violate invariant T2 (gross = qty * price
// exactly) and the conservation law (spec.md §8), so every amount that
// crosses a wallet, position, order or trade boundary is a money.Amount.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the minimum number of fractional digits every Amount is
// quantized to (spec.md §3: "four fractional digits minimum").
const Scale = 4

// Amount wraps decimal.Decimal, always kept quantized to Scale digits with
// half-to-even rounding (banker's rounding), matching the spread-synthesis
// rule in spec.md §4.1.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a float64 literal (test/config convenience).
// Not used for arithmetic results — those always flow through Round.
func New(f float64) Amount {
	return Round(decimal.NewFromFloat(f))
}

// NewFromString parses a decimal string (e.g. from config or a DB column).
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Round(d), nil
}

// FromInt builds an Amount representing a whole number (e.g. share count
// used as a multiplicand).
func FromInt(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

// Round quantizes a raw decimal.Decimal to Scale digits, half-to-even.
func Round(d decimal.Decimal) Amount {
	return Amount{d: d.RoundBank(Scale)}
}

func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Round(a.d.Add(b.d)) }
func (a Amount) Sub(b Amount) Amount { return Round(a.d.Sub(b.d)) }

// Mul multiplies by another Amount (e.g. price * quantity-as-amount).
func (a Amount) Mul(b Amount) Amount { return Round(a.d.Mul(b.d)) }

// MulInt multiplies by an integer share count.
func (a Amount) MulInt(n int64) Amount { return Round(a.d.Mul(decimal.NewFromInt(n))) }

// Div divides by another Amount. Division by zero returns Zero.
func (a Amount) Div(b Amount) Amount {
	if b.d.IsZero() {
		return Zero
	}
	return Round(a.d.Div(b.d))
}

// DivInt divides by an integer count.
func (a Amount) DivInt(n int64) Amount {
	if n == 0 {
		return Zero
	}
	return Round(a.d.Div(decimal.NewFromInt(n)))
}

// Neg negates the amount.
func (a Amount) Neg() Amount { return Round(a.d.Neg()) }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.d.GreaterThan(b.d) {
		return a
	}
	return b
}

// MaxZero clamps a below at zero (used when releasing reserves, spec.md §4.4.3).
func MaxZero(a Amount) Amount {
	return Max(a, Zero)
}

func (a Amount) IsZero() bool               { return a.d.IsZero() }
func (a Amount) IsNegative() bool           { return a.d.IsNegative() }
func (a Amount) IsPositive() bool           { return a.d.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool  { return a.d.GreaterThan(b.d) }
func (a Amount) LessThan(b Amount) bool     { return a.d.LessThan(b.d) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessOrEqual(b Amount) bool  { return a.d.LessThanOrEqual(b.d) }
func (a Amount) Equal(b Amount) bool        { return a.d.Equal(b.d) }

// Pct multiplies by a percentage expressed as a fraction (e.g. 0.20 for 20%).
func (a Amount) Pct(fraction float64) Amount {
	return Round(a.d.Mul(decimal.NewFromFloat(fraction)))
}

// Float64 returns a float64 approximation, used only for non-monetary
// display math (e.g. pnl_pct) or interfacing with libraries that require it.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// ToIntShares floors the amount to a non-negative integer share count.
func (a Amount) ToIntShares() int64 {
	if a.d.IsNegative() {
		return 0
	}
	return a.d.IntPart()
}

func (a Amount) String() string { return a.d.StringFixed(Scale) }

// Value implements driver.Valuer so GORM/database-sql can persist Amount as
// a plain string column (NUMERIC-compatible across SQLite and Postgres).
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(value interface{}) error {
	if value == nil {
		a.d = decimal.Zero
		return nil
	}
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan string %q: %w", v, err)
		}
		a.d = d.RoundBank(Scale)
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan bytes %q: %w", v, err)
		}
		a.d = d.RoundBank(Scale)
	case float64:
		a.d = decimal.NewFromFloat(v).RoundBank(Scale)
	case int64:
		a.d = decimal.NewFromInt(v)
	default:
		return fmt.Errorf("money: unsupported scan type %T", value)
	}
	return nil
}

// GormDataType tells GORM's migrator what column type to use.
func (Amount) GormDataType() string {
	return "numeric(20,4)"
}

// MarshalJSON renders the amount as a quoted decimal string, so journal
// snapshots and signal payloads don't lose precision through float64.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", a.d.StringFixed(Scale))), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", string(data), err)
	}
	a.d = d.RoundBank(Scale)
	return nil
}

// BpsOf computes fraction*10000 basis points of an amount, e.g. for spread
// synthesis: bid = price * (1 - bps/10000).
func BpsOf(a Amount, bps int) Amount {
	factor := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	return Round(a.d.Mul(factor))
}
