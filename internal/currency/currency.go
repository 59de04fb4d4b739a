package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchTolerance is the absolute amount two monetary values may differ by
// and still be considered equal for reconciliation purposes. It absorbs
// two-decimal rounding only.
var MatchTolerance = decimal.New(1, -2) // 0.01

// Currency represents a monetary value with proper decimal precision
type Currency struct {
	value decimal.Decimal
}

// NewFromFloat creates a Currency from a float64 (use carefully!)
// This should only be used when reading values out of legacy DBF files.
func NewFromFloat(f float64) Currency {
	return Currency{value: decimal.NewFromFloat(f).Round(2)}
}

// NewFromString creates a Currency from a string representation.
// This is the preferred way to create Currency values.
func NewFromString(s string) (Currency, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Currency{}, err
	}
	return Currency{value: d.Round(2)}, nil
}

// MustFromString is NewFromString that panics on malformed input.
// Intended for constants and tests.
func MustFromString(s string) Currency {
	c, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return c
}

// NewFromCents creates a Currency from an integer number of cents
func NewFromCents(cents int64) Currency {
	return Currency{value: decimal.New(cents, -2)}
}

// Zero returns a zero Currency value
func Zero() Currency {
	return Currency{value: decimal.Zero}
}

// Add adds two Currency values
func (c Currency) Add(other Currency) Currency {
	return Currency{value: c.value.Add(other.value)}
}

// Sub subtracts a Currency value from another
func (c Currency) Sub(other Currency) Currency {
	return Currency{value: c.value.Sub(other.value)}
}

// Neg returns the negative of a Currency value
func (c Currency) Neg() Currency {
	return Currency{value: c.value.Neg()}
}

// Abs returns the absolute value of a Currency
func (c Currency) Abs() Currency {
	return Currency{value: c.value.Abs()}
}

// IsNegative returns true if the Currency is negative
func (c Currency) IsNegative() bool {
	return c.value.IsNegative()
}

// IsZero returns true if the Currency is zero
func (c Currency) IsZero() bool {
	return c.value.IsZero()
}

// Equal returns true if c == other exactly
func (c Currency) Equal(other Currency) bool {
	return c.value.Equal(other.value)
}

// WithinTolerance reports whether c and other differ by at most
// MatchTolerance. The comparison is absolute, not relative.
func (c Currency) WithinTolerance(other Currency) bool {
	return c.value.Sub(other.value).Abs().LessThanOrEqual(MatchTolerance)
}

// ToCents returns the Currency value as integer cents
func (c Currency) ToCents() int64 {
	return c.value.Mul(decimal.New(100, 0)).IntPart()
}

// ToFloat64 returns the Currency value as a float64.
// Use with caution - this can introduce precision errors.
func (c Currency) ToFloat64() float64 {
	f, _ := c.value.Float64()
	return f
}

// StringFixed returns the Currency value as a string with 2 decimal places
func (c Currency) StringFixed() string {
	return c.value.StringFixed(2)
}

// String implements the Stringer interface
func (c Currency) String() string {
	return c.value.StringFixed(2)
}

// MarshalJSON encodes the value as a string to preserve precision
func (c Currency) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.value.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare numeric representations
func (c *Currency) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid currency value %q: %w", string(data), err)
	}
	c.value = d.Round(2)
	return nil
}

// ParseValue parses a value read from a DBF file into Currency.
// Handles the numeric types DBF columns come back as.
func ParseValue(value interface{}) Currency {
	if value == nil {
		return Zero()
	}

	switch v := value.(type) {
	case float64:
		return NewFromFloat(v)
	case float32:
		return NewFromFloat(float64(v))
	case int:
		return NewFromCents(int64(v) * 100)
	case int64:
		return NewFromCents(v * 100)
	case string:
		if c, err := NewFromString(v); err == nil {
			return c
		}
		return Zero()
	default:
		return Zero()
	}
}

// Sum sums a slice of Currency values
func Sum(values []Currency) Currency {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
