package currency

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithinTolerance(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{name: "exact match", a: "150.00", b: "150.00", expected: true},
		{name: "one cent apart", a: "150.00", b: "150.01", expected: true},
		{name: "two cents apart", a: "150.00", b: "150.02", expected: false},
		{name: "sign matters", a: "150.00", b: "-150.00", expected: false},
		{name: "large difference", a: "200.00", b: "250.00", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := MustFromString(tc.a)
			b := MustFromString(tc.b)
			assert.Equal(t, tc.expected, a.WithinTolerance(b))
			assert.Equal(t, tc.expected, b.WithinTolerance(a))
		})
	}
}

func TestSum(t *testing.T) {
	values := []Currency{
		MustFromString("200.00"),
		MustFromString("50.00"),
		MustFromString("-75.30"),
	}
	assert.Equal(t, "174.70", Sum(values).StringFixed())
	assert.Equal(t, "0.00", Sum(nil).StringFixed())
}

func TestAbsAndSign(t *testing.T) {
	c := MustFromString("-75.30")
	assert.True(t, c.IsNegative())
	assert.Equal(t, "75.30", c.Abs().StringFixed())
	assert.False(t, c.Abs().IsNegative())
	assert.True(t, Zero().IsZero())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, "150.00", ParseValue(float64(150)).StringFixed())
	assert.Equal(t, "12.34", ParseValue("12.34").StringFixed())
	assert.Equal(t, "3.00", ParseValue(int64(3)).StringFixed())
	assert.Equal(t, "0.00", ParseValue(nil).StringFixed())
	assert.Equal(t, "0.00", ParseValue("garbage").StringFixed())
}

func TestJSONRoundTrip(t *testing.T) {
	c := MustFromString("1234.56")
	data, err := json.Marshal(c)
	assert.NoError(t, err)
	assert.Equal(t, `"1234.56"`, string(data))

	var back Currency
	assert.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, c.Equal(back))

	// bare numbers are accepted too
	assert.NoError(t, json.Unmarshal([]byte(`42.5`), &back))
	assert.Equal(t, "42.50", back.StringFixed())
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(15001), MustFromString("150.01").ToCents())
	assert.Equal(t, int64(-7530), MustFromString("-75.30").ToCents())
}
