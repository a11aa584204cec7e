package scale

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWithPrecisionLoss(t *testing.T) {
	cases := []struct {
		name               string
		amount             string
		fromScale, toScale int
		representable      string
		leftover           string
	}{
		{"no loss when scaling up", "500", 2, 6, "500", "0"},
		{"no loss at equal scale", "500", 2, 2, "500", "0"},
		{"exact at lower scale", "500", 3, 2, "500", "0"},
		{"truncates low digits", "505", 3, 2, "500", "5"},
		{"sub-unit amount all leftover", "99", 3, 2, "90", "9"},
		{"zero", "0", 3, 2, "0", "0"},
		{"fractional leftover carries", "100.5", 3, 2, "100", "0.5"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			representable, leftover := WithPrecisionLoss(dec(c.amount), c.fromScale, c.toScale)
			assert.True(t, dec(c.representable).Equal(representable),
				"representable: got %s, want %s", representable, c.representable)
			assert.True(t, dec(c.leftover).Equal(leftover),
				"leftover: got %s, want %s", leftover, c.leftover)

			// No value may ever be lost by the split.
			require.True(t, representable.Add(leftover).Equal(dec(c.amount)))
		})
	}
}

func TestWithPrecisionLossAggregation(t *testing.T) {
	// Two sub-unit increments must add up to a settleable whole:
	// 99 at scale 3 leaves 9 behind; 9 + 91 then settles as 100.
	representable, leftover := WithPrecisionLoss(dec("99"), 3, 2)
	require.True(t, representable.Equal(dec("90")))
	require.True(t, leftover.Equal(dec("9")))

	representable, leftover = WithPrecisionLoss(leftover.Add(dec("91")), 3, 2)
	assert.True(t, representable.Equal(dec("100")))
	assert.True(t, leftover.Equal(decimal.Zero))
}

func TestToUnits(t *testing.T) {
	assert.Equal(t, "50", ToUnits(dec("500"), 3, 2).String())
	assert.Equal(t, "500", ToUnits(dec("500"), 2, 2).String())
	assert.Equal(t, "500000", ToUnits(dec("500"), 2, 5).String())
	assert.Equal(t, "0", ToUnits(dec("0"), 3, 2).String())
}
