package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := map[string]int64{
		"12.34":  1234,
		"12,34":  1234,
		"0.01":   1,
		"100":    10000,
		" 7.5 ":  750,
		"150.00": 15000,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseCents_Invalid(t *testing.T) {
	for _, in := range []string{"", "0", "0.00", "-5", "abc", "1.234", "1e30", "12.3.4"} {
		_, err := ParseCents(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "12.34", FormatCents(1234))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "-100.00", FormatCents(-10000))
	assert.Equal(t, "0.00", FormatCents(0))
}
