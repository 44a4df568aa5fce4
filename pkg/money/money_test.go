package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	a, err := FromString("123.45")
	require.NoError(t, err)
	assert.Equal(t, Amount(12345), a)

	a, err = FromString("200")
	require.NoError(t, err)
	assert.Equal(t, Amount(20000), a)

	_, err = FromString("not-a-number")
	assert.Error(t, err)
}

func TestFromDecimal_RoundsToCents(t *testing.T) {
	assert.Equal(t, Amount(1000), FromDecimal(decimal.NewFromFloat(9.999)))
	assert.Equal(t, Amount(999), FromDecimal(decimal.NewFromFloat(9.994)))
}

func TestString(t *testing.T) {
	assert.Equal(t, "123.45", Amount(12345).String())
	assert.Equal(t, "0.05", Amount(5).String())
	assert.Equal(t, "-1.00", Amount(-100).String())
}

func TestIsNearRound(t *testing.T) {
	// Exactly round, one cent above, one cent below.
	assert.True(t, Amount(20000).IsNearRound(1))
	assert.True(t, Amount(20001).IsNearRound(1))
	assert.True(t, Amount(19999).IsNearRound(1))

	assert.False(t, Amount(20002).IsNearRound(1))
	assert.False(t, Amount(12345).IsNearRound(1))
}

func TestAbs(t *testing.T) {
	assert.Equal(t, Amount(250), Amount(-250).Abs())
	assert.Equal(t, Amount(250), Amount(250).Abs())
}
