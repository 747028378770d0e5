package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rentrails/internal/ledger"
)

func TestSplitEvenRatio(t *testing.T) {
	ratio, err := NewSplitRatio("0.5", "0.5")
	require.NoError(t, err)

	owner, renter, err := Split(ledger.MustParseAmount("10.0000000"), ratio)
	require.NoError(t, err)
	require.Equal(t, "5.0000000", owner.String())
	require.Equal(t, "5.0000000", renter.String())
}

func TestSplitNinetyTen(t *testing.T) {
	ratio, err := NewSplitRatio("0.9", "0.1")
	require.NoError(t, err)

	owner, renter, err := Split(ledger.MustParseAmount("10.0000000"), ratio)
	require.NoError(t, err)
	require.Equal(t, "9.0000000", owner.String())
	require.Equal(t, "1.0000000", renter.String())
}

func TestSplitRemainderGoesToOwner(t *testing.T) {
	ratio, err := NewSplitRatio("0.5", "0.5")
	require.NoError(t, err)

	// An odd unit cannot split evenly at 7 digits; the owner takes it.
	owner, renter, err := Split(ledger.MustParseAmount("0.0000003"), ratio)
	require.NoError(t, err)
	require.Equal(t, "0.0000002", owner.String())
	require.Equal(t, "0.0000001", renter.String())
}

func TestSplitConservesTotal(t *testing.T) {
	totals := []string{"10.0000000", "0.0000001", "123.4567891", "7", "0"}
	ratios := [][2]string{{"0.5", "0.5"}, {"0.9", "0.1"}, {"0.3333333", "0.6666667"}, {"1", "0"}, {"0", "1"}}

	for _, ts := range totals {
		total := ledger.MustParseAmount(ts)
		for _, rs := range ratios {
			ratio, err := NewSplitRatio(rs[0], rs[1])
			require.NoError(t, err)

			owner, renter, err := Split(total, ratio)
			require.NoError(t, err)
			require.True(t, owner.Add(renter).Equal(total),
				"total %s ratio %v: %s + %s", ts, rs, owner, renter)
			require.False(t, owner.IsNegative())
			require.False(t, renter.IsNegative())
		}
	}
}

func TestSplitRejectsNegativeTotal(t *testing.T) {
	ratio, err := NewSplitRatio("0.5", "0.5")
	require.NoError(t, err)

	negative := ledger.ZeroAmount().Sub(ledger.MustParseAmount("1"))
	_, _, err = Split(negative, ratio)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestNewSplitRatioValidation(t *testing.T) {
	for _, tc := range [][2]string{
		{"0.6", "0.5"},  // sums above 1
		{"0.5", "0.4"},  // sums below 1
		{"-0.1", "1.1"}, // negative share
		{"x", "y"},      // unparseable
	} {
		_, err := NewSplitRatio(tc[0], tc[1])
		require.ErrorIs(t, err, ErrInvalidRatio, "shares %v", tc)
	}
}
