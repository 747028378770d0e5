package ledger

import (
	"encoding/json"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"10", "10.0000000", true},
		{"10.0000000", "10.0000000", true},
		{"0.0000001", "0.0000001", true},
		{"2", "2.0000000", true},
		{"0", "0.0000000", true},
		{"0.00000001", "", false}, // eighth digit
		{"-1", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			require.ErrorIs(t, err, ErrInvalidAmount, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String())
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := MustParseAmount("10.5000000")
	b := MustParseAmount("0.2500000")

	require.Equal(t, "10.7500000", a.Add(b).String())
	require.Equal(t, "10.2500000", a.Sub(b).String())
	require.Equal(t, "0.7500000", b.MulRaw(3).String())
	require.True(t, b.LT(a))
	require.True(t, a.GTE(b))
	require.True(t, a.Sub(a).IsZero())
	require.True(t, b.Sub(a).IsNegative())
}

func TestAmountMulDecTruncate(t *testing.T) {
	total := MustParseAmount("10.0000001")
	half := sdkmath.LegacyMustNewDecFromStr("0.5")

	// The odd unit truncates away.
	require.Equal(t, "5.0000000", total.MulDecTruncate(half).String())
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a := MustParseAmount("3.1415926")

	blob, err := json.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `"3.1415926"`, string(blob))

	var back Amount
	require.NoError(t, json.Unmarshal(blob, &back))
	require.True(t, a.Equal(back))
}

func TestZeroValueAmountIsSafe(t *testing.T) {
	var a Amount
	require.True(t, a.IsZero())
	require.Equal(t, "0.0000000", a.String())
	require.Equal(t, "1.0000000", a.Add(MustParseAmount("1")).String())
}
