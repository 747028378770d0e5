package ledger

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// FracDigits is the ledger-native precision: every amount is a whole number
// of 10^-7 units.
const FracDigits = 7

const unitsPerWhole = 10_000_000

// Amount is a native-asset amount held as a scaled integer. The zero value
// is zero.
type Amount struct {
	units sdkmath.Int
}

// ParseAmount parses a decimal string with at most seven fractional digits.
func ParseAmount(s string) (Amount, error) {
	d, err := sdkmath.LegacyNewDecFromStr(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("amount %q is negative: %w", s, ErrInvalidAmount)
	}
	scaled := d.MulInt64(unitsPerWhole)
	if !scaled.Equal(scaled.TruncateDec()) {
		return Amount{}, fmt.Errorf("amount %q exceeds %d fractional digits: %w", s, FracDigits, ErrInvalidAmount)
	}
	return Amount{units: scaled.TruncateInt()}, nil
}

// MustParseAmount panics on a malformed amount. For constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func ZeroAmount() Amount {
	return Amount{units: sdkmath.ZeroInt()}
}

func (a Amount) raw() sdkmath.Int {
	if a.units.IsNil() {
		return sdkmath.ZeroInt()
	}
	return a.units
}

func (a Amount) Add(b Amount) Amount {
	return Amount{units: a.raw().Add(b.raw())}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{units: a.raw().Sub(b.raw())}
}

// MulRaw scales the amount by an integer factor, e.g. a per-operation fee by
// the operation count.
func (a Amount) MulRaw(n int64) Amount {
	return Amount{units: a.raw().MulRaw(n)}
}

// MulDecTruncate multiplies by a decimal ratio, truncating the result at the
// ledger's seven-digit resolution.
func (a Amount) MulDecTruncate(d sdkmath.LegacyDec) Amount {
	return Amount{units: sdkmath.LegacyNewDecFromInt(a.raw()).Mul(d).TruncateInt()}
}

func (a Amount) IsZero() bool     { return a.raw().IsZero() }
func (a Amount) IsNegative() bool { return a.raw().IsNegative() }

func (a Amount) Equal(b Amount) bool { return a.raw().Equal(b.raw()) }
func (a Amount) LT(b Amount) bool    { return a.raw().LT(b.raw()) }
func (a Amount) GTE(b Amount) bool   { return a.raw().GTE(b.raw()) }

func (a Amount) String() string {
	u := a.raw().BigInt()
	neg := u.Sign() < 0
	if neg {
		u = new(big.Int).Neg(u)
	}
	q, r := new(big.Int).QuoRem(u, big.NewInt(unitsPerWhole), new(big.Int))
	s := fmt.Sprintf("%s.%07d", q.String(), r.Int64())
	if neg {
		s = "-" + s
	}
	return s
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
