// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
)

// PriceDecimals is the global fixed-point scale for USD and price
// values. All exported FixedMath helpers treat amounts as big.Int
// scaled by 10^PriceDecimals unless documented otherwise.
const PriceDecimals = 6

// maxScaled bounds every checked result to what a 64-bit unsigned
// amount can hold. big.Int never overflows on its own, but the core's
// invariant ("any overflow is a fatal error, never a silent wrap")
// still has to be enforced at the API boundary, so every checked
// operation validates its result against this bound.
var maxScaled = new(big.Int).SetUint64(^uint64(0))

// Scale10 returns 10^decimals as a big.Int.
func Scale10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// PriceScale is 10^PriceDecimals, the USD/price fixed-point unit.
var PriceScale = Scale10(PriceDecimals)

func checkFits(v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative result %s", ErrMathOverflow, v.String())
	}
	if v.Cmp(maxScaled) > 0 {
		return fmt.Errorf("%w: %s exceeds 64-bit range", ErrMathOverflow, v.String())
	}
	return nil
}

// CheckedMulDiv computes floor(a*b/d) using a widened intermediate. It
// fails with ErrDivisionByZero if d is zero, and with ErrMathOverflow if
// the result does not fit a 64-bit unsigned amount. Division truncates toward zero, matching the
// FixedMath rounding rule for every caller that doesn't explicitly ask
// to round up.
func CheckedMulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, fmt.Errorf("%w: checked_mul_div by zero", ErrDivisionByZero)
	}
	prod := new(big.Int).Mul(a, b)
	q := new(big.Int).Quo(prod, d)
	if err := checkFits(q); err != nil {
		return nil, err
	}
	return q, nil
}

// CheckedMulDivUp is CheckedMulDiv but rounds the quotient up. Fee
// calculations use this so fees always round in favor of the pool.
func CheckedMulDivUp(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, fmt.Errorf("%w: checked_mul_div_up by zero", ErrDivisionByZero)
	}
	prod := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(prod, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if err := checkFits(q); err != nil {
		return nil, err
	}
	return q, nil
}

// CheckedAsScaled rescales v from fromDecimals to toDecimals without
// loss on widenings (toDecimals >= fromDecimals); narrowings truncate
// toward zero per the module's rounding rule.
func CheckedAsScaled(v *big.Int, fromDecimals, toDecimals uint8) (*big.Int, error) {
	if fromDecimals == toDecimals {
		out := new(big.Int).Set(v)
		if err := checkFits(out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if toDecimals > fromDecimals {
		factor := Scale10(toDecimals - fromDecimals)
		out := new(big.Int).Mul(v, factor)
		if err := checkFits(out); err != nil {
			return nil, err
		}
		return out, nil
	}
	factor := Scale10(fromDecimals - toDecimals)
	out := new(big.Int).Quo(v, factor)
	if err := checkFits(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckedPowRatio computes ratioScaled^k in scaled form by iterated
// multiply-and-rescale: acc starts at ratioScaled, then k-1 times
// acc = checked_mul_div(acc, ratioScaled, scale). Rescaling after every
// multiplication bounds the intermediate size instead of letting the
// exponent blow the product up before a single final divide. k=1
// returns ratioScaled unchanged; k must be in [1,5] per the power-perp
// contract (callers of calc_power_perps_pnl enforce that range).
func CheckedPowRatio(ratioScaled *big.Int, k int, scale *big.Int) (*big.Int, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: power %d out of range", ErrInvalidPower, k)
	}
	acc := new(big.Int).Set(ratioScaled)
	for i := 1; i < k; i++ {
		next, err := CheckedMulDiv(acc, ratioScaled, scale)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// CalcPowerPerpsPnl implements the power-perpetual payoff primitive:
//
//	ratio     = exit * 10^PriceDecimals / entry
//	ratioPow  = ratio^k (rescaled at 10^PriceDecimals)
//	profit/loss = size_usd * |ratioPow - 10^PriceDecimals| / 10^PriceDecimals
//
// At most one of profit/loss is non-zero (both are zero when ratioPow
// equals 10^PriceDecimals). Short positions obtain their
// PnL by swapping (exit, entry) at the call site — this primitive never
// needs to know the side.
func CalcPowerPerpsPnl(exit, entry, sizeUsd *big.Int, k int) (profit, loss *big.Int, err error) {
	zero := big.NewInt(0)
	if entry.Sign() == 0 || k == 0 || k > 5 {
		return zero, zero, nil
	}
	if k < 0 {
		return nil, nil, fmt.Errorf("%w: power %d out of range", ErrInvalidPower, k)
	}

	ratio, err := CheckedMulDiv(exit, PriceScale, entry)
	if err != nil {
		return nil, nil, err
	}
	ratioPow, err := CheckedPowRatio(ratio, k, PriceScale)
	if err != nil {
		return nil, nil, err
	}

	if ratioPow.Cmp(PriceScale) >= 0 {
		diff := new(big.Int).Sub(ratioPow, PriceScale)
		p, err := CheckedMulDiv(sizeUsd, diff, PriceScale)
		if err != nil {
			return nil, nil, err
		}
		return p, zero, nil
	}

	diff := new(big.Int).Sub(PriceScale, ratioPow)
	l, err := CheckedMulDiv(sizeUsd, diff, PriceScale)
	if err != nil {
		return nil, nil, err
	}
	return zero, l, nil
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// ZeroFloor returns v if v is positive, else 0. Used to clamp figures
// that can otherwise go negative, such as remaining collateral and
// payout amounts in position.go and the pool's AUM.
func ZeroFloor(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}
