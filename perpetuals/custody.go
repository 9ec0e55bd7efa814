// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// FeeParams is the fee curve configuration. The spec leaves the exact
// fee-curve coefficients as an open question to be obtained from a
// separate spec (section 9); this implements a flat base fee plus an
// add-on proportional to the same locked/owned utilization that
// BorrowRateState keys off (linear, with no kink), so fees rise as a
// custody's locked liquidity tightens (see DESIGN.md for the resolution of this open question).
type FeeParams struct {
	BaseFeeBps       int64
	UtilizationAddOnBps int64
}

// Fee computes the fee on a notional sizeUsd, rounding up in favor of
// the pool, using the custody's current utilization.
func (f FeeParams) Fee(sizeUsd *big.Int, utilizationBps int64) (*big.Int, error) {
	totalBps := f.BaseFeeBps
	if utilizationBps > 0 {
		addOn, err := CheckedMulDiv(big.NewInt(f.UtilizationAddOnBps), big.NewInt(utilizationBps), big.NewInt(bpsDenominator))
		if err != nil {
			return nil, err
		}
		totalBps += addOn.Int64()
	}
	return CheckedMulDivUp(sizeUsd, big.NewInt(totalBps), big.NewInt(bpsDenominator))
}

// BorrowRateState is the kinked-utilization borrow rate model shared
// by every custody, grounded in the teacher's Compound-style
// InterestRateModel (interest_rate.go): a gentle slope below the
// optimal utilization point, a steep slope above it.
type BorrowRateState struct {
	BaseRateBps           int64
	Slope1Bps             int64
	Slope2Bps             int64
	OptimalUtilizationBps int64

	CurrentRateBps      int64
	CumulativeInterest  *big.Int // raw sum of rate_bps*dt; divide by bpsDenominator at usage time
	LastUpdate          int64
}

// rate computes the per-second borrow rate in bps for utilizationBps,
// following the kink: base + slope1*u/u* below the kink, and
// base + slope1 + slope2*(u-u*)/(1-u*) above it.
func (b BorrowRateState) rate(utilizationBps int64) (int64, error) {
	if utilizationBps <= b.OptimalUtilizationBps {
		if b.OptimalUtilizationBps == 0 {
			return b.BaseRateBps, nil
		}
		add, err := CheckedMulDiv(big.NewInt(b.Slope1Bps), big.NewInt(utilizationBps), big.NewInt(b.OptimalUtilizationBps))
		if err != nil {
			return 0, err
		}
		return b.BaseRateBps + add.Int64(), nil
	}
	denom := bpsDenominator - b.OptimalUtilizationBps
	if denom <= 0 {
		return b.BaseRateBps + b.Slope1Bps + b.Slope2Bps, nil
	}
	excess := utilizationBps - b.OptimalUtilizationBps
	add, err := CheckedMulDiv(big.NewInt(b.Slope2Bps), big.NewInt(excess), big.NewInt(denom))
	if err != nil {
		return 0, err
	}
	return b.BaseRateBps + b.Slope1Bps + add.Int64(), nil
}

// Update recomputes CurrentRateBps and accrues CumulativeInterest for
// the elapsed time since LastUpdate. It is idempotent when now equals
// LastUpdate (invariant 7 of spec section 8). Must be called before
// any read that depends on interest, per spec section 4.4.
func (b *BorrowRateState) Update(utilizationBps, now int64) error {
	rate, err := b.rate(utilizationBps)
	if err != nil {
		return err
	}
	b.CurrentRateBps = rate

	dt := now - b.LastUpdate
	if dt < 0 {
		return fmt.Errorf("%w: now %d precedes last_update %d", ErrInvalidConfig, now, b.LastUpdate)
	}
	if dt == 0 {
		return nil
	}
	if b.CumulativeInterest == nil {
		b.CumulativeInterest = big.NewInt(0)
	}
	accrued := new(big.Int).Mul(big.NewInt(rate), big.NewInt(dt))
	b.CumulativeInterest = new(big.Int).Add(b.CumulativeInterest, accrued)
	b.LastUpdate = now
	return nil
}

// Assets is a custody's token-denominated balance sheet.
type Assets struct {
	Collateral    *big.Int
	ProtocolFees  *big.Int
	Owned         *big.Int
	Locked        *big.Int
}

// SideStats tracks the aggregate open interest for one side of a
// custody's book, kept in sync by Custody.RecordOpen/RecordClose so
// invariant 4 of spec section 8 always holds.
type SideStats struct {
	OpenInterestUsd *big.Int
	RealizedPnlUsd  *big.Int
	PositionCount   int64
}

// Custody holds per-asset configuration and the mutable counters the
// spec's data model assigns to it. Every public method is safe for
// concurrent use across distinct custodies; a single custody is
// serialized behind its own mutex, matching spec section 5's
// per-pool/per-custody ordering guarantee.
type Custody struct {
	mu sync.Mutex

	TokenMint common.Address
	Decimals  uint8
	IsStable  bool

	Oracle  OracleConfig
	Pricing PricingParams
	Fees    FeeParams
	Borrow  BorrowRateState

	TradingDisabled bool

	Assets Assets

	LongStats  SideStats
	ShortStats SideStats
}

// NewCustody constructs a custody with zeroed counters, validating its
// pricing configuration up front.
func NewCustody(mint common.Address, decimals uint8, isStable bool, oracle OracleConfig, pricing PricingParams, fees FeeParams, borrow BorrowRateState) (*Custody, error) {
	if err := pricing.Validate(); err != nil {
		return nil, err
	}
	return &Custody{
		TokenMint: mint,
		Decimals:  decimals,
		IsStable:  isStable,
		Oracle:    oracle,
		Pricing:   pricing,
		Fees:      fees,
		Borrow:    borrow,
		Assets: Assets{
			Collateral:   big.NewInt(0),
			ProtocolFees: big.NewInt(0),
			Owned:        big.NewInt(0),
			Locked:       big.NewInt(0),
		},
		LongStats:  SideStats{OpenInterestUsd: big.NewInt(0), RealizedPnlUsd: big.NewInt(0)},
		ShortStats: SideStats{OpenInterestUsd: big.NewInt(0), RealizedPnlUsd: big.NewInt(0)},
	}, nil
}

// UtilizationBps returns locked/owned in basis points, the input the
// kinked borrow-rate and fee curves key off of.
func (c *Custody) UtilizationBps() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utilizationBpsLocked()
}

func (c *Custody) utilizationBpsLocked() int64 {
	if c.Assets.Owned.Sign() == 0 {
		return 0
	}
	u, err := CheckedMulDiv(c.Assets.Locked, big.NewInt(bpsDenominator), c.Assets.Owned)
	if err != nil {
		return bpsDenominator
	}
	return u.Int64()
}

// UpdateBorrowRate recomputes the custody's borrow rate and accrues
// interest. Callers must invoke this before any open, close, or
// liquidation that reads the custody's cumulative interest (spec
// section 4.4).
func (c *Custody) UpdateBorrowRate(now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Borrow.Update(c.utilizationBpsLocked(), now)
}

// AddCollateral moves amount into the custody's collateral balance,
// enforcing collateral <= owned.
func (c *Custody) AddCollateral(amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := new(big.Int).Add(c.Assets.Collateral, amount)
	if next.Cmp(c.Assets.Owned) > 0 {
		return fmt.Errorf("%w: collateral would exceed owned", ErrInvalidAmount)
	}
	c.Assets.Collateral = next
	return nil
}

// ReleaseCollateral removes amount from the custody's collateral
// balance.
func (c *Custody) ReleaseCollateral(amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Assets.Collateral.Cmp(amount) < 0 {
		return fmt.Errorf("%w: releasing more collateral than held", ErrInvalidAmount)
	}
	c.Assets.Collateral = new(big.Int).Sub(c.Assets.Collateral, amount)
	return nil
}

// Lock reserves amount of the custody's owned tokens to back
// potential trader profit, enforcing locked <= owned - protocol_fees.
func (c *Custody) Lock(amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	headroom := new(big.Int).Sub(c.Assets.Owned, c.Assets.ProtocolFees)
	next := new(big.Int).Add(c.Assets.Locked, amount)
	if next.Cmp(headroom) > 0 {
		return fmt.Errorf("%w: locking %s would exceed owned-protocol_fees headroom %s", ErrInsufficientLiquidity, amount, headroom)
	}
	c.Assets.Locked = next
	return nil
}

// Unlock releases a previously locked amount.
func (c *Custody) Unlock(amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Assets.Locked.Cmp(amount) < 0 {
		return fmt.Errorf("%w: unlocking more than locked", ErrInvalidAmount)
	}
	c.Assets.Locked = new(big.Int).Sub(c.Assets.Locked, amount)
	return nil
}

// RecordOpen updates per-side open-interest counters when a position
// opens or grows.
func (c *Custody) RecordOpen(side Side, sizeUsd *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.statsLocked(side)
	stats.OpenInterestUsd = new(big.Int).Add(stats.OpenInterestUsd, sizeUsd)
	stats.PositionCount++
}

// RecordClose updates per-side open-interest and realized-PnL counters
// when a position closes or shrinks.
func (c *Custody) RecordClose(side Side, sizeUsd, realizedPnlUsd *big.Int, destroyed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.statsLocked(side)
	stats.OpenInterestUsd = new(big.Int).Sub(stats.OpenInterestUsd, sizeUsd)
	if stats.OpenInterestUsd.Sign() < 0 {
		stats.OpenInterestUsd.SetInt64(0)
	}
	stats.RealizedPnlUsd = new(big.Int).Add(stats.RealizedPnlUsd, realizedPnlUsd)
	if destroyed {
		stats.PositionCount--
	}
}

func (c *Custody) statsLocked(side Side) *SideStats {
	if side == Long {
		return &c.LongStats
	}
	return &c.ShortStats
}

// TokenToUsd converts a token amount at the custody's native decimals
// into a PriceDecimals-scaled USD amount at the given price.
func (c *Custody) TokenToUsd(amount, priceScaled *big.Int) (*big.Int, error) {
	usdAtTokenDecimals, err := CheckedMulDiv(amount, priceScaled, Scale10(c.Decimals))
	if err != nil {
		return nil, err
	}
	return usdAtTokenDecimals, nil
}
