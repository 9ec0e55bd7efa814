// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
)

func testCustody(t *testing.T) *Custody {
	t.Helper()
	c, err := NewCustody(
		common.HexToAddress("0x01"),
		6,
		false,
		OracleConfig{Variant: OraclePyth, MaxPriceAgeSec: 60},
		defaultPricingParams(),
		FeeParams{BaseFeeBps: 10, UtilizationAddOnBps: 40},
		BorrowRateState{BaseRateBps: 0, Slope1Bps: 400, Slope2Bps: 7_500, OptimalUtilizationBps: 8_000},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Assets.Owned = bigi("1000000000000")
	return c
}

func TestCustody_UpdateBorrowRate_Idempotent(t *testing.T) {
	c := testCustody(t)
	c.Assets.Locked = bigi("500000000000")

	if err := c.UpdateBorrowRate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	afterFirst := new(big.Int).Set(c.Borrow.CumulativeInterest)

	if err := c.UpdateBorrowRate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Borrow.CumulativeInterest.Cmp(afterFirst) != 0 {
		t.Fatalf("idempotence violated: %s != %s", c.Borrow.CumulativeInterest, afterFirst)
	}
}

func TestCustody_UpdateBorrowRate_Monotone(t *testing.T) {
	c := testCustody(t)
	c.Assets.Locked = bigi("800000000000")

	if err := c.UpdateBorrowRate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := new(big.Int).Set(c.Borrow.CumulativeInterest)

	if err := c.UpdateBorrowRate(2000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Borrow.CumulativeInterest.Cmp(first) < 0 {
		t.Fatalf("cumulative interest went backwards: %s < %s", c.Borrow.CumulativeInterest, first)
	}
}

func TestCustody_UpdateBorrowRate_AccruesRawRateTimesDt(t *testing.T) {
	c := testCustody(t)
	c.Assets.Locked = bigi("800000000000") // 80% utilization, exactly the 8000bps kink

	if err := c.UpdateBorrowRate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// At the kink, rate = BaseRateBps(0) + Slope1Bps(400)*8000/8000 = 400bps.
	if c.Borrow.CurrentRateBps != 400 {
		t.Fatalf("rate got %d want 400", c.Borrow.CurrentRateBps)
	}
	// CumulativeInterest accrues the raw rate*dt product with no division
	// at accrual time (spec.md's cumulative_interest <- prev +
	// current_rate*(now-last_update)); the single division into a USD
	// amount happens only at usage time in ComputePnl.
	want := big.NewInt(400 * 1000)
	if c.Borrow.CumulativeInterest.Cmp(want) != 0 {
		t.Fatalf("cumulative interest got %s want %s", c.Borrow.CumulativeInterest, want)
	}
}

func TestCustody_LockUnlock_RespectsHeadroom(t *testing.T) {
	c := testCustody(t)
	c.Assets.ProtocolFees = bigi("10000000000")

	headroom := new(big.Int).Sub(c.Assets.Owned, c.Assets.ProtocolFees)
	tooMuch := new(big.Int).Add(headroom, big.NewInt(1))

	if err := c.Lock(tooMuch); err == nil {
		t.Fatal("expected insufficient-liquidity error")
	}
	if err := c.Lock(headroom); err != nil {
		t.Fatalf("unexpected error locking exactly the headroom: %v", err)
	}
	if err := c.Unlock(headroom); err != nil {
		t.Fatalf("unexpected error unlocking: %v", err)
	}
}

func TestCustody_AddCollateral_CannotExceedOwned(t *testing.T) {
	c := testCustody(t)
	tooMuch := new(big.Int).Add(c.Assets.Owned, big.NewInt(1))
	if err := c.AddCollateral(tooMuch); err == nil {
		t.Fatal("expected error exceeding owned")
	}
}

func TestCustody_RecordOpenClose_TracksOpenInterest(t *testing.T) {
	c := testCustody(t)
	c.RecordOpen(Long, bigi("1000000000"))
	c.RecordOpen(Long, bigi("2000000000"))
	if c.LongStats.OpenInterestUsd.Cmp(bigi("3000000000")) != 0 {
		t.Fatalf("got %s want 3000000000", c.LongStats.OpenInterestUsd)
	}
	c.RecordClose(Long, bigi("1000000000"), bigi("50000000"), false)
	if c.LongStats.OpenInterestUsd.Cmp(bigi("2000000000")) != 0 {
		t.Fatalf("got %s want 2000000000", c.LongStats.OpenInterestUsd)
	}
	if c.LongStats.RealizedPnlUsd.Cmp(bigi("50000000")) != 0 {
		t.Fatalf("realized pnl got %s want 50000000", c.LongStats.RealizedPnlUsd)
	}
}
