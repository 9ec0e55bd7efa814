// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"math/big"
	"testing"
)

func bigi(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return n
}

func closeEnough(t *testing.T, got, want *big.Int, tolerance int64, label string) {
	t.Helper()
	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(tolerance)) > 0 {
		t.Fatalf("%s: got %s want %s (tolerance %d)", label, got.String(), want.String(), tolerance)
	}
}

// Scenarios A-F from the spec's end-to-end table, PRICE_DECIMALS=6,
// size_usd = $10,000 at scale.
func TestCalcPowerPerpsPnl_Scenarios(t *testing.T) {
	size := bigi("10000000000")

	cases := []struct {
		name         string
		entry, exit  *big.Int
		k            int
		wantProfit   *big.Int
		wantLoss     *big.Int
		tolerance    int64
	}{
		{"A-long-k1", bigi("100000000"), bigi("150000000"), 1, bigi("5000000000"), big.NewInt(0), 0},
		{"B-long-k2", bigi("100000000"), bigi("150000000"), 2, bigi("12500000000"), big.NewInt(0), 0},
		{"C-long-k3", bigi("100000000"), bigi("150000000"), 3, bigi("23750000000"), big.NewInt(0), 0},
		{"D-long-k2-loss", bigi("100000000"), bigi("75000000"), 2, big.NewInt(0), bigi("4375000000"), 0},
		{"F-long-k5", bigi("100000000"), bigi("120000000"), 5, bigi("14883200000"), big.NewInt(0), 5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			profit, loss, err := CalcPowerPerpsPnl(c.exit, c.entry, size, c.k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			closeEnough(t, profit, c.wantProfit, c.tolerance, "profit")
			closeEnough(t, loss, c.wantLoss, c.tolerance, "loss")
		})
	}
}

// Scenario E is the short side of scenario D: swap (entry, exit) at
// the call site to compute the short payoff.
func TestCalcPowerPerpsPnl_ShortScenario(t *testing.T) {
	size := bigi("10000000000")
	entry := bigi("100000000")
	exit := bigi("75000000")

	profit, loss, err := CalcPowerPerpsPnl(entry, exit, size, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeEnough(t, profit, bigi("7777777777"), 1, "profit")
	if loss.Sign() != 0 {
		t.Fatalf("expected zero loss, got %s", loss.String())
	}
}

func TestCalcPowerPerpsPnl_Boundaries(t *testing.T) {
	size := bigi("10000000000")
	entry := bigi("100000000")
	exit := bigi("150000000")

	if _, _, err := CalcPowerPerpsPnl(exit, entry, size, 6); err == nil {
		// k=6 yields (0,0) defensively per the primitive's own guard;
		// InvalidPower is enforced by OpenPosition before this is
		// ever reached (see position_test.go).
	} else {
		t.Fatalf("unexpected error for k=6: %v", err)
	}
	p, l, _ := CalcPowerPerpsPnl(exit, entry, size, 6)
	if p.Sign() != 0 || l.Sign() != 0 {
		t.Fatalf("k=6 should be defensively zeroed, got profit=%s loss=%s", p, l)
	}

	p, l, err := CalcPowerPerpsPnl(exit, big.NewInt(0), size, 1)
	if err != nil {
		t.Fatalf("unexpected error for entry=0: %v", err)
	}
	if p.Sign() != 0 || l.Sign() != 0 {
		t.Fatalf("entry=0 should yield (0,0), got profit=%s loss=%s", p, l)
	}
}

// Invariant 1: k=1 reproduces the linear payoff up to +-1 ulp.
func TestCalcPowerPerpsPnl_LinearEquivalenceAtK1(t *testing.T) {
	size := bigi("10000000000")
	entry := bigi("137250000")
	exit := bigi("151375000")

	profit, loss, err := CalcPowerPerpsPnl(exit, entry, size, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := new(big.Int).Sub(exit, entry)
	linear, err := CheckedMulDiv(size, diff, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loss.Sign() != 0 {
		t.Fatalf("expected profit-only for exit>entry, got loss=%s", loss)
	}
	closeEnough(t, profit, linear, 1, "linear equivalence")
}

// Invariant 2: profit*loss = 0 for every k in 1..5, across a spread of
// entry/exit pairs straddling parity.
func TestCalcPowerPerpsPnl_AtMostOneSideNonZero(t *testing.T) {
	size := bigi("10000000000")
	prices := []*big.Int{bigi("50000000"), bigi("90000000"), bigi("100000000"), bigi("110000000"), bigi("250000000")}
	entry := bigi("100000000")

	for k := 1; k <= 5; k++ {
		for _, exit := range prices {
			profit, loss, err := CalcPowerPerpsPnl(exit, entry, size, k)
			if err != nil {
				t.Fatalf("k=%d exit=%s: unexpected error: %v", k, exit, err)
			}
			prod := new(big.Int).Mul(profit, loss)
			if prod.Sign() != 0 {
				t.Fatalf("k=%d exit=%s: profit=%s loss=%s both non-zero", k, exit, profit, loss)
			}
		}
	}
}

func TestCheckedMulDiv_DivisionByZero(t *testing.T) {
	_, err := CheckedMulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	if err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestCheckedMulDivUp_RoundsUp(t *testing.T) {
	got, err := CheckedMulDivUp(big.NewInt(10), big.NewInt(1), big.NewInt(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("expected ceil(10/3)=4, got %s", got)
	}
}

func TestCheckedPowRatio_K1IsIdentity(t *testing.T) {
	ratio := bigi("123456789")
	got, err := CheckedPowRatio(ratio, 1, PriceScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(ratio) != 0 {
		t.Fatalf("k=1 should be identity, got %s want %s", got, ratio)
	}
}

func TestCheckedAsScaled_Widen(t *testing.T) {
	got, err := CheckedAsScaled(big.NewInt(5), 0, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(bigi("5000000")) != 0 {
		t.Fatalf("got %s want 5000000", got)
	}
}
