// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
)

// Side is the position direction.
type Side uint8

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Long {
		return "long"
	}
	return "short"
}

// Intent distinguishes pricing a position's entry from pricing its
// exit; the spread is applied in opposite directions for the two.
type Intent uint8

const (
	IntentEntry Intent = iota
	IntentExit
)

const bpsDenominator = 10_000

// PricingParams configures spread, leverage bounds, and the
// confidence gate for one custody, per spec section 3's table.
type PricingParams struct {
	UseEMA                bool
	TradeSpreadLongBps    int64
	TradeSpreadShortBps   int64
	SwapSpreadBps         int64
	MinInitialLeverageBps int64
	MaxInitialLeverageBps int64
	MaxLeverageBps        int64
	MaxPayoffMultBps      int64
	MaxConfidenceBps      int64
	LiquidationFeeBps     int64
	MinCollateralBps      int64
}

// Validate enforces the ordering invariant from spec section 3:
// min_initial_leverage <= max_initial_leverage <= max_leverage.
func (p PricingParams) Validate() error {
	if p.TradeSpreadLongBps < 0 || p.TradeSpreadShortBps < 0 || p.SwapSpreadBps < 0 ||
		p.MinInitialLeverageBps < 0 || p.MaxInitialLeverageBps < 0 || p.MaxLeverageBps < 0 ||
		p.MaxPayoffMultBps < 0 {
		return fmt.Errorf("%w: negative pricing parameter", ErrInvalidConfig)
	}
	if p.MinInitialLeverageBps > p.MaxInitialLeverageBps || p.MaxInitialLeverageBps > p.MaxLeverageBps {
		return fmt.Errorf("%w: leverage bounds must satisfy min <= initial_max <= max", ErrInvalidConfig)
	}
	return nil
}

// TradePrice converts a normalized oracle observation into a tradable
// entry or exit price for side, applying the configured spread:
//
//	long  entry: +spread   long  exit: -spread
//	short entry: -spread   short exit: +spread
//
// and rejects a confidence interval wider than MaxConfidenceBps of the
// mid price.
func TradePrice(obs OraclePrice, side Side, intent Intent, params PricingParams) (*big.Int, error) {
	maxConf, err := CheckedMulDiv(obs.PriceScaled, big.NewInt(params.MaxConfidenceBps), big.NewInt(bpsDenominator))
	if err != nil {
		return nil, err
	}
	if obs.ConfidenceScaled.Cmp(maxConf) > 0 {
		return nil, fmt.Errorf("%w: confidence %s exceeds %s", ErrPriceConfidenceTooWide, obs.ConfidenceScaled, maxConf)
	}

	spreadBps := params.TradeSpreadLongBps
	sign := 1
	if side == Long {
		if intent == IntentExit {
			sign = -1
		}
	} else {
		spreadBps = params.TradeSpreadShortBps
		if intent == IntentEntry {
			sign = -1
		}
	}

	// Rounded up, not toward zero: whichever direction the spread moves
	// the price, a larger spread is the direction against the user, so
	// the magnitude itself must round up regardless of add/subtract
	// branch (the same rounding-up-against-the-user rule Fee() applies).
	spread, err := CheckedMulDivUp(obs.PriceScaled, big.NewInt(spreadBps), big.NewInt(bpsDenominator))
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Set(obs.PriceScaled)
	if sign > 0 {
		out.Add(out, spread)
	} else {
		out.Sub(out, spread)
		if out.Sign() < 0 {
			out.SetInt64(0)
		}
	}
	return out, nil
}
