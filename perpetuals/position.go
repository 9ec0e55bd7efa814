// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Position is the per-trade state. There is no intermediate state
// between Open and Closed: every transition in this file either
// commits every field it touches, or returns an error and leaves the
// receiver untouched.
type Position struct {
	Owner             common.Address
	Pool              common.Address
	Custody           common.Address
	CollateralCustody common.Address

	OpenTime   int64
	UpdateTime int64

	Side  Side
	Power int

	Price *big.Int // entry price, scaled

	SizeUsd          *big.Int
	CollateralUsd    *big.Int
	CollateralAmount *big.Int // in CollateralCustody's native decimals

	UnrealizedProfitUsd *big.Int
	UnrealizedLossUsd   *big.Int

	CumulativeInterestSnapshot *big.Int
	LockedAmount               *big.Int // in Custody's native decimals
}

// OpenParams carries the per-call inputs to OpenPosition.
type OpenParams struct {
	Owner            common.Address
	PriceLimit       *big.Int
	CollateralAmount *big.Int
	SizeAmount       *big.Int
	Side             Side
	Power            int
	Now              int64
}

// OpenPosition validates and opens a new position against custody
// (the asset being traded) and collateralCustody (where margin is
// posted), following spec section 4.5.1 in order: permissions, amount
// positivity, power range, collateral-custody identity, borrow-rate
// refresh, entry pricing with slippage, leverage check, locking,
// fees, settlement, then the new Position record.
func OpenPosition(
	poolAddr common.Address,
	custodyAddr, collateralCustodyAddr, expectedCollateralCustodyAddr common.Address,
	custody, collateralCustody *Custody,
	markObs, collateralObs OraclePrice,
	settlement Settlement,
	vault common.Address,
	perms Permissions,
	params OpenParams,
) (*Position, error) {
	if !perms.AllowOpenPosition {
		return nil, fmt.Errorf("%w: open_position", ErrOperationDisabled)
	}
	if params.SizeAmount.Sign() <= 0 || params.CollateralAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: size and collateral amounts must be positive", ErrInvalidAmount)
	}
	if params.Power < 1 || params.Power > 5 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPower, params.Power)
	}
	if collateralCustodyAddr != expectedCollateralCustodyAddr {
		return nil, fmt.Errorf("%w: collateral custody does not match the side's required custody", ErrInvalidConfig)
	}
	if err := custody.UpdateBorrowRate(params.Now); err != nil {
		return nil, err
	}

	entryPrice, err := TradePrice(markObs, params.Side, IntentEntry, custody.Pricing)
	if err != nil {
		return nil, err
	}
	if params.Side == Long && entryPrice.Cmp(params.PriceLimit) > 0 {
		return nil, fmt.Errorf("%w: long entry %s above limit %s", ErrMaxPriceSlippage, entryPrice, params.PriceLimit)
	}
	if params.Side == Short && entryPrice.Cmp(params.PriceLimit) < 0 {
		return nil, fmt.Errorf("%w: short entry %s below limit %s", ErrMaxPriceSlippage, entryPrice, params.PriceLimit)
	}

	sizeUsd, err := custody.TokenToUsd(params.SizeAmount, entryPrice)
	if err != nil {
		return nil, err
	}

	openFeeUsd, err := custody.Fees.Fee(sizeUsd, custody.UtilizationBps())
	if err != nil {
		return nil, err
	}
	feeAmount, err := CheckedMulDivUp(openFeeUsd, Scale10(collateralCustody.Decimals), collateralObs.PriceScaled)
	if err != nil {
		return nil, err
	}
	if params.CollateralAmount.Cmp(feeAmount) <= 0 {
		return nil, fmt.Errorf("%w: collateral does not cover the open fee", ErrInvalidAmount)
	}
	netCollateralAmount := new(big.Int).Sub(params.CollateralAmount, feeAmount)
	collateralUsd, err := collateralCustody.TokenToUsd(netCollateralAmount, collateralObs.PriceScaled)
	if err != nil {
		return nil, err
	}
	if collateralUsd.Sign() <= 0 || sizeUsd.Cmp(collateralUsd) < 0 {
		return nil, fmt.Errorf("%w: size_usd must be >= collateral_usd > 0", ErrInvalidAmount)
	}

	initialLeverageBps, err := CheckedMulDiv(sizeUsd, big.NewInt(bpsDenominator), collateralUsd)
	if err != nil {
		return nil, err
	}
	if err := CheckInitialLeverage(params.Power, initialLeverageBps.Int64(), custody.Pricing); err != nil {
		return nil, err
	}

	lockedAmount, err := CheckedMulDiv(params.SizeAmount, big.NewInt(custody.Pricing.MaxPayoffMultBps), big.NewInt(bpsDenominator))
	if err != nil {
		return nil, err
	}
	if err := custody.Lock(lockedAmount); err != nil {
		return nil, err
	}

	if err := settlement.Transfer(collateralCustody.TokenMint, params.Owner, vault, params.CollateralAmount); err != nil {
		custody.Unlock(lockedAmount) //nolint:errcheck // best-effort unwind, the op still fails atomically to the caller
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	collateralCustody.Assets.Owned = new(big.Int).Add(collateralCustody.Assets.Owned, params.CollateralAmount)
	collateralCustody.Assets.ProtocolFees = new(big.Int).Add(collateralCustody.Assets.ProtocolFees, feeAmount)
	if err := collateralCustody.AddCollateral(netCollateralAmount); err != nil {
		return nil, err
	}

	pos := &Position{
		Owner:                      params.Owner,
		Pool:                       poolAddr,
		Custody:                    custodyAddr,
		CollateralCustody:          collateralCustodyAddr,
		OpenTime:                   params.Now,
		UpdateTime:                 params.Now,
		Side:                       params.Side,
		Power:                      params.Power,
		Price:                      entryPrice,
		SizeUsd:                    sizeUsd,
		CollateralUsd:              collateralUsd,
		CollateralAmount:           netCollateralAmount,
		UnrealizedProfitUsd:        big.NewInt(0),
		UnrealizedLossUsd:          big.NewInt(0),
		CumulativeInterestSnapshot: new(big.Int).Set(custody.Borrow.CumulativeInterest),
		LockedAmount:               lockedAmount,
	}

	custody.RecordOpen(params.Side, sizeUsd)
	return pos, nil
}

// PnlResult is the pure output of ComputePnl: spec section 4.5.2 step 7.
type PnlResult struct {
	ProfitUsd *big.Int
	LossUsd   *big.Int
	FeeUsd    *big.Int
}

// ComputePnl computes the position's current profit/loss without
// mutating any state (spec section 4.5.2). exitObs is the custody's
// current oracle observation.
func (p *Position) ComputePnl(custody *Custody, exitObs OraclePrice) (PnlResult, error) {
	exitPrice, err := TradePrice(exitObs, p.Side, IntentExit, custody.Pricing)
	if err != nil {
		return PnlResult{}, err
	}

	var profit, loss *big.Int
	if p.Side == Long {
		profit, loss, err = CalcPowerPerpsPnl(exitPrice, p.Price, p.SizeUsd, p.Power)
	} else {
		profit, loss, err = CalcPowerPerpsPnl(p.Price, exitPrice, p.SizeUsd, p.Power)
	}
	if err != nil {
		return PnlResult{}, err
	}

	interestUsd, err := CheckedMulDiv(p.SizeUsd, new(big.Int).Sub(custody.Borrow.CumulativeInterest, p.CumulativeInterestSnapshot), big.NewInt(bpsDenominator))
	if err != nil {
		return PnlResult{}, err
	}

	exitFeeUsd, err := custody.Fees.Fee(p.SizeUsd, custody.UtilizationBps())
	if err != nil {
		return PnlResult{}, err
	}

	net := new(big.Int).Sub(profit, loss)
	net.Sub(net, interestUsd)
	net.Sub(net, exitFeeUsd)
	net.Sub(net, p.UnrealizedLossUsd)
	net.Add(net, p.UnrealizedProfitUsd)

	var finalProfit, finalLoss *big.Int
	if net.Sign() >= 0 {
		finalProfit, finalLoss = net, big.NewInt(0)
	} else {
		finalProfit, finalLoss = big.NewInt(0), new(big.Int).Neg(net)
	}

	lockedUsd, err := custody.TokenToUsd(p.LockedAmount, exitPrice)
	if err != nil {
		return PnlResult{}, err
	}
	finalProfit = MinBig(finalProfit, lockedUsd)

	return PnlResult{ProfitUsd: finalProfit, LossUsd: finalLoss, FeeUsd: exitFeeUsd}, nil
}

// CloseParams carries the per-call inputs to Close.
type CloseParams struct {
	PriceLimit     *big.Int
	SizeUsdToClose *big.Int
	Now            int64
}

// CloseResult reports the settled outcome of a (partial or full)
// close, and whether the position is now terminal.
type CloseResult struct {
	RealizedProfitUsd *big.Int
	RealizedLossUsd   *big.Int
	FeeUsd            *big.Int
	Closed            bool
}

// Close settles size_usd_to_close of the position (spec section
// 4.5.3): it prorates the full-position PnL by the closed share,
// transfers the net proceeds through settlement, and destroys the
// position if nothing remains open.
func (p *Position) Close(custody, collateralCustody *Custody, exitObs, collateralObs OraclePrice, settlement Settlement, vault common.Address, perms Permissions, params CloseParams) (*CloseResult, error) {
	if !perms.AllowClosePosition {
		return nil, fmt.Errorf("%w: close_position", ErrOperationDisabled)
	}
	if params.SizeUsdToClose.Sign() <= 0 || params.SizeUsdToClose.Cmp(p.SizeUsd) > 0 {
		return nil, fmt.Errorf("%w: size_usd_to_close out of range", ErrInvalidAmount)
	}
	if err := custody.UpdateBorrowRate(params.Now); err != nil {
		return nil, err
	}

	exitPrice, err := TradePrice(exitObs, p.Side, IntentExit, custody.Pricing)
	if err != nil {
		return nil, err
	}
	if p.Side == Long && exitPrice.Cmp(params.PriceLimit) < 0 {
		return nil, fmt.Errorf("%w: long exit %s below limit %s", ErrMaxPriceSlippage, exitPrice, params.PriceLimit)
	}
	if p.Side == Short && exitPrice.Cmp(params.PriceLimit) > 0 {
		return nil, fmt.Errorf("%w: short exit %s above limit %s", ErrMaxPriceSlippage, exitPrice, params.PriceLimit)
	}

	full, err := p.ComputePnl(custody, exitObs)
	if err != nil {
		return nil, err
	}

	profitShare, err := CheckedMulDiv(full.ProfitUsd, params.SizeUsdToClose, p.SizeUsd)
	if err != nil {
		return nil, err
	}
	lossShare, err := CheckedMulDiv(full.LossUsd, params.SizeUsdToClose, p.SizeUsd)
	if err != nil {
		return nil, err
	}
	feeShare, err := CheckedMulDivUp(full.FeeUsd, params.SizeUsdToClose, p.SizeUsd)
	if err != nil {
		return nil, err
	}
	collateralShare, err := CheckedMulDiv(p.CollateralAmount, params.SizeUsdToClose, p.SizeUsd)
	if err != nil {
		return nil, err
	}
	lockedShare, err := CheckedMulDiv(p.LockedAmount, params.SizeUsdToClose, p.SizeUsd)
	if err != nil {
		return nil, err
	}

	netUsd := new(big.Int).Sub(profitShare, lossShare)
	netUsd.Sub(netUsd, feeShare)

	collateralOutTokens := new(big.Int).Set(collateralShare)
	if netUsd.Sign() >= 0 {
		profitTokens, err := CheckedMulDiv(netUsd, Scale10(collateralCustody.Decimals), collateralObs.PriceScaled)
		if err != nil {
			return nil, err
		}
		collateralOutTokens.Add(collateralOutTokens, profitTokens)
	} else {
		lossTokens, err := CheckedMulDiv(new(big.Int).Neg(netUsd), Scale10(collateralCustody.Decimals), collateralObs.PriceScaled)
		if err != nil {
			return nil, err
		}
		collateralOutTokens.Sub(collateralOutTokens, lossTokens)
		collateralOutTokens = ZeroFloor(collateralOutTokens)
	}

	if err := settlement.Transfer(collateralCustody.TokenMint, vault, p.Owner, collateralOutTokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	if err := collateralCustody.ReleaseCollateral(collateralShare); err != nil {
		return nil, err
	}
	collateralCustody.Assets.Owned = new(big.Int).Sub(collateralCustody.Assets.Owned, collateralOutTokens)
	if err := custody.Unlock(lockedShare); err != nil {
		return nil, err
	}

	remaining := new(big.Int).Sub(p.SizeUsd, params.SizeUsdToClose)
	destroyed := remaining.Sign() == 0
	custody.RecordClose(p.Side, params.SizeUsdToClose, netUsd, destroyed)

	if destroyed {
		p.SizeUsd = big.NewInt(0)
	} else {
		p.SizeUsd = remaining
		p.CollateralAmount = new(big.Int).Sub(p.CollateralAmount, collateralShare)
		p.CollateralUsd, err = collateralCustody.TokenToUsd(p.CollateralAmount, collateralObs.PriceScaled)
		if err != nil {
			return nil, err
		}
		p.LockedAmount = new(big.Int).Sub(p.LockedAmount, lockedShare)
		p.CumulativeInterestSnapshot = new(big.Int).Set(custody.Borrow.CumulativeInterest)
	}
	p.UpdateTime = params.Now

	return &CloseResult{RealizedProfitUsd: profitShare, RealizedLossUsd: lossShare, FeeUsd: feeShare, Closed: destroyed}, nil
}

// LiquidationState is the tagged outcome of GetLiquidationState.
type LiquidationState uint8

const (
	LiquidationNone LiquidationState = iota
	LiquidationCanBeLiquidated
	LiquidationMustBeLiquidated
)

// GetLiquidationState evaluates spec section 4.5.4's margin-fraction
// bands for the position's current price.
func (p *Position) GetLiquidationState(custody *Custody, exitObs OraclePrice) (LiquidationState, error) {
	pnl, err := p.ComputePnl(custody, exitObs)
	if err != nil {
		return LiquidationNone, err
	}
	remaining := new(big.Int).Add(p.CollateralUsd, pnl.ProfitUsd)
	remaining.Sub(remaining, pnl.LossUsd)
	remaining.Sub(remaining, pnl.FeeUsd)

	marginFractionBps, err := CheckedMulDiv(ZeroFloor(remaining), big.NewInt(bpsDenominator), p.SizeUsd)
	if err != nil {
		return LiquidationNone, err
	}
	mf := marginFractionBps.Int64()

	switch {
	case mf >= custody.Pricing.MinCollateralBps+custody.Pricing.LiquidationFeeBps:
		return LiquidationNone, nil
	case mf >= custody.Pricing.MinCollateralBps:
		return LiquidationCanBeLiquidated, nil
	default:
		return LiquidationMustBeLiquidated, nil
	}
}

// GetLiquidationPrice solves for the exit price at which the margin
// fraction hits custody.Pricing.MinCollateralBps, by monotonic
// bisection over [1, 10*entry] for longs and [entry/10, entry] for
// shorts. Once the bracket has narrowed to one unit of scaled price it
// returns the lower endpoint; if that has not happened within 64
// iterations it returns the lower endpoint together with
// ErrApproximateLiquidationPrice.
func (p *Position) GetLiquidationPrice(custody *Custody) (*big.Int, error) {
	lo, hi := new(big.Int), new(big.Int)
	if p.Side == Long {
		lo.SetInt64(1)
		hi.Mul(p.Price, big.NewInt(10))
	} else {
		lo.Div(p.Price, big.NewInt(10))
		hi.Set(p.Price)
	}

	marginAt := func(exitPrice *big.Int) (int64, error) {
		obs := OraclePrice{PriceScaled: exitPrice, ConfidenceScaled: big.NewInt(0)}
		pnl, err := p.ComputePnl(custody, obs)
		if err != nil {
			return 0, err
		}
		remaining := new(big.Int).Add(p.CollateralUsd, pnl.ProfitUsd)
		remaining.Sub(remaining, pnl.LossUsd)
		remaining.Sub(remaining, pnl.FeeUsd)
		mf, err := CheckedMulDiv(ZeroFloor(remaining), big.NewInt(bpsDenominator), p.SizeUsd)
		if err != nil {
			return 0, err
		}
		return mf.Int64(), nil
	}

	threshold := custody.Pricing.MinCollateralBps

	for i := 0; i < 64; i++ {
		if new(big.Int).Sub(hi, lo).Cmp(big.NewInt(1)) <= 0 {
			return lo, nil
		}
		mid := new(big.Int).Add(lo, hi)
		mid.Quo(mid, big.NewInt(2))

		mf, err := marginAt(mid)
		if err != nil {
			return nil, err
		}

		// margin fraction is monotone in exit price (increasing for
		// longs, decreasing for shorts): narrow the bracket toward
		// the threshold crossing.
		if p.Side == Long {
			if mf >= threshold {
				hi = mid
			} else {
				lo = mid
			}
		} else {
			if mf >= threshold {
				lo = mid
			} else {
				hi = mid
			}
		}
	}

	return lo, fmt.Errorf("%w", ErrApproximateLiquidationPrice)
}

// LiquidateParams carries the caller-initiated liquidation inputs.
type LiquidateParams struct {
	Liquidator          common.Address
	LiquidatorRewardBps int64
	Now                 int64
}

// LiquidateResult reports what a liquidation paid out.
type LiquidateResult struct {
	LiquidatorRewardAmount *big.Int
	RealizedProfitUsd      *big.Int
	RealizedLossUsd        *big.Int
}

// Liquidate force-closes the entire position if and only if its
// liquidation state is not None, paying LiquidatorRewardBps of the
// seized collateral to the caller and the remainder to the custody's
// protocol fees (the teacher's dex/liquidation.go split, adapted to
// this market's single-collateral-custody model — see SPEC_FULL.md
// section 11).
func (p *Position) Liquidate(custody, collateralCustody *Custody, exitObs, collateralObs OraclePrice, settlement Settlement, vault common.Address, perms Permissions, params LiquidateParams) (*LiquidateResult, error) {
	if !perms.AllowLiquidatePosition {
		return nil, fmt.Errorf("%w: liquidate_position", ErrOperationDisabled)
	}
	state, err := p.GetLiquidationState(custody, exitObs)
	if err != nil {
		return nil, err
	}
	if state == LiquidationNone {
		return nil, ErrNotLiquidatable
	}

	closeRes, err := p.Close(custody, collateralCustody, exitObs, collateralObs, settlement, vault, Permissions{AllowClosePosition: true}, CloseParams{
		PriceLimit:     extremeLimit(p.Side),
		SizeUsdToClose: p.SizeUsd,
		Now:            params.Now,
	})
	if err != nil {
		return nil, err
	}

	remainingUsd := new(big.Int).Sub(closeRes.RealizedProfitUsd, closeRes.RealizedLossUsd)
	remainingUsd = ZeroFloor(remainingUsd)
	rewardAmount := big.NewInt(0)
	if remainingUsd.Sign() > 0 {
		rewardUsd, err := CheckedMulDiv(remainingUsd, big.NewInt(params.LiquidatorRewardBps), big.NewInt(bpsDenominator))
		if err != nil {
			return nil, err
		}
		rewardAmount, err = CheckedMulDiv(rewardUsd, Scale10(collateralCustody.Decimals), collateralObs.PriceScaled)
		if err != nil {
			return nil, err
		}
		if rewardAmount.Sign() > 0 {
			if err := settlement.Transfer(collateralCustody.TokenMint, vault, params.Liquidator, rewardAmount); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
			}
		}
	}

	return &LiquidateResult{
		LiquidatorRewardAmount: rewardAmount,
		RealizedProfitUsd:      closeRes.RealizedProfitUsd,
		RealizedLossUsd:        closeRes.RealizedLossUsd,
	}, nil
}

// extremeLimit returns a price_limit that can never trip the slippage
// gate, for the forced-close step of a liquidation.
func extremeLimit(side Side) *big.Int {
	if side == Long {
		return big.NewInt(0)
	}
	return new(big.Int).Lsh(big.NewInt(1), 200)
}
