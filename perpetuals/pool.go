// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// powerLeverageCap is one row of the spec section 4.6 table: the
// power-k-specific ceiling a custody's own leverage defaults are
// additionally clamped to.
type powerLeverageCap struct {
	maxInitialBps int64
	maxBps        int64
}

// powerLeverageCaps is keyed by k (power 1 has no cap of its own — it
// defers entirely to the custody's configured bounds).
var powerLeverageCaps = map[int]powerLeverageCap{
	2: {maxInitialBps: 200_000, maxBps: 400_000},
	3: {maxInitialBps: 100_000, maxBps: 200_000},
	4: {maxInitialBps: 50_000, maxBps: 100_000},
	5: {maxInitialBps: 30_000, maxBps: 60_000},
}

// effectiveLeverageCaps returns the custody's configured bounds
// clamped by the power-k table, taking the min of each per spec
// section 4.6.
func effectiveLeverageCaps(k int, custody PricingParams) (maxInitialBps, maxBps int64, err error) {
	if k < 1 || k > 5 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidPower, k)
	}
	maxInitialBps, maxBps = custody.MaxInitialLeverageBps, custody.MaxLeverageBps
	if cap, ok := powerLeverageCaps[k]; ok {
		if cap.maxInitialBps < maxInitialBps {
			maxInitialBps = cap.maxInitialBps
		}
		if cap.maxBps < maxBps {
			maxBps = cap.maxBps
		}
	}
	return maxInitialBps, maxBps, nil
}

// CheckInitialLeverage enforces initial_leverage_bps <= power_max_initial
// at position open.
func CheckInitialLeverage(k int, initialLeverageBps int64, custody PricingParams) error {
	maxInitialBps, _, err := effectiveLeverageCaps(k, custody)
	if err != nil {
		return err
	}
	if initialLeverageBps < custody.MinInitialLeverageBps {
		return fmt.Errorf("%w: initial leverage %d below minimum %d", ErrLeverageTooHigh, initialLeverageBps, custody.MinInitialLeverageBps)
	}
	if initialLeverageBps > maxInitialBps {
		return fmt.Errorf("%w: initial leverage %d exceeds power-%d max %d", ErrLeverageTooHigh, initialLeverageBps, k, maxInitialBps)
	}
	return nil
}

// CheckCurrentLeverage enforces current_leverage_bps <= power_max for
// any operation other than open (e.g. a collateral withdrawal that
// would raise leverage).
func CheckCurrentLeverage(k int, currentLeverageBps int64, custody PricingParams) error {
	_, maxBps, err := effectiveLeverageCaps(k, custody)
	if err != nil {
		return err
	}
	if currentLeverageBps > maxBps {
		return fmt.Errorf("%w: current leverage %d exceeds power-%d max %d", ErrLeverageTooHigh, currentLeverageBps, k, maxBps)
	}
	return nil
}

// Pool aggregates the custodies that back one trading venue, exposing
// the pool-wide reads spec section 4.6 names. Mutating operations
// (open/close/liquidate) act on individual Custody/Position values
// directly; Pool itself is read-mostly bookkeeping plus the
// liquidity-provider ledger.
type Pool struct {
	mu sync.Mutex

	Name      string
	Custodies map[common.Address]*Custody

	// AumUsd is not stored independently; GetAssetsUnderManagement
	// recomputes it from custody state and the supplied per-custody
	// oracle reads and unrealized PnL, per spec section 4.6.
	LpTokenSupply *big.Int
}

// NewPool constructs an empty pool.
func NewPool(name string) *Pool {
	return &Pool{
		Name:          name,
		Custodies:     make(map[common.Address]*Custody),
		LpTokenSupply: big.NewInt(0),
	}
}

// maxCustodies is spec section 8's per-pool custody ceiling.
const maxCustodies = 8

// AddCustody registers a new custody under mint, failing if one is
// already registered there or the pool is already at maxCustodies.
func (p *Pool) AddCustody(mint common.Address, custody *Custody) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.Custodies[mint]; exists {
		return fmt.Errorf("%w: %s", ErrCustodyExists, mint.Hex())
	}
	if len(p.Custodies) >= maxCustodies {
		return fmt.Errorf("%w: limit %d", ErrTooManyCustodies, maxCustodies)
	}
	p.Custodies[mint] = custody
	return nil
}

// Custody looks up a registered custody by token mint.
func (p *Pool) Custody(mint common.Address) (*Custody, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.Custodies[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCustodyNotFound, mint.Hex())
	}
	return c, nil
}

// CustodyAumInput is one custody's contribution to an AUM
// computation: its current price, and the unrealized PnL of its open
// longs/shorts at that price.
type CustodyAumInput struct {
	Mint                   common.Address
	PriceScaled            *big.Int
	UnrealizedLongPnlUsd   *big.Int // net of profit-loss, may be negative
	UnrealizedShortPnlUsd  *big.Int
}

// GetAssetsUnderManagement aggregates, for every custody, owned value
// converted to USD plus unrealized short PnL minus unrealized long
// PnL (the pool owes long-side profit, and benefits from short-side
// losses), per spec section 4.6.
func (p *Pool) GetAssetsUnderManagement(inputs []CustodyAumInput) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	aum := big.NewInt(0)
	for _, in := range inputs {
		custody, ok := p.Custodies[in.Mint]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCustodyNotFound, in.Mint.Hex())
		}
		ownedUsd, err := custody.TokenToUsd(custody.Assets.Owned, in.PriceScaled)
		if err != nil {
			return nil, err
		}
		aum.Add(aum, ownedUsd)
		aum.Add(aum, in.UnrealizedShortPnlUsd)
		aum.Sub(aum, in.UnrealizedLongPnlUsd)
	}
	return ZeroFloor(aum), nil
}

// AddLiquidity credits depositor with LP tokens minted proportional to
// the USD value deposited against the pool's current AUM (1:1 at
// genesis), and records the deposit via settlement.
func (p *Pool) AddLiquidity(settlement Settlement, depositor, vault common.Address, token common.Address, amount, tokenPriceScaled *big.Int, tokenDecimals uint8, aumUsdBeforeDeposit *big.Int) (mintedLpTokens *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: add_liquidity amount must be positive", ErrInvalidAmount)
	}
	depositUsd, err := CheckedMulDiv(amount, tokenPriceScaled, Scale10(tokenDecimals))
	if err != nil {
		return nil, err
	}

	if p.LpTokenSupply.Sign() == 0 || aumUsdBeforeDeposit.Sign() == 0 {
		mintedLpTokens = new(big.Int).Set(depositUsd)
	} else {
		mintedLpTokens, err = CheckedMulDiv(depositUsd, p.LpTokenSupply, aumUsdBeforeDeposit)
		if err != nil {
			return nil, err
		}
	}

	if err := settlement.Transfer(token, depositor, vault, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	p.LpTokenSupply = new(big.Int).Add(p.LpTokenSupply, mintedLpTokens)
	return mintedLpTokens, nil
}

// RemoveLiquidity burns lpTokenAmount and pays the depositor their
// proportional share of the pool's AUM in token, valued at
// tokenPriceScaled.
func (p *Pool) RemoveLiquidity(settlement Settlement, withdrawer, vault common.Address, token common.Address, lpTokenAmount *big.Int, tokenPriceScaled *big.Int, tokenDecimals uint8, aumUsdBeforeWithdrawal *big.Int) (paidOutTokens *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lpTokenAmount.Sign() <= 0 || lpTokenAmount.Cmp(p.LpTokenSupply) > 0 {
		return nil, fmt.Errorf("%w: remove_liquidity amount out of range", ErrInvalidAmount)
	}
	shareUsd, err := CheckedMulDiv(aumUsdBeforeWithdrawal, lpTokenAmount, p.LpTokenSupply)
	if err != nil {
		return nil, err
	}
	paidOutTokens, err = CheckedMulDiv(shareUsd, Scale10(tokenDecimals), tokenPriceScaled)
	if err != nil {
		return nil, err
	}
	if err := settlement.Transfer(token, vault, withdrawer, paidOutTokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	p.LpTokenSupply = new(big.Int).Sub(p.LpTokenSupply, lpTokenAmount)
	return paidOutTokens, nil
}
