// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"
)

// Gateway is the single dispatch surface external callers use (spec
// section 2 item 8). It holds no trading logic of its own: every
// method validates permissions or routes through the admin quorum,
// then delegates to Pool/Custody/Position/FixedMath.
type Gateway struct {
	mu sync.Mutex

	Pools       map[string]*Pool
	Multisig    *Multisig
	Permissions Permissions
	OracleView  *OracleView
	Settlement  Settlement
	Vault       common.Address
	Logger      log.Logger
}

// NewGateway constructs a Gateway with every trading permission
// enabled and no pools registered yet, matching the teacher's
// pattern of a default-open config with an admin quorum layered on
// top (threshold/client.go's NewThresholdClient uses the same
// default-logger convention).
func NewGateway(ms *Multisig, oracles *OracleView, settlement Settlement, vault common.Address) *Gateway {
	return &Gateway{
		Pools:       make(map[string]*Pool),
		Multisig:    ms,
		Permissions: AllPermissionsEnabled(),
		OracleView:  oracles,
		Settlement:  settlement,
		Vault:       vault,
		Logger:      log.NewTestLogger(log.InfoLevel),
	}
}

// instructionHash derives the accumulated-instruction-hash the
// Multisig gate compares approvals against, per spec section 4.7: a
// deterministic digest of the admin operation's name and arguments.
func instructionHash(op string, fields ...[]byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(op))
	for _, f := range fields {
		h.Write(f)
	}
	var out [32]byte
	h.Digest().Read(out[:])
	return out
}

// AddPool registers a new, empty pool once threshold distinct signers
// have approved the same (name) instruction. It returns (pool, true,
// nil) only on the approval that reaches quorum; earlier approvals
// return (nil, false, nil).
func (g *Gateway) AddPool(signer common.Address, name string) (*Pool, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.Pools[name]; exists {
		return nil, false, fmt.Errorf("%w: %s", ErrPoolExists, name)
	}

	hash := instructionHash("add_pool", []byte(name))
	quorum, err := g.Multisig.Approve(hash, signer)
	if err != nil {
		return nil, false, err
	}
	if !quorum {
		return nil, false, nil
	}
	g.Multisig.Clear(hash)

	pool := NewPool(name)
	g.Pools[name] = pool
	g.Logger.Info("pool created", "name", name)
	return pool, true, nil
}

// AddCustody registers a custody on an existing pool once quorum is
// reached on the (poolName, mint) instruction.
func (g *Gateway) AddCustody(signer common.Address, poolName string, mint common.Address, custody *Custody) (bool, error) {
	g.mu.Lock()
	pool, ok := g.Pools[poolName]
	g.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}

	hash := instructionHash("add_custody", []byte(poolName), mint[:])
	quorum, err := g.Multisig.Approve(hash, signer)
	if err != nil {
		return false, err
	}
	if !quorum {
		return false, nil
	}
	g.Multisig.Clear(hash)

	if err := pool.AddCustody(mint, custody); err != nil {
		return false, err
	}
	g.Logger.Info("custody added", "pool", poolName, "mint", mint.Hex())
	return true, nil
}

// SetPermissions flips the trading-op gates once quorum is reached on
// the (permissions) instruction, matching spec section 4.7's boolean
// flag surface.
func (g *Gateway) SetPermissions(signer common.Address, next Permissions) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var buf [6]byte
	putBool := func(i int, b bool) {
		if b {
			buf[i] = 1
		}
	}
	putBool(0, next.AllowOpenPosition)
	putBool(1, next.AllowClosePosition)
	putBool(2, next.AllowLiquidatePosition)
	putBool(3, next.AllowCollateralChange)
	putBool(4, next.AllowAddLiquidity)
	putBool(5, next.AllowRemoveLiquidity)

	hash := instructionHash("set_permissions", buf[:])
	quorum, err := g.Multisig.Approve(hash, signer)
	if err != nil {
		return false, err
	}
	if !quorum {
		return false, nil
	}
	g.Multisig.Clear(hash)

	g.Permissions = next
	g.Logger.Info("permissions updated")
	return true, nil
}

func (g *Gateway) poolCustody(poolName string, mint common.Address) (*Pool, *Custody, error) {
	g.mu.Lock()
	pool, ok := g.Pools[poolName]
	g.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}
	custody, err := pool.Custody(mint)
	if err != nil {
		return nil, nil, err
	}
	return pool, custody, nil
}

// OpenPosition dispatches to Position.OpenPosition after resolving
// both custodies and reading both oracles fresh.
func (g *Gateway) OpenPosition(poolName string, mint, collateralMint, expectedCollateralMint common.Address, now int64, params OpenParams) (*Position, error) {
	_, custody, err := g.poolCustody(poolName, mint)
	if err != nil {
		return nil, err
	}
	_, collateralCustody, err := g.poolCustody(poolName, collateralMint)
	if err != nil {
		return nil, err
	}

	markObs, err := g.OracleView.Read(custody.Oracle, now)
	if err != nil {
		return nil, err
	}
	collateralObs, err := g.OracleView.Read(collateralCustody.Oracle, now)
	if err != nil {
		return nil, err
	}

	poolAddr := poolIdentity(poolName)
	params.Now = now
	pos, err := OpenPosition(poolAddr, mint, collateralMint, expectedCollateralMint, custody, collateralCustody, markObs, collateralObs, g.Settlement, g.Vault, g.Permissions, params)
	if err != nil {
		return nil, err
	}
	g.Logger.Info("position opened", "pool", poolName, "owner", params.Owner.Hex(), "size_usd", pos.SizeUsd.String())
	return pos, nil
}

// ClosePosition dispatches to Position.Close.
func (g *Gateway) ClosePosition(poolName string, mint, collateralMint common.Address, pos *Position, now int64, params CloseParams) (*CloseResult, error) {
	_, custody, err := g.poolCustody(poolName, mint)
	if err != nil {
		return nil, err
	}
	_, collateralCustody, err := g.poolCustody(poolName, collateralMint)
	if err != nil {
		return nil, err
	}
	exitObs, err := g.OracleView.Read(custody.Oracle, now)
	if err != nil {
		return nil, err
	}
	collateralObs, err := g.OracleView.Read(collateralCustody.Oracle, now)
	if err != nil {
		return nil, err
	}

	params.Now = now
	res, err := pos.Close(custody, collateralCustody, exitObs, collateralObs, g.Settlement, g.Vault, g.Permissions, params)
	if err != nil {
		return nil, err
	}
	g.Logger.Info("position closed", "pool", poolName, "closed", res.Closed)
	return res, nil
}

// LiquidatePosition dispatches to Position.Liquidate.
func (g *Gateway) LiquidatePosition(poolName string, mint, collateralMint common.Address, pos *Position, now int64, liquidatorRewardBps int64, liquidator common.Address) (*LiquidateResult, error) {
	_, custody, err := g.poolCustody(poolName, mint)
	if err != nil {
		return nil, err
	}
	_, collateralCustody, err := g.poolCustody(poolName, collateralMint)
	if err != nil {
		return nil, err
	}
	exitObs, err := g.OracleView.Read(custody.Oracle, now)
	if err != nil {
		return nil, err
	}
	collateralObs, err := g.OracleView.Read(collateralCustody.Oracle, now)
	if err != nil {
		return nil, err
	}

	res, err := pos.Liquidate(custody, collateralCustody, exitObs, collateralObs, g.Settlement, g.Vault, g.Permissions, LiquidateParams{
		Liquidator:          liquidator,
		LiquidatorRewardBps: liquidatorRewardBps,
		Now:                 now,
	})
	if err != nil {
		return nil, err
	}
	g.Logger.Info("position liquidated", "pool", poolName, "liquidator", liquidator.Hex())
	return res, nil
}

// GetPnl is a read-only dispatch to Position.ComputePnl.
func (g *Gateway) GetPnl(poolName string, mint common.Address, pos *Position, now int64) (PnlResult, error) {
	_, custody, err := g.poolCustody(poolName, mint)
	if err != nil {
		return PnlResult{}, err
	}
	exitObs, err := g.OracleView.Read(custody.Oracle, now)
	if err != nil {
		return PnlResult{}, err
	}
	return pos.ComputePnl(custody, exitObs)
}

// GetLiquidationPrice is a read-only dispatch to
// Position.GetLiquidationPrice.
func (g *Gateway) GetLiquidationPrice(poolName string, mint common.Address, pos *Position) (*big.Int, error) {
	_, custody, err := g.poolCustody(poolName, mint)
	if err != nil {
		return nil, err
	}
	return pos.GetLiquidationPrice(custody)
}

// AddLiquidity dispatches to Pool.AddLiquidity after checking the
// permission flag.
func (g *Gateway) AddLiquidity(poolName string, depositor common.Address, token common.Address, amount, tokenPriceScaled *big.Int, tokenDecimals uint8, aumUsdBeforeDeposit *big.Int) (*big.Int, error) {
	if !g.Permissions.AllowAddLiquidity {
		return nil, fmt.Errorf("%w: add_liquidity", ErrOperationDisabled)
	}
	g.mu.Lock()
	pool, ok := g.Pools[poolName]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}
	return pool.AddLiquidity(g.Settlement, depositor, g.Vault, token, amount, tokenPriceScaled, tokenDecimals, aumUsdBeforeDeposit)
}

// RemoveLiquidity dispatches to Pool.RemoveLiquidity after checking
// the permission flag.
func (g *Gateway) RemoveLiquidity(poolName string, withdrawer common.Address, token common.Address, lpTokenAmount, tokenPriceScaled *big.Int, tokenDecimals uint8, aumUsdBeforeWithdrawal *big.Int) (*big.Int, error) {
	if !g.Permissions.AllowRemoveLiquidity {
		return nil, fmt.Errorf("%w: remove_liquidity", ErrOperationDisabled)
	}
	g.mu.Lock()
	pool, ok := g.Pools[poolName]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}
	return pool.RemoveLiquidity(g.Settlement, withdrawer, g.Vault, token, lpTokenAmount, tokenPriceScaled, tokenDecimals, aumUsdBeforeWithdrawal)
}

// poolIdentity derives a stable pseudo-address for a pool name, used
// as the Position.Pool identity field. Pools are looked up by name in
// this in-memory core; a real deployment would use the pool's actual
// on-chain address instead.
func poolIdentity(name string) common.Address {
	h := blake3.New()
	h.Write([]byte("pool"))
	h.Write([]byte(name))
	var out common.Hash
	h.Digest().Read(out[:])
	var addr common.Address
	copy(addr[:], out[:common.AddressLength])
	return addr
}
