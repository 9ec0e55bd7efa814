// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Settlement is the token-custody boundary the core calls into for
// every balance-moving step of a trade. It must behave atomically: a
// failed Transfer leaves no partial effect, and the caller aborts the
// whole operation on error (spec section 1 treats the concrete
// transfer mechanics as an external collaborator).
type Settlement interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// MemorySettlement is a deterministic in-memory Settlement used by
// tests and by callers that don't yet have a real custody backend
// wired in. Balances are tracked per (asset, owner) with uint256,
// mirroring the teacher's MockStateDB balance ledger.
type MemorySettlement struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*uint256.Int
	// FailTransfers, when true, makes every Transfer fail; tests use
	// it to exercise the SettlementFailed abort path.
	FailTransfers bool
}

// NewMemorySettlement returns an empty ledger.
func NewMemorySettlement() *MemorySettlement {
	return &MemorySettlement{balances: make(map[common.Address]map[common.Address]*uint256.Int)}
}

// Credit seeds owner's balance of asset by amount, for test setup.
func (m *MemorySettlement) Credit(asset, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(asset, owner, amount)
}

// Balance returns owner's current balance of asset.
func (m *MemorySettlement) Balance(asset, owner common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.get(asset, owner)
	return bal.ToBig()
}

func (m *MemorySettlement) get(asset, owner common.Address) *uint256.Int {
	byOwner, ok := m.balances[asset]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		m.balances[asset] = byOwner
	}
	bal, ok := byOwner[owner]
	if !ok {
		bal = uint256.NewInt(0)
		byOwner[owner] = bal
	}
	return bal
}

func (m *MemorySettlement) add(asset, owner common.Address, amount *big.Int) {
	bal := m.get(asset, owner)
	delta, overflow := uint256.FromBig(amount)
	if overflow {
		panic("amount does not fit uint256")
	}
	bal.Add(bal, delta)
}

// Transfer moves amount of asset from -> to, failing with
// ErrSettlementFailed if the sender lacks sufficient balance or
// FailTransfers has been set for testing.
func (m *MemorySettlement) Transfer(asset, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailTransfers {
		return fmt.Errorf("%w: settlement forced to fail", ErrSettlementFailed)
	}

	delta, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("%w: amount does not fit uint256", ErrSettlementFailed)
	}

	fromBal := m.get(asset, from)
	if fromBal.Cmp(delta) < 0 {
		return fmt.Errorf("%w: insufficient balance for %s", ErrSettlementFailed, from.Hex())
	}

	fromBal.Sub(fromBal, delta)
	toBal := m.get(asset, to)
	toBal.Add(toBal, delta)
	return nil
}
