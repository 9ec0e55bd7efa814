// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"sync"

	"github.com/luxfi/geth/common"
)

// Permissions is the set of boolean gates every mutating operation
// checks before it runs, per spec section 4.7. A disabled operation
// returns ErrOperationDisabled rather than silently no-op'ing.
type Permissions struct {
	AllowOpenPosition      bool
	AllowClosePosition     bool
	AllowLiquidatePosition bool
	AllowCollateralChange  bool
	AllowAddLiquidity      bool
	AllowRemoveLiquidity   bool
}

// AllPermissionsEnabled returns a Permissions with every gate open, the
// default state of a freshly initialized pool.
func AllPermissionsEnabled() Permissions {
	return Permissions{
		AllowOpenPosition:      true,
		AllowClosePosition:     true,
		AllowLiquidatePosition: true,
		AllowCollateralChange:  true,
		AllowAddLiquidity:      true,
		AllowRemoveLiquidity:   true,
	}
}

// Multisig gates admin operations (pool creation, custody
// configuration, permission flips) behind an M-of-N quorum of
// authorized addresses, following the pack's threshold-signer model
// (control-center/network-controls/multisig in the wider example
// corpus) adapted to this core's address-identity style: instead of
// verifying detached signatures, each authorized signer calls
// Approve once per instruction and the quorum is reached by distinct
// callers, matching how the teacher's engines key identity off
// common.Address rather than raw public keys.
type Multisig struct {
	mu sync.Mutex

	signers   map[common.Address]bool
	threshold int

	// pending maps an opaque instruction hash to the set of signers
	// that have already approved it.
	pending map[[32]byte]map[common.Address]bool
}

// maxAdmins is spec section 8's ceiling on the multisig signer set.
const maxAdmins = 6

// NewMultisig constructs a quorum gate over signers requiring
// threshold distinct approvals per instruction.
func NewMultisig(signers []common.Address, threshold int) (*Multisig, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: at least one signer required", ErrInvalidConfig)
	}
	if len(signers) > maxAdmins {
		return nil, fmt.Errorf("%w: %d signers exceeds limit %d", ErrTooManyAdmins, len(signers), maxAdmins)
	}
	if threshold <= 0 || threshold > len(signers) {
		return nil, fmt.Errorf("%w: threshold %d invalid for %d signers", ErrInvalidThreshold, threshold, len(signers))
	}
	set := make(map[common.Address]bool, len(signers))
	for _, s := range signers {
		if set[s] {
			return nil, fmt.Errorf("%w: duplicate signer %s", ErrInvalidConfig, s.Hex())
		}
		set[s] = true
	}
	return &Multisig{
		signers:   set,
		threshold: threshold,
		pending:   make(map[[32]byte]map[common.Address]bool),
	}, nil
}

// Approve records signer's approval of instructionHash and reports
// whether the quorum has now been met. A signer approving the same
// instruction twice is rejected with ErrDuplicateSignature.
func (m *Multisig) Approve(instructionHash [32]byte, signer common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.signers[signer] {
		return false, fmt.Errorf("%w: %s is not an authorized signer", ErrNotAdmin, signer.Hex())
	}
	approvals, ok := m.pending[instructionHash]
	if !ok {
		approvals = make(map[common.Address]bool, m.threshold)
		m.pending[instructionHash] = approvals
	}
	if approvals[signer] {
		return false, fmt.Errorf("%w: %s already approved this instruction", ErrDuplicateSignature, signer.Hex())
	}
	approvals[signer] = true
	return len(approvals) >= m.threshold, nil
}

// Clear discards the recorded approvals for instructionHash, for use
// once an instruction has executed or been abandoned.
func (m *Multisig) Clear(instructionHash [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, instructionHash)
}

// Threshold returns the configured quorum size.
func (m *Multisig) Threshold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// IsSigner reports whether addr is an authorized signer.
func (m *Multisig) IsSigner(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signers[addr]
}
