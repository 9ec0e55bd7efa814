// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"encoding/binary"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// PositionKey derives a collision-resistant identity for a position
// from (owner, pool, custody, nonce), the same blake3-over-concatenated-
// fields technique the teacher uses for its storage keys
// (dex/pool_manager.go's makeStorageKey, dex/hooks.go, dex/types.go).
func PositionKey(owner, pool, custody common.Address, nonce uint64) common.Hash {
	h := blake3.New()
	h.Write(owner[:])
	h.Write(pool[:])
	h.Write(custody[:])
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h.Write(nonceBytes[:])
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// CustodyKey derives a collision-resistant identity for a custody from
// (pool, tokenMint), following the same technique.
func CustodyKey(pool, tokenMint common.Address) common.Hash {
	h := blake3.New()
	h.Write(pool[:])
	h.Write(tokenMint[:])
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}
