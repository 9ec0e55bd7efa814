// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"testing"

	"github.com/luxfi/geth/common"
)

func TestPositionKey_DeterministicAndDistinct(t *testing.T) {
	owner := common.HexToAddress("0xA1")
	pool := common.HexToAddress("0xP1")
	custody := common.HexToAddress("0xC1")

	k1 := PositionKey(owner, pool, custody, 0)
	k2 := PositionKey(owner, pool, custody, 0)
	if k1 != k2 {
		t.Fatal("expected PositionKey to be deterministic for identical inputs")
	}

	k3 := PositionKey(owner, pool, custody, 1)
	if k1 == k3 {
		t.Fatal("expected PositionKey to differ across nonces")
	}
}

func TestCustodyKey_DeterministicAndDistinct(t *testing.T) {
	pool := common.HexToAddress("0xP1")
	mintA := common.HexToAddress("0xC1")
	mintB := common.HexToAddress("0xC2")

	if CustodyKey(pool, mintA) != CustodyKey(pool, mintA) {
		t.Fatal("expected CustodyKey to be deterministic")
	}
	if CustodyKey(pool, mintA) == CustodyKey(pool, mintB) {
		t.Fatal("expected CustodyKey to differ across token mints")
	}
}
