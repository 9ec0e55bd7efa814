// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package perpetuals implements the deterministic pricing, margin, and
// position-lifecycle core for a power-perpetuals market: a perpetual
// future whose payoff is the entry/exit price ratio raised to an
// integer exponent k rather than the linear ratio itself.
//
// The package is organized leaves-first, mirroring the data flow of a
// trade: FixedMath underlies everything, OracleView and Pricing turn a
// raw price feed into a tradable price, Custody tracks per-asset
// configuration and counters, Position is the per-trade state machine,
// Pool aggregates custodies pool-wide, Admin gates mutating operations,
// and Gateway is the narrow dispatch surface external callers use.
package perpetuals
