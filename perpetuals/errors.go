// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import "errors"

// Validation errors
var (
	ErrInvalidPower  = errors.New("power must be in [1,5]")
	ErrInvalidConfig = errors.New("invalid custody configuration")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidSide   = errors.New("invalid position side")
)

// Permission errors
var (
	ErrOperationDisabled = errors.New("operation disabled by permissions")
	ErrNotAdmin          = errors.New("signer is not an admin")
	ErrDuplicateSignature = errors.New("admin already signed this instruction")
	ErrInstructionMismatch = errors.New("instruction does not match accumulator")
	ErrBelowThreshold    = errors.New("signature count below multisig threshold")
)

// Market errors
var (
	ErrStaleOraclePrice      = errors.New("oracle price is stale")
	ErrUnsupportedOracle     = errors.New("oracle variant mismatch")
	ErrPriceConfidenceTooWide = errors.New("oracle confidence interval too wide")
	ErrMaxPriceSlippage      = errors.New("price exceeds slippage limit")
)

// Risk errors
var (
	ErrLeverageTooHigh       = errors.New("leverage exceeds the allowed maximum")
	ErrInsufficientLiquidity = errors.New("custody lacks liquidity to lock the payoff")
	ErrNotLiquidatable       = errors.New("position is not liquidatable")
)

// Arithmetic errors
var (
	ErrMathOverflow   = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// Settlement errors
var (
	ErrSettlementFailed = errors.New("settlement transfer rejected")
)

// Internal errors/warnings
var (
	ErrApproximateLiquidationPrice = errors.New("liquidation price is approximate: bisection did not converge")
	ErrStateCorruption             = errors.New("state corruption: halting until admin intervention")
)

// Lifecycle/registration errors, mirroring the teacher's flat Err* blocks.
var (
	ErrMultisigAlreadyInit = errors.New("multisig already initialized")
	ErrInvalidThreshold    = errors.New("invalid multisig threshold")
	ErrPoolExists          = errors.New("pool already exists")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrCustodyExists       = errors.New("custody already exists")
	ErrCustodyNotFound     = errors.New("custody not found")
	ErrTooManyCustodies    = errors.New("pool already has the maximum number of custodies")
	ErrTooManyAdmins       = errors.New("admin set exceeds the maximum size")
	ErrPositionNotFound    = errors.New("position not found")
)
