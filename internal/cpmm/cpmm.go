// Package cpmm implements constant-product market maker (CPMM) pricing
// for two-asset liquidity pools.
//
// The constant-product rule keeps reserveA * reserveB non-decreasing
// across trades and provides:
//   - A swap price determined purely by the current reserves
//   - A geometric-mean bootstrap that makes the initial share price
//     independent of the deposit ratio
//   - Fees that accrue into reserves for the benefit of liquidity providers
//
// All quantities are unsigned 256-bit integers (holiman/uint256) — never
// float64 for money. Every division floors, and every rounding decision
// favors the pool: minted shares, redemption amounts, and swap outputs
// round down.
//
// The package is stateless — reserves and share supply are passed as
// arguments, not stored.
package cpmm

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidFee is returned when the fee is outside [0, 10000).
	ErrInvalidFee = errors.New("cpmm: fee must be in [0, 10000)")

	// ErrInsufficientLiquidityMinted is returned when a deposit would
	// mint zero shares (zero amounts, or a geometric mean that floors
	// to nothing).
	ErrInsufficientLiquidityMinted = errors.New("cpmm: insufficient liquidity minted")

	// ErrInsufficientWithdrawalAmount is returned when a redemption is
	// so small that it floors to zero on either side.
	ErrInsufficientWithdrawalAmount = errors.New("cpmm: insufficient withdrawal amount")

	// ErrInsufficientOutputAmount is returned when a swap output
	// computes to zero (dust trade).
	ErrInsufficientOutputAmount = errors.New("cpmm: insufficient output amount")

	// ErrValueOverflow is returned when an intermediate product exceeds
	// 256 bits. Callers treat this as a rejected operation, not a panic.
	ErrValueOverflow = errors.New("cpmm: arithmetic overflow")
)

// FeeScale is the denominator of the fee rate: a fee of 300 takes
// 300/10000 (3%) of the swap input. The scale is parts-per-10000,
// i.e. hundredths of a percent.
const FeeScale = 10000

// Curve prices deposits, redemptions, and swaps for one fee tier.
type Curve struct {
	feeBps uint64
}

// NewCurve creates a pricing curve with the given fee rate on the
// FeeScale (parts-per-10000) scale.
func NewCurve(feeBps uint64) (*Curve, error) {
	if feeBps >= FeeScale {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFee, feeBps)
	}
	return &Curve{feeBps: feeBps}, nil
}

// FeeBps returns the fee rate in parts-per-10000.
func (c *Curve) FeeBps() uint64 {
	return c.feeBps
}

// SharesForDeposit computes the liquidity shares to mint for depositing
// (amountA, amountB) into a pool holding (reserveA, reserveB) with the
// given share supply.
//
// First deposit (supply == 0):
//
//	shares = floor(sqrt(amountA * amountB))
//
// Subsequent deposits:
//
//	shares = min(floor(amountA * supply / reserveA),
//	             floor(amountB * supply / reserveB))
//
// Taking the minimum credits a depositor only for the limiting side when
// the deposit ratio differs from the reserve ratio. The excess of the
// non-limiting side is NOT refunded — the pool books the full stated
// amounts. See DESIGN.md for the rationale of keeping this behavior.
func (c *Curve) SharesForDeposit(amountA, amountB, reserveA, reserveB, supply *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(amountA, amountB)
		if overflow {
			return nil, fmt.Errorf("%w: bootstrap product %s * %s", ErrValueOverflow, amountA.Dec(), amountB.Dec())
		}
		shares := new(uint256.Int).Sqrt(product)
		if shares.IsZero() {
			return nil, fmt.Errorf("%w: deposit (%s, %s)", ErrInsufficientLiquidityMinted, amountA.Dec(), amountB.Dec())
		}
		return shares, nil
	}

	// Invariant: supply > 0 implies both reserves > 0.
	sharesA, overflowA := new(uint256.Int).MulDivOverflow(amountA, supply, reserveA)
	sharesB, overflowB := new(uint256.Int).MulDivOverflow(amountB, supply, reserveB)
	if overflowA || overflowB {
		return nil, fmt.Errorf("%w: deposit (%s, %s)", ErrValueOverflow, amountA.Dec(), amountB.Dec())
	}

	shares := sharesA
	if sharesB.Lt(shares) {
		shares = sharesB
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit (%s, %s)", ErrInsufficientLiquidityMinted, amountA.Dec(), amountB.Dec())
	}
	return shares.Clone(), nil
}

// RedeemAmounts computes the pro-rata redemption for burning `shares`
// against the current reserves, before the burn mutates the supply:
//
//	amountA = floor(shares * reserveA / supply)
//	amountB = floor(shares * reserveB / supply)
//
// Fails if either side floors to zero, guarding against redemptions
// that would burn shares while returning nothing.
func (c *Curve) RedeemAmounts(shares, reserveA, reserveB, supply *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	amountA, overflowA := new(uint256.Int).MulDivOverflow(shares, reserveA, supply)
	amountB, overflowB := new(uint256.Int).MulDivOverflow(shares, reserveB, supply)
	if overflowA || overflowB {
		return nil, nil, fmt.Errorf("%w: redeem %s shares", ErrValueOverflow, shares.Dec())
	}
	if amountA.IsZero() || amountB.IsZero() {
		return nil, nil, fmt.Errorf("%w: %s shares redeem to (%s, %s)",
			ErrInsufficientWithdrawalAmount, shares.Dec(), amountA.Dec(), amountB.Dec())
	}
	return amountA, amountB, nil
}

// AmountOut computes the swap output for a given input under the
// fee-on-input constant-product formula:
//
//	amountInWithFee = floor(amountIn * (10000 - fee) / 10000)
//	amountOut       = floor(amountInWithFee * reserveOut /
//	                        (reserveIn + amountInWithFee))
//
// reserveIn and reserveOut are the pre-trade reserves. The formula
// guarantees reserveIn' * reserveOut' >= reserveIn * reserveOut, strictly
// when a fee is charged — the economic safety net for every trade.
func (c *Curve) AmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	feeMul := uint256.NewInt(FeeScale - c.feeBps)
	feeDen := uint256.NewInt(FeeScale)

	withFee, overflow := new(uint256.Int).MulDivOverflow(amountIn, feeMul, feeDen)
	if overflow {
		return nil, fmt.Errorf("%w: amount in %s", ErrValueOverflow, amountIn.Dec())
	}

	denominator, carry := new(uint256.Int).AddOverflow(reserveIn, withFee)
	if carry || denominator.IsZero() {
		return nil, fmt.Errorf("%w: reserve %s + input %s", ErrValueOverflow, reserveIn.Dec(), withFee.Dec())
	}

	amountOut, overflow := new(uint256.Int).MulDivOverflow(withFee, reserveOut, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: amount in %s", ErrValueOverflow, amountIn.Dec())
	}
	if amountOut.IsZero() {
		return nil, fmt.Errorf("%w: computed 0, minimum 1", ErrInsufficientOutputAmount)
	}
	return amountOut, nil
}
