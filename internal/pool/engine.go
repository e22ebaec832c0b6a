// Package pool implements the pool engine: the accounting core that owns
// two reserve counters, a share supply, and a fee parameter, and exposes
// add-liquidity, remove-liquidity, and swap.
//
// Reserves are the single source of truth for pricing. They track the sum
// of net deposits minus withdrawals minus net asset flow from swaps, and
// are never re-derived from custodial balances.
//
// Every operation validates and prices against the pre-operation state
// before mutating anything, so a failed call leaves reserves, share
// balances, and position records exactly as they were. Each engine
// carries its own mutex; operations on one pool are serialized.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/swapline/pool-engine/internal/cpmm"
	"github.com/swapline/pool-engine/internal/custody"
	"github.com/swapline/pool-engine/internal/model"
	"github.com/swapline/pool-engine/internal/position"
)

var (
	// ErrIdenticalTokens is returned when a pair or a swap names the
	// same asset twice.
	ErrIdenticalTokens = errors.New("pool: identical assets")

	// ErrInvalidTokenIn is returned when the swap input asset is not
	// one of the pool's configured pair.
	ErrInvalidTokenIn = errors.New("pool: invalid input asset")

	// ErrInvalidTokenOut is returned when the swap output asset is not
	// one of the pool's configured pair.
	ErrInvalidTokenOut = errors.New("pool: invalid output asset")

	// ErrInvalidLiquidityAmount is returned when a redemption names a
	// zero share amount.
	ErrInvalidLiquidityAmount = errors.New("pool: liquidity amount must be positive")

	// ErrInsufficientLiquidity is returned when a redemption exceeds the
	// caller's share balance.
	ErrInsufficientLiquidity = errors.New("pool: insufficient liquidity")

	// ErrPositionNotFound is returned when a referenced position does
	// not belong to the caller.
	ErrPositionNotFound = errors.New("pool: position not found for caller")

	// ErrUntracked is returned when a position-based operation is
	// invoked on a pool that has no position directory.
	ErrUntracked = errors.New("pool: pool does not track positions")

	// ErrInconsistentState signals a bookkeeping fault: a mutation that
	// should be unreachable failed mid-operation. The engine rolls the
	// operation back before returning it.
	ErrInconsistentState = errors.New("pool: inconsistent bookkeeping")
)

// EventRecorder receives audit events emitted by the engine. Records are
// append-only and never consumed by the engine itself.
type EventRecorder interface {
	Record(event model.PoolEvent)
}

// Engine is one pool instance for a fixed asset pair and fee tier.
// The pair and fee never change after construction; reserves and share
// supply mutate only through AddLiquidity, RemoveLiquidity, and Swap.
type Engine struct {
	mu sync.Mutex

	id         string
	assetA     string
	assetB     string
	shareAsset string
	curve      *cpmm.Curve

	reserveA *uint256.Int
	reserveB *uint256.Int

	vault    *custody.Vault
	dir      *position.Directory // nil for untracked pools
	recorder EventRecorder       // nil when auditing is not wired

	createdAt time.Time
}

// New creates a pool engine and registers its share asset in the vault.
// Pass a nil directory for an untracked pool. The engine itself must be
// granted position.CapMintBurn by the directory admin before its first
// tracked deposit; the factory does this at creation time.
func New(id, assetA, assetB string, feeBps uint64, vault *custody.Vault, dir *position.Directory, recorder EventRecorder) (*Engine, error) {
	if assetA == assetB {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTokens, assetA)
	}
	curve, err := cpmm.NewCurve(feeBps)
	if err != nil {
		return nil, err
	}

	shareAsset := "LP-" + id
	if err := vault.NewAsset("Liquidity Shares "+id, shareAsset, nil, ""); err != nil {
		return nil, err
	}

	return &Engine{
		id:         id,
		assetA:     assetA,
		assetB:     assetB,
		shareAsset: shareAsset,
		curve:      curve,
		reserveA:   uint256.NewInt(0),
		reserveB:   uint256.NewInt(0),
		vault:      vault,
		dir:        dir,
		recorder:   recorder,
		createdAt:  time.Now().UTC(),
	}, nil
}

// ID returns the pool identity, which is also its custody account.
func (e *Engine) ID() string { return e.id }

// ShareAsset returns the symbol of the pool's share asset.
func (e *Engine) ShareAsset() string { return e.shareAsset }

// Tracked reports whether the pool records positions in a directory.
func (e *Engine) Tracked() bool { return e.dir != nil }

// AddResult is the outcome of AddLiquidity.
type AddResult struct {
	SharesMinted *uint256.Int
	PositionID   *uint64 // set only for tracked pools
}

// RemoveResult is the outcome of RemoveLiquidity.
type RemoveResult struct {
	AmountA      *uint256.Int
	AmountB      *uint256.Int
	SharesBurned *uint256.Int
	PositionID   *uint64 // set only for the position variant
}

// SwapResult is the outcome of Swap.
type SwapResult struct {
	AmountOut *uint256.Int
}

// AddLiquidity pulls both deposit amounts from the provider, mints shares
// against the current reserves, and (for tracked pools) records a
// position carrying the given price-range tags.
//
// When the deposit ratio differs from the reserve ratio, shares are
// credited for the limiting side only and the excess is donated to the
// pool — the full stated amounts are booked, nothing is refunded.
func (e *Engine) AddLiquidity(provider string, amountA, amountB *uint256.Int, rangeLower, rangeUpper int32) (*AddResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	supply, err := e.vault.Supply(e.shareAsset)
	if err != nil {
		return nil, err
	}
	shares, err := e.curve.SharesForDeposit(amountA, amountB, e.reserveA, e.reserveB, supply)
	if err != nil {
		return nil, err
	}

	// Pull both assets into custody. A failure on either leg aborts the
	// whole operation with nothing moved.
	if err := e.vault.TransferPair(e.assetA, e.assetB, provider, e.id, amountA, amountB); err != nil {
		return nil, err
	}

	e.reserveA.Add(e.reserveA, amountA)
	e.reserveB.Add(e.reserveB, amountB)
	if err := e.vault.Mint(e.shareAsset, provider, shares); err != nil {
		// Unreachable for a registered share asset; restore custody.
		e.reserveA.Sub(e.reserveA, amountA)
		e.reserveB.Sub(e.reserveB, amountB)
		e.vault.TransferPair(e.assetA, e.assetB, e.id, provider, amountA, amountB)
		return nil, fmt.Errorf("%w: share mint failed: %v", ErrInconsistentState, err)
	}

	result := &AddResult{SharesMinted: shares}

	if e.dir != nil {
		id, err := e.dir.Create(e.id, provider, e.assetA, e.assetB, shares, rangeLower, rangeUpper)
		if err != nil {
			e.vault.Burn(e.shareAsset, provider, shares)
			e.reserveA.Sub(e.reserveA, amountA)
			e.reserveB.Sub(e.reserveB, amountB)
			e.vault.TransferPair(e.assetA, e.assetB, e.id, provider, amountA, amountB)
			return nil, err
		}
		result.PositionID = &id
		e.record(model.PoolEvent{
			Kind:       model.EventPositionCreated,
			Actor:      provider,
			Shares:     shares.Dec(),
			PositionID: &id,
			RangeLower: rangeLower,
			RangeUpper: rangeUpper,
		})
	}

	e.record(model.PoolEvent{
		Kind:       model.EventAddLiquidity,
		Actor:      provider,
		AmountA:    amountA.Dec(),
		AmountB:    amountB.Dec(),
		Shares:     shares.Dec(),
		PositionID: result.PositionID,
		RangeLower: rangeLower,
		RangeUpper: rangeUpper,
	})
	return result, nil
}

// RemoveLiquidity redeems a raw share amount pro-rata against the current
// reserves. Used directly on untracked pools; the tracked variant is
// RemoveLiquidityPosition.
func (e *Engine) RemoveLiquidity(provider string, shares *uint256.Int) (*RemoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.removeShares(provider, shares)
	if err != nil {
		return nil, err
	}
	e.record(model.PoolEvent{
		Kind:    model.EventRemoveLiquidity,
		Actor:   provider,
		AmountA: result.AmountA.Dec(),
		AmountB: result.AmountB.Dec(),
		Shares:  result.SharesBurned.Dec(),
	})
	return result, nil
}

// RemoveLiquidityPosition redeems a position by identity. The caller must
// own the position; its recorded share amount is redeemed in full and the
// record is destroyed.
func (e *Engine) RemoveLiquidityPosition(provider string, positionID uint64) (*RemoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dir == nil {
		return nil, fmt.Errorf("%w: %s", ErrUntracked, e.id)
	}
	rec, err := e.dir.Get(positionID)
	if err != nil {
		return nil, err
	}
	if rec.Owner != provider {
		return nil, fmt.Errorf("%w: id %d, caller %s", ErrPositionNotFound, positionID, provider)
	}

	result, err := e.removeShares(provider, rec.Shares)
	if err != nil {
		return nil, err
	}

	if err := e.dir.Destroy(e.id, positionID); err != nil {
		// Deregistration inconsistency: undo the redemption.
		e.vault.TransferPair(e.assetA, e.assetB, provider, e.id, result.AmountA, result.AmountB)
		e.reserveA.Add(e.reserveA, result.AmountA)
		e.reserveB.Add(e.reserveB, result.AmountB)
		e.vault.Mint(e.shareAsset, provider, result.SharesBurned)
		return nil, err
	}

	result.PositionID = &positionID
	e.record(model.PoolEvent{
		Kind:       model.EventPositionDestroyed,
		Actor:      provider,
		Shares:     result.SharesBurned.Dec(),
		PositionID: &positionID,
	})
	e.record(model.PoolEvent{
		Kind:       model.EventRemoveLiquidity,
		Actor:      provider,
		AmountA:    result.AmountA.Dec(),
		AmountB:    result.AmountB.Dec(),
		Shares:     result.SharesBurned.Dec(),
		PositionID: &positionID,
	})
	return result, nil
}

// removeShares holds the shared redemption path. Caller holds e.mu.
func (e *Engine) removeShares(provider string, shares *uint256.Int) (*RemoveResult, error) {
	if shares == nil || shares.IsZero() {
		return nil, ErrInvalidLiquidityAmount
	}
	balance, err := e.vault.BalanceOf(e.shareAsset, provider)
	if err != nil {
		return nil, err
	}
	if balance.Lt(shares) {
		return nil, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientLiquidity, shares.Dec(), balance.Dec())
	}
	supply, err := e.vault.Supply(e.shareAsset)
	if err != nil {
		return nil, err
	}

	// Priced against reserves and supply before the burn mutates them.
	amountA, amountB, err := e.curve.RedeemAmounts(shares, e.reserveA, e.reserveB, supply)
	if err != nil {
		return nil, err
	}

	if err := e.vault.Burn(e.shareAsset, provider, shares); err != nil {
		return nil, fmt.Errorf("%w: share burn failed: %v", ErrInconsistentState, err)
	}
	e.reserveA.Sub(e.reserveA, amountA)
	e.reserveB.Sub(e.reserveB, amountB)

	if err := e.vault.TransferPair(e.assetA, e.assetB, e.id, provider, amountA, amountB); err != nil {
		// Custody held less than the reserves claim. Restore and report.
		e.reserveA.Add(e.reserveA, amountA)
		e.reserveB.Add(e.reserveB, amountB)
		e.vault.Mint(e.shareAsset, provider, shares)
		return nil, fmt.Errorf("%w: asset release failed: %v", ErrInconsistentState, err)
	}

	return &RemoveResult{
		AmountA:      amountA,
		AmountB:      amountB,
		SharesBurned: shares.Clone(),
	}, nil
}

// Swap trades amountIn of assetIn for assetOut at the constant-product
// price over the pre-trade reserves. The full input, including the fee
// portion, accrues into reserves for the benefit of liquidity providers.
func (e *Engine) Swap(trader, assetIn, assetOut string, amountIn *uint256.Int) (*SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if assetIn != e.assetA && assetIn != e.assetB {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTokenIn, assetIn)
	}
	if assetOut != e.assetA && assetOut != e.assetB {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTokenOut, assetOut)
	}
	if assetIn == assetOut {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTokens, assetIn)
	}

	reserveIn, reserveOut := e.reserveA, e.reserveB
	if assetIn == e.assetB {
		reserveIn, reserveOut = e.reserveB, e.reserveA
	}

	amountOut, err := e.curve.AmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}

	if err := e.vault.Transfer(assetIn, trader, e.id, amountIn); err != nil {
		return nil, err
	}
	if err := e.vault.Transfer(assetOut, e.id, trader, amountOut); err != nil {
		e.vault.Transfer(assetIn, e.id, trader, amountIn)
		return nil, fmt.Errorf("%w: output release failed: %v", ErrInconsistentState, err)
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)

	e.record(model.PoolEvent{
		Kind:      model.EventSwap,
		Actor:     trader,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		AmountIn:  amountIn.Dec(),
		AmountOut: amountOut.Dec(),
	})
	return &SwapResult{AmountOut: amountOut}, nil
}

// Quote prices a prospective swap against the current reserves without
// moving any assets.
func (e *Engine) Quote(assetIn, assetOut string, amountIn *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if assetIn != e.assetA && assetIn != e.assetB {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTokenIn, assetIn)
	}
	if assetOut != e.assetA && assetOut != e.assetB {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTokenOut, assetOut)
	}
	if assetIn == assetOut {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTokens, assetIn)
	}

	reserveIn, reserveOut := e.reserveA, e.reserveB
	if assetIn == e.assetB {
		reserveIn, reserveOut = e.reserveB, e.reserveA
	}
	return e.curve.AmountOut(amountIn, reserveIn, reserveOut)
}

// Reserves returns copies of the current reserves (A then B).
func (e *Engine) Reserves() (*uint256.Int, *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserveA.Clone(), e.reserveB.Clone()
}

// ShareSupply returns the outstanding share supply.
func (e *Engine) ShareSupply() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	supply, err := e.vault.Supply(e.shareAsset)
	if err != nil {
		return uint256.NewInt(0)
	}
	return supply
}

// Snapshot renders the pool's accounting state for storage and the API.
func (e *Engine) Snapshot() *model.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()

	supply, err := e.vault.Supply(e.shareAsset)
	if err != nil {
		supply = uint256.NewInt(0)
	}
	return &model.Pool{
		ID:          e.id,
		AssetA:      e.assetA,
		AssetB:      e.assetB,
		FeeBps:      e.curve.FeeBps(),
		ReserveA:    e.reserveA.Dec(),
		ReserveB:    e.reserveB.Dec(),
		ShareSupply: supply.Dec(),
		Tracked:     e.dir != nil,
		CreatedAt:   e.createdAt,
	}
}

// Assets returns the configured pair (A then B).
func (e *Engine) Assets() (string, string) {
	return e.assetA, e.assetB
}

// FeeBps returns the pool's fee rate in parts-per-10000.
func (e *Engine) FeeBps() uint64 {
	return e.curve.FeeBps()
}

func (e *Engine) record(ev model.PoolEvent) {
	if e.recorder == nil {
		return
	}
	ev.PoolID = e.id
	e.recorder.Record(ev)
}
