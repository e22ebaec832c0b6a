// Package model defines the core domain types shared across the pool engine.
// All asset quantities are non-negative integers rendered as decimal strings
// at the JSON boundary — never float64 for money.
package model

import (
	"time"
)

// Event kinds recorded in the audit ledger.
const (
	EventPoolCreated       = "pool_created"
	EventAddLiquidity      = "add_liquidity"
	EventRemoveLiquidity   = "remove_liquidity"
	EventSwap              = "swap"
	EventPositionCreated   = "position_created"
	EventPositionDestroyed = "position_destroyed"
)

// Pool is a snapshot of one pool engine's accounting state.
// Reserves and share supply are the single source of truth for pricing;
// they are never re-derived from custodial balances.
type Pool struct {
	ID          string    `json:"id" db:"id"`
	AssetA      string    `json:"asset_a" db:"asset_a"`
	AssetB      string    `json:"asset_b" db:"asset_b"`
	FeeBps      uint64    `json:"fee_bps" db:"fee_bps"` // parts-per-10000 of swap input
	ReserveA    string    `json:"reserve_a" db:"reserve_a"`
	ReserveB    string    `json:"reserve_b" db:"reserve_b"`
	ShareSupply string    `json:"share_supply" db:"share_supply"`
	Tracked     bool      `json:"tracked" db:"tracked"` // positions recorded in the directory
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Position is the JSON view of a liquidity position record.
// Positions are non-transferable: Owner is fixed at creation and the
// record is only ever destroyed, never reassigned.
type Position struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	AssetA     string `json:"asset_a"`
	AssetB     string `json:"asset_b"`
	Shares     string `json:"shares"`
	RangeLower int32  `json:"range_lower"` // stored tag, not yet used by pricing
	RangeUpper int32  `json:"range_upper"`
}

// PoolEvent is an immutable audit record of a state-mutating operation.
// Once created, these are never modified or deleted.
type PoolEvent struct {
	ID         string    `json:"id" db:"id"`
	PoolID     string    `json:"pool_id" db:"pool_id"`
	Kind       string    `json:"kind" db:"kind"`
	Actor      string    `json:"actor" db:"actor"`
	AmountA    string    `json:"amount_a,omitempty" db:"amount_a"`
	AmountB    string    `json:"amount_b,omitempty" db:"amount_b"`
	Shares     string    `json:"shares,omitempty" db:"shares"`
	AssetIn    string    `json:"asset_in,omitempty" db:"asset_in"`
	AssetOut   string    `json:"asset_out,omitempty" db:"asset_out"`
	AmountIn   string    `json:"amount_in,omitempty" db:"amount_in"`
	AmountOut  string    `json:"amount_out,omitempty" db:"amount_out"`
	PositionID *uint64   `json:"position_id,omitempty" db:"position_id"`
	RangeLower int32     `json:"range_lower,omitempty" db:"range_lower"`
	RangeUpper int32     `json:"range_upper,omitempty" db:"range_upper"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}
