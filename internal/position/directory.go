// Package position implements the position directory: a registry of
// liquidity position records keyed by a monotonically increasing
// identity, with an owner index and a capability table gating who may
// mint and burn records.
//
// Positions are non-transferable by construction: every ownership change
// passes through an explicit guard that permits creation (empty→holder)
// and destruction (holder→empty) but rejects any holder→holder move.
package position

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/swapline/pool-engine/internal/model"
)

var (
	// ErrPositionDoesNotExist is returned by lookups of identities that
	// were never created or have been destroyed.
	ErrPositionDoesNotExist = errors.New("position: position does not exist")

	// ErrPositionNotFound is returned when a record exists but does not
	// belong to the expected owner, or when deregistration finds the
	// owner index inconsistent. The latter signals a bookkeeping fault.
	ErrPositionNotFound = errors.New("position: position not found for owner")

	// ErrNotAuthorized is returned when the caller lacks the capability
	// required for a privileged operation.
	ErrNotAuthorized = errors.New("position: caller not authorized")

	// ErrTransferForbidden is returned by the ownership guard for any
	// holder→holder reassignment.
	ErrTransferForbidden = errors.New("position: positions are non-transferable")
)

// Capability names a privilege recorded in the directory's grant table.
type Capability string

const (
	// CapMintBurn allows calling Create and Destroy. Granted to each
	// pool engine by the factory at pool-creation time.
	CapMintBurn Capability = "position:mint-burn"

	// CapGrant allows granting capabilities to other identities. Held
	// by the directory admin (the factory).
	CapGrant Capability = "position:grant"
)

// Record is a stored liquidity position. Shares is an informational copy
// of the amount minted at creation; it is not re-validated against a
// live share balance afterwards.
type Record struct {
	ID         uint64
	Owner      string
	AssetA     string
	AssetB     string
	Shares     *uint256.Int
	RangeLower int32
	RangeUpper int32
}

// View renders the record for the JSON boundary.
func (r *Record) View() model.Position {
	return model.Position{
		ID:         r.ID,
		Owner:      r.Owner,
		AssetA:     r.AssetA,
		AssetB:     r.AssetB,
		Shares:     r.Shares.Dec(),
		RangeLower: r.RangeLower,
		RangeUpper: r.RangeUpper,
	}
}

// Directory stores position records, the per-owner identity index, and
// the capability grant table.
type Directory struct {
	mu      sync.RWMutex
	nextID  uint64
	records map[uint64]*Record
	byOwner map[string]map[uint64]struct{}
	grants  map[string]map[Capability]struct{}
}

// NewDirectory creates a directory administered by the given identity.
// The admin holds CapGrant and hands out CapMintBurn to pool engines.
func NewDirectory(admin string) *Directory {
	d := &Directory{
		records: make(map[uint64]*Record),
		byOwner: make(map[string]map[uint64]struct{}),
		grants:  make(map[string]map[Capability]struct{}),
	}
	d.grants[admin] = map[Capability]struct{}{CapGrant: {}}
	return d
}

// Grant gives grantee the capability. The granter must hold CapGrant.
func (d *Directory) Grant(granter, grantee string, cap Capability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.has(granter, CapGrant) {
		return fmt.Errorf("%w: %s may not grant %s", ErrNotAuthorized, granter, cap)
	}
	if _, ok := d.grants[grantee]; !ok {
		d.grants[grantee] = make(map[Capability]struct{})
	}
	d.grants[grantee][cap] = struct{}{}
	return nil
}

// Has reports whether the identity holds the capability.
func (d *Directory) Has(identity string, cap Capability) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.has(identity, cap)
}

func (d *Directory) has(identity string, cap Capability) bool {
	caps, ok := d.grants[identity]
	if !ok {
		return false
	}
	_, ok = caps[cap]
	return ok
}

// guardOwnerChange rejects any ownership change where both the old and
// the new holder are non-empty. Creation and destruction pass; transfer
// never does.
func guardOwnerChange(oldOwner, newOwner string) error {
	if oldOwner != "" && newOwner != "" {
		return fmt.Errorf("%w: %s -> %s", ErrTransferForbidden, oldOwner, newOwner)
	}
	return nil
}

// Create allocates the next identity (starting at 0, never reused),
// stores the record, and registers it under the owner's set. The caller
// must hold CapMintBurn.
func (d *Directory) Create(caller, owner, assetA, assetB string, shares *uint256.Int, rangeLower, rangeUpper int32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.has(caller, CapMintBurn) {
		return 0, fmt.Errorf("%w: %s may not create positions", ErrNotAuthorized, caller)
	}
	if err := guardOwnerChange("", owner); err != nil {
		return 0, err
	}

	id := d.nextID
	d.nextID++

	d.records[id] = &Record{
		ID:         id,
		Owner:      owner,
		AssetA:     assetA,
		AssetB:     assetB,
		Shares:     shares.Clone(),
		RangeLower: rangeLower,
		RangeUpper: rangeUpper,
	}
	if _, ok := d.byOwner[owner]; !ok {
		d.byOwner[owner] = make(map[uint64]struct{})
	}
	d.byOwner[owner][id] = struct{}{}
	return id, nil
}

// Get returns a copy of the stored record.
func (d *Directory) Get(id uint64) (*Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrPositionDoesNotExist, id)
	}
	copy := *r
	copy.Shares = r.Shares.Clone()
	return &copy, nil
}

// Destroy removes the record and deregisters it from the owner's set.
// The caller must hold CapMintBurn.
func (d *Directory) Destroy(caller string, id uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.has(caller, CapMintBurn) {
		return fmt.Errorf("%w: %s may not destroy positions", ErrNotAuthorized, caller)
	}
	r, ok := d.records[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrPositionDoesNotExist, id)
	}
	if err := guardOwnerChange(r.Owner, ""); err != nil {
		return err
	}

	set, ok := d.byOwner[r.Owner]
	if !ok {
		return fmt.Errorf("%w: owner %s has no position set (id %d)", ErrPositionNotFound, r.Owner, id)
	}
	if _, ok := set[id]; !ok {
		return fmt.Errorf("%w: id %d missing from owner %s's set", ErrPositionNotFound, id, r.Owner)
	}

	delete(set, id)
	if len(set) == 0 {
		delete(d.byOwner, r.Owner)
	}
	delete(d.records, id)
	return nil
}

// ListByOwner returns the identities registered under the owner.
// The result is a set: no order is guaranteed.
func (d *Directory) ListByOwner(owner string) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set, ok := d.byOwner[owner]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
