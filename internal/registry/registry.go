// Package registry implements the pool factory: it instantiates pool
// engines for an asset-pair + fee tier, records them in a list, and
// performs the one-time administrative grant that authorizes each new
// engine to mint and burn position records.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/swapline/pool-engine/internal/custody"
	"github.com/swapline/pool-engine/internal/model"
	"github.com/swapline/pool-engine/internal/pool"
	"github.com/swapline/pool-engine/internal/position"
)

var (
	// ErrPoolExists is returned when a pool for the pair and fee tier
	// already exists.
	ErrPoolExists = errors.New("registry: pool already exists")

	// ErrPoolNotFound is returned by lookups of unknown pool ids.
	ErrPoolNotFound = errors.New("registry: pool not found")
)

// Registry creates and indexes pool engines. It holds the directory's
// admin identity, so it can grant the mint/burn capability to each pool
// it creates.
type Registry struct {
	mu sync.RWMutex

	admin    string
	vault    *custody.Vault
	dir      *position.Directory
	recorder pool.EventRecorder

	pools  map[string]*pool.Engine
	byPair map[string]string // pair+fee key → pool id
	order  []string
	nextID uint64
}

// New creates a registry. The admin identity must hold position.CapGrant
// in the directory (NewDirectory grants it to its admin).
func New(admin string, vault *custody.Vault, dir *position.Directory, recorder pool.EventRecorder) *Registry {
	return &Registry{
		admin:    admin,
		vault:    vault,
		dir:      dir,
		recorder: recorder,
		pools:    make(map[string]*pool.Engine),
		byPair:   make(map[string]string),
	}
}

// pairKey identifies a pair + fee tier regardless of asset order.
func pairKey(assetA, assetB string, feeBps uint64) string {
	pair := []string{assetA, assetB}
	sort.Strings(pair)
	return fmt.Sprintf("%s/%s/%d", pair[0], pair[1], feeBps)
}

// CreatePool instantiates a pool engine for the pair and fee tier,
// grants it the position mint/burn capability when tracked, and records
// it in the pool list.
func (r *Registry) CreatePool(creator, assetA, assetB string, feeBps uint64, tracked bool) (*pool.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(assetA, assetB, feeBps)
	if id, exists := r.byPair[key]; exists {
		return nil, fmt.Errorf("%w: %s is %s", ErrPoolExists, key, id)
	}

	var dir *position.Directory
	if tracked {
		dir = r.dir
	}

	id := fmt.Sprintf("POOL-%d", r.nextID)
	eng, err := pool.New(id, assetA, assetB, feeBps, r.vault, dir, r.recorder)
	if err != nil {
		return nil, err
	}
	if tracked {
		if err := r.dir.Grant(r.admin, eng.ID(), position.CapMintBurn); err != nil {
			return nil, err
		}
	}

	r.nextID++
	r.pools[id] = eng
	r.byPair[key] = id
	r.order = append(r.order, id)

	if r.recorder != nil {
		r.recorder.Record(model.PoolEvent{
			Kind:   model.EventPoolCreated,
			PoolID: id,
			Actor:  creator,
		})
	}
	return eng, nil
}

// Get returns the pool engine with the given id.
func (r *Registry) Get(id string) (*pool.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eng, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return eng, nil
}

// List returns all pool engines in creation order.
func (r *Registry) List() []*pool.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engines := make([]*pool.Engine, 0, len(r.order))
	for _, id := range r.order {
		engines = append(engines, r.pools[id])
	}
	return engines
}

// Directory returns the shared position directory.
func (r *Registry) Directory() *position.Directory {
	return r.dir
}
