package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PoolID identifies a pool platform-wide.
type PoolID uint64

// ShareClassID identifies a share class. Scoped to a pool but globally
// unique so cross-network messages can carry it alone.
type ShareClassID = uuid.UUID

// AssetID identifies a registered payment/payout asset.
type AssetID uint32

// InvestorID is the cross-network investor address.
type InvestorID = uuid.UUID

var (
	ErrPoolExists        = errors.New("pool already exists")
	ErrPoolNotFound      = errors.New("pool not found")
	ErrShareClassExists  = errors.New("share class already exists")
	ErrShareClassUnknown = errors.New("share class not found")
	ErrAssetExists       = errors.New("asset already registered")
	ErrAssetNotFound     = errors.New("asset not registered")
)

// Pool is the root ownership record. Identity is immutable after
// creation; metadata and the manager set are mutable.
type Pool struct {
	ID       PoolID
	Currency AssetID
	Metadata []byte

	managers     map[InvestorID]bool
	shareClasses map[ShareClassID]bool
}

// Asset is a fungible unit accepted as payment or payout, registered
// once per network origin.
type Asset struct {
	ID       AssetID
	Symbol   string
	Decimals uint8
	Origin   string
}

// Registry is the keyed store of pools, share classes, and assets.
// All cross-references between records are lookups by key; no record
// holds a pointer into another (the arena-of-records model).
// Not thread-safe; mutated only from the single-threaded hub.
type Registry struct {
	pools  map[PoolID]*Pool
	assets map[AssetID]Asset
	scPool map[ShareClassID]PoolID
}

func NewRegistry() *Registry {
	return &Registry{
		pools:  make(map[PoolID]*Pool),
		assets: make(map[AssetID]Asset),
		scPool: make(map[ShareClassID]PoolID),
	}
}

// RegisterAsset records an asset once. Re-registration from the same
// origin is rejected.
func (r *Registry) RegisterAsset(id AssetID, symbol string, decimals uint8, origin string) error {
	if _, ok := r.assets[id]; ok {
		return fmt.Errorf("%w: asset %d", ErrAssetExists, id)
	}
	r.assets[id] = Asset{ID: id, Symbol: symbol, Decimals: decimals, Origin: origin}
	return nil
}

// Asset returns a registered asset.
func (r *Registry) Asset(id AssetID) (Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
	}
	return a, nil
}

// CreatePool registers a pool with its payment currency and the initial
// manager (the pool admin).
func (r *Registry) CreatePool(id PoolID, admin InvestorID, currency AssetID) error {
	if _, ok := r.pools[id]; ok {
		return fmt.Errorf("%w: pool %d", ErrPoolExists, id)
	}
	if _, ok := r.assets[currency]; !ok {
		return fmt.Errorf("%w: currency %d", ErrAssetNotFound, currency)
	}
	r.pools[id] = &Pool{
		ID:           id,
		Currency:     currency,
		managers:     map[InvestorID]bool{admin: true},
		shareClasses: make(map[ShareClassID]bool),
	}
	return nil
}

// Pool returns a pool record.
func (r *Registry) Pool(id PoolID) (*Pool, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return p, nil
}

// PoolExists reports whether the pool has been created.
func (r *Registry) PoolExists(id PoolID) bool {
	_, ok := r.pools[id]
	return ok
}

// AddShareClass attaches a new share class to a pool.
func (r *Registry) AddShareClass(pool PoolID, sc ShareClassID) error {
	p, err := r.Pool(pool)
	if err != nil {
		return err
	}
	if p.shareClasses[sc] {
		return fmt.Errorf("%w: %s", ErrShareClassExists, sc)
	}
	p.shareClasses[sc] = true
	r.scPool[sc] = pool
	return nil
}

// ShareClassPool resolves a share class back to its owning pool.
func (r *Registry) ShareClassPool(sc ShareClassID) (PoolID, error) {
	pool, ok := r.scPool[sc]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrShareClassUnknown, sc)
	}
	return pool, nil
}

// UpdateManager grants or revokes delegated manager rights on a pool.
func (r *Registry) UpdateManager(pool PoolID, who InvestorID, canManage bool) error {
	p, err := r.Pool(pool)
	if err != nil {
		return err
	}
	if canManage {
		p.managers[who] = true
	} else {
		delete(p.managers, who)
	}
	return nil
}

// IsManager reports whether who may act as manager for the pool.
func (r *Registry) IsManager(pool PoolID, who InvestorID) bool {
	p, ok := r.pools[pool]
	return ok && p.managers[who]
}

// SetMetadata replaces the pool's mutable metadata blob.
func (r *Registry) SetMetadata(pool PoolID, metadata []byte) error {
	p, err := r.Pool(pool)
	if err != nil {
		return err
	}
	p.Metadata = metadata
	return nil
}

// Snapshot deep-copies the registry for all-or-nothing batch rollback.
func (r *Registry) Snapshot() *Registry {
	snap := NewRegistry()
	for id, a := range r.assets {
		snap.assets[id] = a
	}
	for sc, pool := range r.scPool {
		snap.scPool[sc] = pool
	}
	for id, p := range r.pools {
		cp := &Pool{
			ID:           p.ID,
			Currency:     p.Currency,
			Metadata:     append([]byte(nil), p.Metadata...),
			managers:     make(map[InvestorID]bool, len(p.managers)),
			shareClasses: make(map[ShareClassID]bool, len(p.shareClasses)),
		}
		for m := range p.managers {
			cp.managers[m] = true
		}
		for sc := range p.shareClasses {
			cp.shareClasses[sc] = true
		}
		snap.pools[id] = cp
	}
	return snap
}

// Restore replaces the registry's contents with a snapshot.
func (r *Registry) Restore(snap *Registry) {
	r.pools = snap.pools
	r.assets = snap.assets
	r.scPool = snap.scPool
}
