package deltaqueue

import (
	"errors"
	"fmt"

	"FundLedger/internal/event"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"
)

// ShareClassKey addresses the share-level queue state.
type ShareClassKey struct {
	Pool       registry.PoolID
	ShareClass registry.ShareClassID
}

// AssetKey addresses the per-asset accumulators.
type AssetKey struct {
	Pool       registry.PoolID
	ShareClass registry.ShareClassID
	Asset      registry.AssetID
}

var ErrNothingQueued = errors.New("nothing queued for submission")

type shareState struct {
	delta  int64
	queued bool
	// assetCounter counts distinct assets with pending queued movement.
	assetCounter uint32
	// flips counts the delta crossing between positive and non-positive.
	flips uint64
}

type assetState struct {
	deposits    uint64
	withdrawals uint64
}

// Queue aggregates many small asset/share movements into batched
// cross-network submissions. Funds are assumed already reserved
// elsewhere; the queue only counts. Submission emits a message object
// and bumps a strictly increasing nonce, the only externally visible
// evidence a submission happened.
// Not thread-safe; mutated only from the single-threaded hub.
type Queue struct {
	shares   map[ShareClassKey]*shareState
	assets   map[AssetKey]*assetState
	reserved map[AssetKey]uint64
	nonces   map[ShareClassKey]uint64
}

func NewQueue() *Queue {
	return &Queue{
		shares:   make(map[ShareClassKey]*shareState),
		assets:   make(map[AssetKey]*assetState),
		reserved: make(map[AssetKey]uint64),
		nonces:   make(map[ShareClassKey]uint64),
	}
}

func (q *Queue) shareEntry(key ShareClassKey) *shareState {
	s, ok := q.shares[key]
	if !ok {
		s = &shareState{}
		q.shares[key] = s
	}
	return s
}

func (q *Queue) assetEntry(key AssetKey) *assetState {
	a, ok := q.assets[key]
	if !ok {
		a = &assetState{}
		q.assets[key] = a
	}
	return a
}

// NoteDeposit accumulates an incoming asset movement. Overflow fails
// loudly, never wraps.
func (q *Queue) NoteDeposit(key AssetKey, amount uint64) error {
	a := q.assetEntry(key)
	wasEmpty := a.deposits == 0 && a.withdrawals == 0
	sum, err := fpmath.AddU64(a.deposits, amount)
	if err != nil {
		return fmt.Errorf("queued deposits: %w", err)
	}
	a.deposits = sum
	if wasEmpty && amount != 0 {
		q.shareEntry(ShareClassKey{Pool: key.Pool, ShareClass: key.ShareClass}).assetCounter++
	}
	return nil
}

// NoteWithdrawal accumulates an outgoing asset movement.
func (q *Queue) NoteWithdrawal(key AssetKey, amount uint64) error {
	a := q.assetEntry(key)
	wasEmpty := a.deposits == 0 && a.withdrawals == 0
	sum, err := fpmath.AddU64(a.withdrawals, amount)
	if err != nil {
		return fmt.Errorf("queued withdrawals: %w", err)
	}
	a.withdrawals = sum
	if wasEmpty && amount != 0 {
		q.shareEntry(ShareClassKey{Pool: key.Pool, ShareClass: key.ShareClass}).assetCounter++
	}
	return nil
}

// NoteShareDelta folds a signed share movement into the net delta and
// marks the queue non-empty on the first non-zero note.
func (q *Queue) NoteShareDelta(key ShareClassKey, delta int64) error {
	s := q.shareEntry(key)
	next, err := fpmath.AddS64(s.delta, delta)
	if err != nil {
		return fmt.Errorf("queued share delta: %w", err)
	}
	if (s.delta > 0) != (next > 0) {
		s.flips++
	}
	s.delta = next
	if !s.queued && next != 0 {
		s.queued = true
	}
	return nil
}

// Flips reports how often the net share delta has crossed between
// positive and non-positive. An observable transition, not an error.
func (q *Queue) Flips(key ShareClassKey) uint64 {
	if s, ok := q.shares[key]; ok {
		return s.flips
	}
	return 0
}

// PendingAssets returns the current accumulators without resetting them.
func (q *Queue) PendingAssets(key AssetKey) (deposits, withdrawals uint64) {
	if a, ok := q.assets[key]; ok {
		return a.deposits, a.withdrawals
	}
	return 0, 0
}

// PendingShares returns the current net share delta.
func (q *Queue) PendingShares(key ShareClassKey) int64 {
	if s, ok := q.shares[key]; ok {
		return s.delta
	}
	return 0
}

// AssetCounter returns how many assets currently have queued movement.
func (q *Queue) AssetCounter(key ShareClassKey) uint32 {
	if s, ok := q.shares[key]; ok {
		return s.assetCounter
	}
	return 0
}

// Nonce returns the last submission nonce for the share class.
func (q *Queue) Nonce(key ShareClassKey) uint64 {
	return q.nonces[key]
}

// Reserve locks amount into the reservation bucket, separate from
// available balance.
func (q *Queue) Reserve(key AssetKey, amount uint64) error {
	sum, err := fpmath.AddU64(q.reserved[key], amount)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	q.reserved[key] = sum
	return nil
}

// Unreserve releases a previously reserved amount. Releasing more than
// is reserved is an underflow and fails.
func (q *Queue) Unreserve(key AssetKey, amount uint64) error {
	diff, err := fpmath.SubU64(q.reserved[key], amount)
	if err != nil {
		return fmt.Errorf("unreserve: %w", err)
	}
	q.reserved[key] = diff
	return nil
}

// Reserved returns the current reservation for the asset.
func (q *Queue) Reserved(key AssetKey) uint64 {
	return q.reserved[key]
}

// SubmitAssets drains the asset accumulators into a submission message,
// resets them, and increments the nonce exactly once. Submitting an
// empty accumulator pair is rejected so the nonce only moves when a
// batch actually leaves.
func (q *Queue) SubmitAssets(key AssetKey) (*event.QueuedAssets, error) {
	a, ok := q.assets[key]
	if !ok || (a.deposits == 0 && a.withdrawals == 0) {
		return nil, fmt.Errorf("%w: %v", ErrNothingQueued, key)
	}

	scKey := ShareClassKey{Pool: key.Pool, ShareClass: key.ShareClass}
	q.nonces[scKey]++
	msg := &event.QueuedAssets{
		Pool:        key.Pool,
		ShareClass:  key.ShareClass,
		Asset:       key.Asset,
		Deposits:    a.deposits,
		Withdrawals: a.withdrawals,
		Nonce:       q.nonces[scKey],
	}
	a.deposits, a.withdrawals = 0, 0

	s := q.shareEntry(scKey)
	if s.assetCounter > 0 {
		s.assetCounter--
	}
	return msg, nil
}

// SubmitShares drains the net share delta into a submission message,
// resets it, and increments the nonce exactly once. A queue that has
// never seen a non-zero note is rejected; a delta that netted back to
// zero after queuing is still submitted, since other networks saw the
// intermediate state.
func (q *Queue) SubmitShares(key ShareClassKey) (*event.QueuedShares, error) {
	s, ok := q.shares[key]
	if !ok || !s.queued {
		return nil, fmt.Errorf("%w: %v", ErrNothingQueued, key)
	}

	q.nonces[key]++
	msg := &event.QueuedShares{
		Pool:       key.Pool,
		ShareClass: key.ShareClass,
		Delta:      s.delta,
		Nonce:      q.nonces[key],
	}
	s.delta = 0
	s.queued = false
	return msg, nil
}

// NonEmptyShareClasses lists share classes with something to submit,
// for the scheduled submitter.
func (q *Queue) NonEmptyShareClasses() []ShareClassKey {
	keys := make([]ShareClassKey, 0)
	for key, s := range q.shares {
		if s.queued {
			keys = append(keys, key)
		}
	}
	return keys
}

// NonEmptyAssets lists asset accumulators with something to submit.
func (q *Queue) NonEmptyAssets() []AssetKey {
	keys := make([]AssetKey, 0)
	for key, a := range q.assets {
		if a.deposits != 0 || a.withdrawals != 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot deep-copies the queue for batch rollback.
func (q *Queue) Snapshot() *Queue {
	snap := NewQueue()
	for key, s := range q.shares {
		cp := *s
		snap.shares[key] = &cp
	}
	for key, a := range q.assets {
		cp := *a
		snap.assets[key] = &cp
	}
	for key, v := range q.reserved {
		snap.reserved[key] = v
	}
	for key, v := range q.nonces {
		snap.nonces[key] = v
	}
	return snap
}

// Restore replaces the queue's contents with a snapshot.
func (q *Queue) Restore(snap *Queue) {
	q.shares = snap.shares
	q.assets = snap.assets
	q.reserved = snap.reserved
	q.nonces = snap.nonces
}
