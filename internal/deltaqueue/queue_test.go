package deltaqueue_test

import (
	"errors"
	"math"
	"testing"

	"FundLedger/internal/deltaqueue"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

var testSC = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

func scKey() deltaqueue.ShareClassKey {
	return deltaqueue.ShareClassKey{Pool: registry.PoolID(1), ShareClass: testSC}
}

func assetKey(asset uint32) deltaqueue.AssetKey {
	return deltaqueue.AssetKey{Pool: registry.PoolID(1), ShareClass: testSC, Asset: registry.AssetID(asset)}
}

// ============================================================================
// Test: asset accumulators
// ============================================================================

func TestNoteDeposit_Accumulates(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(7), 100)
	q.NoteDeposit(assetKey(7), 50)
	q.NoteWithdrawal(assetKey(7), 30)

	deposits, withdrawals := q.PendingAssets(assetKey(7))
	if deposits != 150 || withdrawals != 30 {
		t.Errorf("got (%d, %d), want (150, 30)", deposits, withdrawals)
	}
}

func TestAssetCounter_TracksDistinctAssets(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(1), 10)
	q.NoteDeposit(assetKey(1), 10) // same asset, counted once
	q.NoteWithdrawal(assetKey(2), 5)

	if got := q.AssetCounter(scKey()); got != 2 {
		t.Errorf("asset counter: got %d, want 2", got)
	}

	if _, err := q.SubmitAssets(assetKey(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := q.AssetCounter(scKey()); got != 1 {
		t.Errorf("asset counter after submit: got %d, want 1", got)
	}
}

// ============================================================================
// Test: share delta and flips
// ============================================================================

func TestNoteShareDelta_NetsOut(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteShareDelta(scKey(), 100)
	q.NoteShareDelta(scKey(), -40)

	if got := q.PendingShares(scKey()); got != 60 {
		t.Errorf("net delta: got %d, want 60", got)
	}
}

func TestNoteShareDelta_OverflowBoundary(t *testing.T) {
	q := deltaqueue.NewQueue()
	if err := q.NoteShareDelta(scKey(), math.MaxInt64); err != nil {
		t.Fatalf("note at boundary: %v", err)
	}
	if got := q.PendingShares(scKey()); got != math.MaxInt64 {
		t.Errorf("delta: got %d, want MaxInt64", got)
	}

	if err := q.NoteShareDelta(scKey(), 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if got := q.PendingShares(scKey()); got != math.MaxInt64 {
		t.Errorf("delta moved on rejected note: got %d", got)
	}

	if err := q.NoteShareDelta(scKey(), -1); err != nil {
		t.Errorf("note back inside range: %v", err)
	}
	if got := q.PendingShares(scKey()); got != math.MaxInt64-1 {
		t.Errorf("delta: got %d, want MaxInt64-1", got)
	}
}

func TestFlips_CountsSignCrossings(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteShareDelta(scKey(), 100)  // 0 -> 100: crossing
	q.NoteShareDelta(scKey(), -150) // 100 -> -50: crossing
	q.NoteShareDelta(scKey(), -10)  // -50 -> -60: no crossing
	q.NoteShareDelta(scKey(), 70)   // -60 -> 10: crossing

	if got := q.Flips(scKey()); got != 3 {
		t.Errorf("flips: got %d, want 3", got)
	}
}

// ============================================================================
// Test: submission and nonce
// ============================================================================

func TestSubmitAssets_ResetsAndBumpsNonce(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(7), 100)
	q.NoteWithdrawal(assetKey(7), 40)

	msg, err := q.SubmitAssets(assetKey(7))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg.Deposits != 100 || msg.Withdrawals != 40 || msg.Nonce != 1 {
		t.Errorf("message: got (%d, %d, nonce %d), want (100, 40, 1)", msg.Deposits, msg.Withdrawals, msg.Nonce)
	}

	deposits, withdrawals := q.PendingAssets(assetKey(7))
	if deposits != 0 || withdrawals != 0 {
		t.Errorf("accumulators not reset: (%d, %d)", deposits, withdrawals)
	}
	if _, err := q.SubmitAssets(assetKey(7)); !errors.Is(err, deltaqueue.ErrNothingQueued) {
		t.Errorf("re-submit of empty accumulator: got %v", err)
	}
}

func TestSubmitShares_EmptyRejected(t *testing.T) {
	q := deltaqueue.NewQueue()
	if _, err := q.SubmitShares(scKey()); !errors.Is(err, deltaqueue.ErrNothingQueued) {
		t.Errorf("expected ErrNothingQueued, got %v", err)
	}
	if q.Nonce(scKey()) != 0 {
		t.Errorf("nonce moved on rejected submission")
	}
}

func TestSubmitShares_ZeroNetStillSubmits(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteShareDelta(scKey(), 100)
	q.NoteShareDelta(scKey(), -100)

	msg, err := q.SubmitShares(scKey())
	if err != nil {
		t.Fatalf("zero-net delta should still submit: %v", err)
	}
	if msg.Delta != 0 || msg.Nonce != 1 {
		t.Errorf("message: got (delta %d, nonce %d), want (0, 1)", msg.Delta, msg.Nonce)
	}
}

func TestNonce_SharedAcrossAssetAndShareSubmissions(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(1), 10)
	q.NoteShareDelta(scKey(), 5)

	if _, err := q.SubmitAssets(assetKey(1)); err != nil {
		t.Fatalf("submit assets: %v", err)
	}
	msg, err := q.SubmitShares(scKey())
	if err != nil {
		t.Fatalf("submit shares: %v", err)
	}
	if msg.Nonce != 2 {
		t.Errorf("nonce: got %d, want 2", msg.Nonce)
	}
}

// ============================================================================
// Test: reservations
// ============================================================================

func TestReserve_Unreserve(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.Reserve(assetKey(7), 100)
	q.Reserve(assetKey(7), 50)

	if got := q.Reserved(assetKey(7)); got != 150 {
		t.Errorf("reserved: got %d, want 150", got)
	}
	if err := q.Unreserve(assetKey(7), 200); err == nil {
		t.Error("over-release should fail")
	}
	if err := q.Unreserve(assetKey(7), 150); err != nil {
		t.Errorf("full release: %v", err)
	}
	if got := q.Reserved(assetKey(7)); got != 0 {
		t.Errorf("reserved after release: got %d, want 0", got)
	}
}

// ============================================================================
// Test: enumeration and snapshot
// ============================================================================

func TestNonEmptyEnumeration(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(1), 10)
	q.NoteShareDelta(scKey(), 5)

	if got := q.NonEmptyAssets(); len(got) != 1 {
		t.Errorf("non-empty assets: got %d, want 1", len(got))
	}
	if got := q.NonEmptyShareClasses(); len(got) != 1 {
		t.Errorf("non-empty share classes: got %d, want 1", len(got))
	}

	q.SubmitAssets(assetKey(1))
	q.SubmitShares(scKey())

	if got := q.NonEmptyAssets(); len(got) != 0 {
		t.Errorf("after submit: got %d non-empty assets, want 0", len(got))
	}
}

func TestSnapshotRestore_Queue(t *testing.T) {
	q := deltaqueue.NewQueue()
	q.NoteDeposit(assetKey(1), 10)
	q.NoteShareDelta(scKey(), 5)

	snap := q.Snapshot()
	q.SubmitAssets(assetKey(1))
	q.SubmitShares(scKey())

	q.Restore(snap)
	deposits, _ := q.PendingAssets(assetKey(1))
	if deposits != 10 {
		t.Errorf("restored deposits: got %d, want 10", deposits)
	}
	if q.Nonce(scKey()) != 0 {
		t.Errorf("restored nonce: got %d, want 0", q.Nonce(scKey()))
	}
}
