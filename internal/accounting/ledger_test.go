package accounting_test

import (
	"errors"
	"testing"

	"FundLedger/internal/accounting"
	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

const testPool = registry.PoolID(1)

func newTestLedger(t *testing.T) *accounting.Ledger {
	t.Helper()
	l := accounting.NewLedger()
	// 100 = asset (debit normal), 200 = equity (credit normal)
	if err := l.CreateAccount(testPool, 100, true); err != nil {
		t.Fatalf("create asset account: %v", err)
	}
	if err := l.CreateAccount(testPool, 200, false); err != nil {
		t.Fatalf("create equity account: %v", err)
	}
	return l
}

func posting(value uint64) *accounting.Posting {
	return &accounting.Posting{
		ID:      uuid.New(),
		Pool:    testPool,
		Ref:     "test",
		Debits:  []accounting.Entry{{Account: 100, Value: value}},
		Credits: []accounting.Entry{{Account: 200, Value: value}},
	}
}

// ============================================================================
// Test: account lifecycle
// ============================================================================

func TestCreateAccount_Duplicate(t *testing.T) {
	l := newTestLedger(t)
	err := l.CreateAccount(testPool, 100, false)
	if !errors.Is(err, accounting.ErrAccountExists) {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}
}

func TestCreateAccount_SameIDDifferentPools(t *testing.T) {
	l := newTestLedger(t)
	if err := l.CreateAccount(registry.PoolID(2), 100, true); err != nil {
		t.Errorf("same id on another pool should be independent: %v", err)
	}
}

func TestAccountValue_Unknown(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.AccountValue(testPool, 999)
	if !errors.Is(err, accounting.ErrAccountUnknown) {
		t.Errorf("expected ErrAccountUnknown, got %v", err)
	}
}

// ============================================================================
// Test: posting validation
// ============================================================================

func TestPost_Unbalanced(t *testing.T) {
	l := newTestLedger(t)
	p := posting(100)
	p.Credits[0].Value = 99
	if err := l.Post(p); !errors.Is(err, accounting.ErrUnbalanced) {
		t.Errorf("expected ErrUnbalanced, got %v", err)
	}
}

func TestPost_Empty(t *testing.T) {
	l := newTestLedger(t)
	p := &accounting.Posting{ID: uuid.New(), Pool: testPool}
	if err := l.Post(p); !errors.Is(err, accounting.ErrEmptyPosting) {
		t.Errorf("expected ErrEmptyPosting, got %v", err)
	}
}

func TestPost_UnknownAccountLeavesBalancesUntouched(t *testing.T) {
	l := newTestLedger(t)
	p := posting(100)
	p.Credits[0].Account = 999

	if err := l.Post(p); !errors.Is(err, accounting.ErrAccountUnknown) {
		t.Fatalf("expected ErrAccountUnknown, got %v", err)
	}
	v, _ := l.AccountValue(testPool, 100)
	if v != 0 {
		t.Errorf("debit side applied despite failed credit: balance %d", v)
	}
}

// ============================================================================
// Test: polarity
// ============================================================================

func TestPost_PolaritySigns(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Post(posting(1000)); err != nil {
		t.Fatalf("post: %v", err)
	}

	assetV, _ := l.AccountValue(testPool, 100)
	if assetV != 1000 {
		t.Errorf("debit-normal account: got %d, want 1000", assetV)
	}
	equityV, _ := l.AccountValue(testPool, 200)
	if equityV != 1000 {
		t.Errorf("credit-normal account: got %d, want 1000", equityV)
	}
}

func TestPost_ReversedLegsGoNegative(t *testing.T) {
	l := newTestLedger(t)
	p := &accounting.Posting{
		ID:      uuid.New(),
		Pool:    testPool,
		Ref:     "reversal",
		Debits:  []accounting.Entry{{Account: 200, Value: 300}},
		Credits: []accounting.Entry{{Account: 100, Value: 300}},
	}
	if err := l.Post(p); err != nil {
		t.Fatalf("post: %v", err)
	}

	assetV, _ := l.AccountValue(testPool, 100)
	if assetV != -300 {
		t.Errorf("credited debit-normal account: got %d, want -300", assetV)
	}
	equityV, _ := l.AccountValue(testPool, 200)
	if equityV != -300 {
		t.Errorf("debited credit-normal account: got %d, want -300", equityV)
	}
}

func TestPost_MultiLeg(t *testing.T) {
	l := newTestLedger(t)
	if err := l.CreateAccount(testPool, 300, false); err != nil {
		t.Fatalf("create account: %v", err)
	}

	p := &accounting.Posting{
		ID:     uuid.New(),
		Pool:   testPool,
		Ref:    "split",
		Debits: []accounting.Entry{{Account: 100, Value: 900}},
		Credits: []accounting.Entry{
			{Account: 200, Value: 600},
			{Account: 300, Value: 300},
		},
	}
	if err := l.Post(p); err != nil {
		t.Fatalf("post: %v", err)
	}

	v200, _ := l.AccountValue(testPool, 200)
	v300, _ := l.AccountValue(testPool, 300)
	if v200 != 600 || v300 != 300 {
		t.Errorf("split credits: got (%d, %d), want (600, 300)", v200, v300)
	}
}

// ============================================================================
// Test: journal
// ============================================================================

func TestDrainJournal(t *testing.T) {
	l := newTestLedger(t)
	l.Post(posting(10))
	l.Post(posting(20))

	j := l.DrainJournal()
	if len(j) != 2 {
		t.Fatalf("got %d journal entries, want 2", len(j))
	}
	if j := l.DrainJournal(); len(j) != 0 {
		t.Errorf("second drain should be empty, got %d", len(j))
	}
}

func TestDrainJournal_RejectedPostingNotJournaled(t *testing.T) {
	l := newTestLedger(t)
	p := posting(100)
	p.Credits[0].Value = 99
	l.Post(p)

	if j := l.DrainJournal(); len(j) != 0 {
		t.Errorf("rejected posting should not be journaled, got %d entries", len(j))
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestSnapshotRestore(t *testing.T) {
	l := newTestLedger(t)
	l.Post(posting(500))

	snap := l.Snapshot()
	l.Post(posting(100))

	l.Restore(snap)
	v, _ := l.AccountValue(testPool, 100)
	if v != 500 {
		t.Errorf("restored balance: got %d, want 500", v)
	}
	if j := l.DrainJournal(); len(j) != 1 {
		t.Errorf("restored journal: got %d entries, want 1", len(j))
	}
}
