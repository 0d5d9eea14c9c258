package epoch_test

import (
	"errors"
	"testing"

	"FundLedger/internal/deltaqueue"
	"FundLedger/internal/epoch"
	fpmath "FundLedger/internal/math"
)

func (f *fixture) assetKey() deltaqueue.AssetKey {
	return deltaqueue.AssetKey{Pool: testPool, ShareClass: testSC, Asset: testAsset}
}

func (f *fixture) shareKey() deltaqueue.ShareClassKey {
	return deltaqueue.ShareClassKey{Pool: testPool, ShareClass: testSC}
}

// issueDeposits runs request → approve → issue for a fresh fixture.
func (f *fixture) issueDeposits(t *testing.T, amount uint64, nav uint64) *epoch.IssueResult {
	t.Helper()
	if err := f.m.RequestDeposit(f.key, investorA, amount); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.m.ApproveDeposits(f.key, 1, amount, fpmath.PriceScale); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err := f.m.IssueShares(f.key, 1, nav)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return res
}

// ============================================================================
// Test: issuance
// ============================================================================

func TestIssueShares_ParNav(t *testing.T) {
	f := newFixture(t)
	res := f.issueDeposits(t, 1000, fpmath.PriceScale)

	if res.Shares != 1000 || res.PoolValue != 1000 {
		t.Errorf("result: got (shares %d, value %d), want (1000, 1000)", res.Shares, res.PoolValue)
	}

	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 1000 || h.Value != 1000 {
		t.Errorf("holding: got (%d, %d), want (1000, 1000)", h.Amount, h.Value)
	}

	assetV, _ := f.ledger.AccountValue(testPool, accAsset)
	equityV, _ := f.ledger.AccountValue(testPool, accEquity)
	if assetV != 1000 || equityV != 1000 {
		t.Errorf("ledger: got (asset %d, equity %d), want (1000, 1000)", assetV, equityV)
	}

	deposits, _ := f.queue.PendingAssets(f.assetKey())
	if deposits != 1000 {
		t.Errorf("queued deposits: got %d, want 1000", deposits)
	}
	if got := f.queue.PendingShares(f.shareKey()); got != 1000 {
		t.Errorf("queued share delta: got %d, want 1000", got)
	}
}

func TestIssueShares_NavRoundsDown(t *testing.T) {
	f := newFixture(t)
	// nav 3.0: 1000 pool currency buys 333 shares.
	res := f.issueDeposits(t, 1000, 3*fpmath.PriceScale)
	if res.Shares != 333 {
		t.Errorf("shares: got %d, want 333", res.Shares)
	}
}

func TestIssueShares_ZeroNav(t *testing.T) {
	f := newFixture(t)
	res := f.issueDeposits(t, 1000, 0)
	if res.Shares != 0 {
		t.Errorf("zero nav should issue zero shares, got %d", res.Shares)
	}

	// The epoch is still fulfilled; the assets entered the holding.
	rec, _ := f.m.DepositEpoch(f.key, 1)
	if !rec.Fulfilled {
		t.Error("epoch should be fulfilled")
	}
	if got := f.queue.PendingShares(f.shareKey()); got != 0 {
		t.Errorf("no share delta should be queued, got %d", got)
	}
}

func TestIssueShares_Ordering(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.ApproveDeposits(f.key, 1, 400, fpmath.PriceScale)
	f.m.ApproveDeposits(f.key, 2, 600, fpmath.PriceScale)

	// Epoch 2 cannot be fulfilled before epoch 1.
	if _, err := f.m.IssueShares(f.key, 2, fpmath.PriceScale); !errors.Is(err, epoch.ErrStaleEpoch) {
		t.Errorf("out-of-order issue: got %v", err)
	}
	if _, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale); err != nil {
		t.Fatalf("issue epoch 1: %v", err)
	}
	if _, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale); !errors.Is(err, epoch.ErrAlreadyFulfilled) {
		t.Errorf("double issue: got %v", err)
	}
	if _, err := f.m.IssueShares(f.key, 2, fpmath.PriceScale); err != nil {
		t.Errorf("issue epoch 2 after 1: %v", err)
	}
}

func TestIssueShares_NotApproved(t *testing.T) {
	f := newFixture(t)
	if _, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale); !errors.Is(err, epoch.ErrEpochNotApproved) {
		t.Errorf("expected ErrEpochNotApproved, got %v", err)
	}
}

func TestIssueShares_SharesOverflowRejected(t *testing.T) {
	f := newFixture(t)
	const deposit = uint64(9_000_000_000_000_000_000)
	if err := f.m.RequestDeposit(f.key, investorA, deposit); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.m.ApproveDeposits(f.key, 1, deposit, fpmath.PriceScale); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// nav 0.9 turns 9e18 pool currency into 1e19 shares, past the
	// signed range of the queued delta.
	if _, err := f.m.IssueShares(f.key, 1, 9*fpmath.PriceScale/10); !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	// The rejection happened before any state moved.
	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 0 || h.Value != 0 {
		t.Errorf("holding mutated on rejected issue: (%d, %d)", h.Amount, h.Value)
	}
	rec, _ := f.m.DepositEpoch(f.key, 1)
	if rec.Fulfilled {
		t.Error("epoch marked fulfilled on rejected issue")
	}

	// A nav inside the range still fulfills the same epoch.
	res, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale)
	if err != nil {
		t.Fatalf("issue at par: %v", err)
	}
	if res.Shares != deposit {
		t.Errorf("shares: got %d, want %d", res.Shares, deposit)
	}
}

// ============================================================================
// Test: revocation
// ============================================================================

func TestRevokeShares_Payout(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)

	f.m.RequestRedeem(f.key, investorA, 400)
	if _, err := f.m.ApproveRedeems(f.key, 1, 400, fpmath.PriceScale); err != nil {
		t.Fatalf("approve redeems: %v", err)
	}
	res, err := f.m.RevokeShares(f.key, 1, fpmath.PriceScale)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if res.Shares != 400 || res.PayoutAsset != 400 {
		t.Errorf("result: got (shares %d, payout %d), want (400, 400)", res.Shares, res.PayoutAsset)
	}

	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 600 {
		t.Errorf("holding after payout: got %d, want 600", h.Amount)
	}

	assetV, _ := f.ledger.AccountValue(testPool, accAsset)
	if assetV != 600 {
		t.Errorf("asset account: got %d, want 600", assetV)
	}

	_, withdrawals := f.queue.PendingAssets(f.assetKey())
	if withdrawals != 400 {
		t.Errorf("queued withdrawals: got %d, want 400", withdrawals)
	}
	// +1000 issued, -400 revoked.
	if got := f.queue.PendingShares(f.shareKey()); got != 600 {
		t.Errorf("net share delta: got %d, want 600", got)
	}
}

func TestRevokeShares_ZeroNav(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)

	f.m.RequestRedeem(f.key, investorA, 400)
	f.m.ApproveRedeems(f.key, 1, 400, fpmath.PriceScale)

	res, err := f.m.RevokeShares(f.key, 1, 0)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.PayoutAsset != 0 {
		t.Errorf("zero nav should pay out nothing, got %d", res.PayoutAsset)
	}

	// The shares are still burned cross-network.
	if got := f.queue.PendingShares(f.shareKey()); got != 600 {
		t.Errorf("share delta: got %d, want 600", got)
	}
	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 1000 {
		t.Errorf("holding untouched on zero payout: got %d, want 1000", h.Amount)
	}
}

func TestRevokeShares_ApprovedOverflowRejected(t *testing.T) {
	f := newFixture(t)
	// 9.5e18 shares exceed the signed range the queued burn uses.
	const shares = uint64(9_500_000_000_000_000_000)
	if err := f.m.RequestRedeem(f.key, investorA, shares); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.m.ApproveRedeems(f.key, 1, shares, fpmath.PriceScale); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.m.RevokeShares(f.key, 1, fpmath.PriceScale); !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	rec, _ := f.m.RedeemEpoch(f.key, 1)
	if rec.Fulfilled {
		t.Error("epoch marked fulfilled on rejected revoke")
	}
}

// ============================================================================
// Test: fulfillment priced at approval
// ============================================================================

func TestIssueShares_HoldingPricedAtApprovalPrice(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	if _, err := f.m.ApproveDeposits(f.key, 1, 1000, f.price); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The asset doubles between approval and issuance. The issue leg
	// still moves the epoch's approval-priced value, so the holding and
	// the ledger agree.
	f.price = 2 * fpmath.PriceScale
	if _, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale); err != nil {
		t.Fatalf("issue: %v", err)
	}

	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 1000 || h.Value != 1000 {
		t.Errorf("holding: got (%d, %d), want (1000, 1000)", h.Amount, h.Value)
	}
	assetV, _ := f.ledger.AccountValue(testPool, accAsset)
	if assetV != 1000 {
		t.Errorf("asset account: got %d, want 1000", assetV)
	}
}

func TestRevokeShares_PayoutPricedAtApprovalPrice(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)

	f.m.RequestRedeem(f.key, investorA, 400)
	if _, err := f.m.ApproveRedeems(f.key, 1, 400, fpmath.PriceScale); err != nil {
		t.Fatalf("approve redeems: %v", err)
	}

	// Current valuation doubles after approval; the payout leg is still
	// priced at the approval price on both the holding and the ledger.
	f.price = 2 * fpmath.PriceScale
	res, err := f.m.RevokeShares(f.key, 1, fpmath.PriceScale)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.PayoutAsset != 400 {
		t.Errorf("payout: got %d, want 400", res.PayoutAsset)
	}

	h, _ := f.hold.Get(f.hkey)
	if h.Amount != 600 || h.Value != 600 {
		t.Errorf("holding: got (%d, %d), want (600, 600)", h.Amount, h.Value)
	}
	assetV, _ := f.ledger.AccountValue(testPool, accAsset)
	if assetV != 600 {
		t.Errorf("asset account: got %d, want 600", assetV)
	}
}

// ============================================================================
// Test: revaluation
// ============================================================================

func TestRevalueHolding_PostsGainThenLoss(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)

	f.price = 2 * fpmath.PriceScale
	diff, err := f.m.RevalueHolding(f.hkey)
	if err != nil {
		t.Fatalf("revalue: %v", err)
	}
	if diff != 1000 {
		t.Errorf("gain: got %d, want 1000", diff)
	}
	gainV, _ := f.ledger.AccountValue(testPool, accGain)
	assetV, _ := f.ledger.AccountValue(testPool, accAsset)
	if gainV != 1000 || assetV != 2000 {
		t.Errorf("ledger after gain: got (gain %d, asset %d), want (1000, 2000)", gainV, assetV)
	}

	f.price = fpmath.PriceScale
	diff, err = f.m.RevalueHolding(f.hkey)
	if err != nil {
		t.Fatalf("revalue: %v", err)
	}
	if diff != -1000 {
		t.Errorf("loss: got %d, want -1000", diff)
	}
	lossV, _ := f.ledger.AccountValue(testPool, accLoss)
	if lossV != 1000 {
		t.Errorf("loss account: got %d, want 1000", lossV)
	}
}

func TestRevalueHolding_NoChangeNoPosting(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)
	f.ledger.DrainJournal()

	diff, err := f.m.RevalueHolding(f.hkey)
	if err != nil {
		t.Fatalf("revalue: %v", err)
	}
	if diff != 0 {
		t.Errorf("diff: got %d, want 0", diff)
	}
	if j := f.ledger.DrainJournal(); len(j) != 0 {
		t.Errorf("no posting expected for unchanged value, got %d", len(j))
	}
}
