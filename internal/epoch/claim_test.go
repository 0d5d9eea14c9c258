package epoch_test

import (
	"testing"

	fpmath "FundLedger/internal/math"
)

// ============================================================================
// Test: claim walk
// ============================================================================

func TestClaimDeposit_ProRataAcrossInvestors(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.RequestDeposit(f.key, investorB, 3000)
	f.m.ApproveDeposits(f.key, 1, 2000, fpmath.PriceScale)
	if _, err := f.m.IssueShares(f.key, 1, fpmath.PriceScale); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Half of the aggregate was approved, so each order settles half.
	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim A: %v", err)
	}
	if res.Consumed != 500 || res.Out != 500 {
		t.Errorf("A: got (consumed %d, out %d), want (500, 500)", res.Consumed, res.Out)
	}
	if res.EpochsClaimed != 1 || res.LastUpdate != 2 {
		t.Errorf("A cursor: got (%d epochs, cursor %d), want (1, 2)", res.EpochsClaimed, res.LastUpdate)
	}

	res, err = f.m.ClaimDeposit(f.key, investorB, 0)
	if err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if res.Consumed != 1500 || res.Out != 1500 {
		t.Errorf("B: got (consumed %d, out %d), want (1500, 1500)", res.Consumed, res.Out)
	}

	// Unapproved remainders stay pending.
	if got := f.m.PendingDeposit(f.key, investorA); got != 500 {
		t.Errorf("A remainder: got %d, want 500", got)
	}
	if got := f.m.PendingDeposit(f.key, investorB); got != 1500 {
		t.Errorf("B remainder: got %d, want 1500", got)
	}
}

func TestClaimDeposit_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 100)
	f.m.ApproveDeposits(f.key, 1, 100, fpmath.PriceScale)

	// nav 2.0: 100 units buys 50 shares.
	issued, err := f.m.IssueShares(f.key, 1, 2*fpmath.PriceScale)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Shares != 50 {
		t.Errorf("shares: got %d, want 50", issued.Shares)
	}

	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Consumed != 100 || res.Out != 50 {
		t.Errorf("settled: got (%d, %d), want (100, 50)", res.Consumed, res.Out)
	}
	if res.LastUpdate != 2 {
		t.Errorf("cursor: got %d, want 2", res.LastUpdate)
	}
	if got := f.m.PendingDeposit(f.key, investorA); got != 0 {
		t.Errorf("pending: got %d, want 0", got)
	}
}

func TestClaimDeposit_NothingToSettle(t *testing.T) {
	f := newFixture(t)
	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim with no order should be benign: %v", err)
	}
	if res.Consumed != 0 || res.Out != 0 || res.EpochsClaimed != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestClaimDeposit_StopsAtUnfulfilledEpoch(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.ApproveDeposits(f.key, 1, 1000, fpmath.PriceScale)

	// Approved but not issued: the walk stops without error and the
	// cursor stays put.
	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.EpochsClaimed != 0 || res.LastUpdate != 1 {
		t.Errorf("got (%d epochs, cursor %d), want (0, 1)", res.EpochsClaimed, res.LastUpdate)
	}
}

func TestClaimDeposit_MaxClaimsBoundsTheWalk(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.ApproveDeposits(f.key, 1, 400, fpmath.PriceScale)
	f.m.IssueShares(f.key, 1, fpmath.PriceScale)
	f.m.ApproveDeposits(f.key, 2, 600, fpmath.PriceScale)
	f.m.IssueShares(f.key, 2, fpmath.PriceScale)

	res, err := f.m.ClaimDeposit(f.key, investorA, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.EpochsClaimed != 1 || res.Consumed != 400 {
		t.Errorf("bounded claim: got (%d epochs, %d consumed), want (1, 400)", res.EpochsClaimed, res.Consumed)
	}

	res, err = f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if res.EpochsClaimed != 1 || res.Consumed != 600 {
		t.Errorf("resumed claim: got (%d epochs, %d consumed), want (1, 600)", res.EpochsClaimed, res.Consumed)
	}
	if got := f.m.PendingDeposit(f.key, investorA); got != 0 {
		t.Errorf("pending after full settle: got %d, want 0", got)
	}
}

func TestClaimRedeem_SharesInAssetsOut(t *testing.T) {
	f := newFixture(t)
	f.issueDeposits(t, 1000, fpmath.PriceScale)

	f.m.RequestRedeem(f.key, investorA, 400)
	f.m.ApproveRedeems(f.key, 1, 400, fpmath.PriceScale)
	// nav 2.0: 400 shares pays out 800 pool currency worth of assets.
	if _, err := f.m.RevokeShares(f.key, 1, 2*fpmath.PriceScale); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	res, err := f.m.ClaimRedeem(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Consumed != 400 || res.Out != 800 {
		t.Errorf("got (consumed %d, out %d), want (400, 800)", res.Consumed, res.Out)
	}
}

// ============================================================================
// Test: deferred state resolution
// ============================================================================

func TestClaim_QueuedCancelReleasesRemainder(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.ApproveDeposits(f.key, 1, 400, fpmath.PriceScale)
	if err := f.m.CancelDepositRequest(f.key, investorA); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.m.IssueShares(f.key, 1, fpmath.PriceScale)

	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Epoch 1 settles 400; the unfulfilled 600 is released by the
	// deferred cancellation.
	if res.Consumed != 400 || res.Out != 400 {
		t.Errorf("settled: got (%d, %d), want (400, 400)", res.Consumed, res.Out)
	}
	if res.Cancelled != 600 {
		t.Errorf("cancelled: got %d, want 600", res.Cancelled)
	}
	if got := f.m.PendingDeposit(f.key, investorA); got != 0 {
		t.Errorf("pending: got %d, want 0", got)
	}
	if got := f.m.TotalPendingDeposit(f.key); got != 0 {
		t.Errorf("total pending: got %d, want 0", got)
	}
}

func TestClaim_QueuedAmountRejoinsOpenEpoch(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.ApproveDeposits(f.key, 1, 1000, fpmath.PriceScale)
	f.m.RequestDeposit(f.key, investorA, 300) // queued while captured
	f.m.IssueShares(f.key, 1, fpmath.PriceScale)

	res, err := f.m.ClaimDeposit(f.key, investorA, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Consumed != 1000 {
		t.Errorf("consumed: got %d, want 1000", res.Consumed)
	}

	// The queued increment rejoined the open epoch.
	if got := f.m.PendingDeposit(f.key, investorA); got != 300 {
		t.Errorf("pending: got %d, want 300", got)
	}
	if got := f.m.TotalPendingDeposit(f.key); got != 300 {
		t.Errorf("total pending: got %d, want 300", got)
	}
	o := f.m.DepositOrder(f.key, investorA)
	if o.LastUpdate != 2 || o.QueuedAmount != 0 {
		t.Errorf("order: got (cursor %d, queued %d), want (2, 0)", o.LastUpdate, o.QueuedAmount)
	}
}

func TestClaim_CancelledPickedUpOnce(t *testing.T) {
	f := newFixture(t)
	f.m.RequestDeposit(f.key, investorA, 1000)
	f.m.CancelDepositRequest(f.key, investorA)

	res, _ := f.m.ClaimDeposit(f.key, investorA, 0)
	if res.Cancelled != 1000 {
		t.Fatalf("first claim: got %d, want 1000", res.Cancelled)
	}
	res, _ = f.m.ClaimDeposit(f.key, investorA, 0)
	if res.Cancelled != 0 {
		t.Errorf("second claim should pick up nothing, got %d", res.Cancelled)
	}
}
