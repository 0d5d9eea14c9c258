package epoch

import (
	"fmt"
	"math"

	"FundLedger/internal/accounting"
	"FundLedger/internal/deltaqueue"
	"FundLedger/internal/holdings"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

// ApproveDeposits sweeps up to maxApproval of the flow's aggregate
// pending deposits into the given epoch, priced in pool currency (D18).
// epochID must be the current open epoch; anything else is rejected.
// The epoch counter advances exactly once per successful approval.
// Returns the approved asset amount.
func (m *Manager) ApproveDeposits(key FlowKey, epochID uint32, maxApproval, price uint64) (uint64, error) {
	return m.approve(m.depositFlow(key), epochID, maxApproval, price)
}

// ApproveRedeems sweeps up to maxApproval pending redeem shares into
// the given epoch. Returns the approved share amount.
func (m *Manager) ApproveRedeems(key FlowKey, epochID uint32, maxApproval, price uint64) (uint64, error) {
	return m.approve(m.redeemFlow(key), epochID, maxApproval, price)
}

func (m *Manager) approve(fs *flowState, epochID uint32, maxApproval, price uint64) (uint64, error) {
	if epochID != fs.openEpoch() {
		return 0, fmt.Errorf("%w: got %d, current %d", ErrStaleEpoch, epochID, fs.openEpoch())
	}

	approved := fs.totalPending
	if maxApproval < approved {
		approved = maxApproval
	}
	if approved == 0 {
		return 0, ErrZeroApproval
	}

	fs.epochs[epochID] = &EpochAmounts{
		Approved:     approved,
		PendingTotal: fs.totalPending,
		Price:        price,
	}
	// Approval only removes from the aggregate; individual orders are
	// resolved pro rata at claim time.
	fs.totalPending -= approved
	fs.approved = epochID
	return approved, nil
}

// IssueResult describes one issuance: what the fulfillment claims and
// the price notification are built from.
type IssueResult struct {
	EpochID     uint32
	NavPerShare uint64
	AssetAmount uint64
	Shares      uint64
	PoolValue   uint64
}

// IssueShares converts the approved asset amount of the referenced
// deposit epoch into shares at navPerShare (D18), rounding down. The
// epoch must be the next unfulfilled approved epoch; issuing it twice
// is rejected. A zero navPerShare deterministically yields zero shares.
//
// Side effects: the holding grows by the approved assets, a balanced
// posting moves the value onto the holding's accounts, and the share
// delta plus asset deposit are queued for cross-network submission.
func (m *Manager) IssueShares(key FlowKey, epochID uint32, navPerShare uint64) (*IssueResult, error) {
	fs := m.depositFlow(key)
	rec, err := nextFulfillable(fs, epochID)
	if err != nil {
		return nil, err
	}

	poolValue, err := fpmath.PriceValue(rec.Approved, rec.Price, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	shares, err := fpmath.AssetsToShares(poolValue, navPerShare)
	if err != nil {
		return nil, err
	}
	// The queued net delta is signed; shares past the signed range
	// would wrap negative.
	if shares > math.MaxInt64 {
		return nil, fmt.Errorf("issued shares: %w", fpmath.ErrOverflow)
	}

	pool, err := m.reg.ShareClassPool(key.ShareClass)
	if err != nil {
		return nil, err
	}
	hkey := holdings.Key{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset}

	// Price the holding growth at the epoch's approval price, matching
	// the posting below.
	if err := m.holdings.Increase(hkey, rec.Approved, poolValue); err != nil {
		return nil, fmt.Errorf("holding increase: %w", err)
	}
	ref := fmt.Sprintf("issue:%s:%d:%d", key.ShareClass, key.Asset, epochID)
	if err := m.postHoldingDelta(pool, hkey, poolValue, ref, true); err != nil {
		return nil, err
	}

	aKey := deltaqueue.AssetKey{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset}
	if err := m.queue.NoteDeposit(aKey, rec.Approved); err != nil {
		return nil, err
	}
	if shares > 0 {
		scKey := deltaqueue.ShareClassKey{Pool: pool, ShareClass: key.ShareClass}
		if err := m.queue.NoteShareDelta(scKey, int64(shares)); err != nil {
			return nil, err
		}
	}

	rec.NavPerShare = navPerShare
	rec.FulfilledOut = shares
	rec.Fulfilled = true
	fs.fulfilled = epochID

	return &IssueResult{
		EpochID:     epochID,
		NavPerShare: navPerShare,
		AssetAmount: rec.Approved,
		Shares:      shares,
		PoolValue:   poolValue,
	}, nil
}

// RevokeResult describes one revocation.
type RevokeResult struct {
	EpochID     uint32
	NavPerShare uint64
	Shares      uint64
	PayoutAsset uint64
	PoolValue   uint64
}

// RevokeShares converts the approved share amount of the referenced
// redeem epoch into payout assets at navPerShare (D18). Both the
// pool-currency value and the asset conversion round down: the pool
// never pays out more than the price implies. A zero navPerShare or a
// zero asset price deterministically yields a zero payout.
func (m *Manager) RevokeShares(key FlowKey, epochID uint32, navPerShare uint64) (*RevokeResult, error) {
	fs := m.redeemFlow(key)
	rec, err := nextFulfillable(fs, epochID)
	if err != nil {
		return nil, err
	}
	// Revocation queues -Approved as a signed delta; reject share
	// amounts past the signed range before any state moves.
	if rec.Approved > math.MaxInt64 {
		return nil, fmt.Errorf("revoked shares: %w", fpmath.ErrOverflow)
	}

	poolValue, err := fpmath.SharesToAssets(rec.Approved, navPerShare)
	if err != nil {
		return nil, err
	}
	// Pool currency back to payout asset units at the approval price.
	var payout uint64
	if rec.Price != 0 {
		payout, err = fpmath.MulDivU64(poolValue, fpmath.PriceScale, rec.Price, fpmath.RoundDown)
		if err != nil {
			return nil, err
		}
	}

	pool, err := m.reg.ShareClassPool(key.ShareClass)
	if err != nil {
		return nil, err
	}
	hkey := holdings.Key{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset}

	// Shrink the holding by the approval-priced value and post exactly
	// what was removed, so the carried value and the ledger stay in
	// lockstep even when rounding caps the removal.
	var removed uint64
	if payout > 0 || poolValue > 0 {
		removed, err = m.holdings.Decrease(hkey, payout, poolValue)
		if err != nil {
			return nil, fmt.Errorf("holding decrease: %w", err)
		}
	}
	ref := fmt.Sprintf("revoke:%s:%d:%d", key.ShareClass, key.Asset, epochID)
	if removed > 0 {
		if err := m.postHoldingDelta(pool, hkey, removed, ref, false); err != nil {
			return nil, err
		}
	}

	aKey := deltaqueue.AssetKey{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset}
	if payout > 0 {
		if err := m.queue.NoteWithdrawal(aKey, payout); err != nil {
			return nil, err
		}
	}
	scKey := deltaqueue.ShareClassKey{Pool: pool, ShareClass: key.ShareClass}
	if err := m.queue.NoteShareDelta(scKey, -int64(rec.Approved)); err != nil {
		return nil, err
	}

	rec.NavPerShare = navPerShare
	rec.FulfilledOut = payout
	rec.Fulfilled = true
	fs.fulfilled = epochID

	return &RevokeResult{
		EpochID:     epochID,
		NavPerShare: navPerShare,
		Shares:      rec.Approved,
		PayoutAsset: payout,
		PoolValue:   poolValue,
	}, nil
}

// nextFulfillable validates that epochID is the next approved epoch
// awaiting fulfillment and returns its record.
func nextFulfillable(fs *flowState, epochID uint32) (*EpochAmounts, error) {
	if epochID > fs.approved {
		return nil, fmt.Errorf("%w: epoch %d", ErrEpochNotApproved, epochID)
	}
	if epochID != fs.fulfilled+1 {
		if rec, ok := fs.epochs[epochID]; ok && rec.Fulfilled {
			return nil, fmt.Errorf("%w: epoch %d", ErrAlreadyFulfilled, epochID)
		}
		return nil, fmt.Errorf("%w: got %d, next %d", ErrStaleEpoch, epochID, fs.fulfilled+1)
	}
	rec, ok := fs.epochs[epochID]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", ErrEpochNotApproved, epochID)
	}
	if rec.Fulfilled {
		return nil, fmt.Errorf("%w: epoch %d", ErrAlreadyFulfilled, epochID)
	}
	return rec, nil
}

// postHoldingDelta writes the balanced entry for an issuance (increase:
// debit the asset holding account, credit equity) or a revocation
// (decrease: the inverse). Liability holdings post on their
// expense/liability pair instead.
func (m *Manager) postHoldingDelta(pool registry.PoolID, hkey holdings.Key, value uint64, ref string, increase bool) error {
	h, err := m.holdings.Get(hkey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHoldingNotSpecified, hkey)
	}

	var from, to holdings.AccountKind
	if h.IsLiability {
		from, to = holdings.AccountLiability, holdings.AccountExpense
	} else {
		from, to = holdings.AccountEquity, holdings.AccountAsset
	}
	debitKind, creditKind := to, from
	if !increase {
		debitKind, creditKind = from, to
	}

	debit, err := m.holdings.AccountOf(hkey, debitKind)
	if err != nil {
		return err
	}
	credit, err := m.holdings.AccountOf(hkey, creditKind)
	if err != nil {
		return err
	}

	return m.ledger.Post(&accounting.Posting{
		ID:      uuid.New(),
		Pool:    pool,
		Ref:     ref,
		Debits:  []accounting.Entry{{Account: debit, Value: value}},
		Credits: []accounting.Entry{{Account: credit, Value: value}},
	})
}

// RevalueHolding reprices a holding at its current valuation and posts
// the unrealized gain or loss onto the holding's gain/loss accounts.
// Returns the signed value change applied.
func (m *Manager) RevalueHolding(hkey holdings.Key) (int64, error) {
	diff, isGain, err := m.holdings.Revalue(hkey)
	if err != nil {
		return 0, err
	}
	if diff == 0 {
		return 0, nil
	}

	assetAcc, err := m.holdings.AccountOf(hkey, holdings.AccountAsset)
	if err != nil {
		return 0, err
	}
	var counter holdings.AccountKind
	if isGain {
		counter = holdings.AccountGain
	} else {
		counter = holdings.AccountLoss
	}
	counterAcc, err := m.holdings.AccountOf(hkey, counter)
	if err != nil {
		return 0, err
	}

	debit, credit := assetAcc, counterAcc
	if !isGain {
		debit, credit = counterAcc, assetAcc
	}
	ref := fmt.Sprintf("revalue:%s:%d", hkey.ShareClass, hkey.Asset)
	err = m.ledger.Post(&accounting.Posting{
		ID:      uuid.New(),
		Pool:    hkey.Pool,
		Ref:     ref,
		Debits:  []accounting.Entry{{Account: debit, Value: diff}},
		Credits: []accounting.Entry{{Account: credit, Value: diff}},
	})
	if err != nil {
		return 0, err
	}
	if isGain {
		return int64(diff), nil
	}
	return -int64(diff), nil
}
