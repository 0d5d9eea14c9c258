package epoch

import (
	"fmt"

	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"
)

// ClaimResult is the outcome of one claim call: the pro-rata settlement
// of every fulfilled epoch the order was captured by, up to maxClaims.
type ClaimResult struct {
	// Consumed is the requested amount absorbed by fulfilled epochs:
	// assets for deposits, shares for redemptions.
	Consumed uint64

	// Out is the converted side owed to the investor: shares for
	// deposits, payout assets for redemptions.
	Out uint64

	// Cancelled is the cancellation amount released to the investor, in
	// request units.
	Cancelled uint64

	// LastUpdate is the order's claim cursor after the walk.
	LastUpdate uint32

	// EpochsClaimed counts fulfilled epochs settled by this call.
	EpochsClaimed uint32
}

// ClaimDeposit settles the investor's share of every fulfilled deposit
// epoch the order was captured by, oldest first, stopping at maxClaims
// epochs (0 means no cap) or at the first unfulfilled epoch. Claiming
// with nothing to settle is not an error: the walk simply reports zero.
//
// Once the cursor passes the latest approved epoch, deferred state
// resolves: a queued cancellation releases the unfulfilled remainder,
// and queued request increments rejoin the open epoch.
func (m *Manager) ClaimDeposit(key FlowKey, investor registry.InvestorID, maxClaims uint32) (*ClaimResult, error) {
	return m.claim(m.depositFlow(key), investor, maxClaims)
}

// ClaimRedeem is the redeem-side mirror of ClaimDeposit: it consumes
// shares and pays out assets.
func (m *Manager) ClaimRedeem(key FlowKey, investor registry.InvestorID, maxClaims uint32) (*ClaimResult, error) {
	return m.claim(m.redeemFlow(key), investor, maxClaims)
}

func (m *Manager) claim(fs *flowState, investor registry.InvestorID, maxClaims uint32) (*ClaimResult, error) {
	o := fs.order(investor)
	res := &ClaimResult{}

	for o.Pending > 0 && o.LastUpdate <= fs.approved {
		if maxClaims > 0 && res.EpochsClaimed == maxClaims {
			break
		}
		epochID := o.LastUpdate
		rec, ok := fs.epochs[epochID]
		if !ok {
			return nil, fmt.Errorf("%w: epoch %d", ErrEpochNotApproved, epochID)
		}
		if !rec.Fulfilled {
			// The manager has not issued/revoked this epoch yet. Stop
			// here; the walk resumes from the same cursor later.
			break
		}

		payment, err := fpmath.MulDivU64(o.Pending, rec.Approved, rec.PendingTotal, fpmath.RoundDown)
		if err != nil {
			return nil, fmt.Errorf("pro rata payment: %w", err)
		}
		var out uint64
		if payment > 0 {
			out, err = fpmath.MulDivU64(rec.FulfilledOut, payment, rec.Approved, fpmath.RoundDown)
			if err != nil {
				return nil, fmt.Errorf("pro rata output: %w", err)
			}
		}

		o.Pending -= payment
		consumed, err := fpmath.AddU64(res.Consumed, payment)
		if err != nil {
			return nil, err
		}
		total, err := fpmath.AddU64(res.Out, out)
		if err != nil {
			return nil, err
		}
		res.Consumed = consumed
		res.Out = total
		res.EpochsClaimed++
		o.LastUpdate = epochID + 1
	}

	if fs.canMutate(o) {
		if err := fs.resolveQueued(o); err != nil {
			return nil, err
		}
	}

	res.Cancelled = o.CancelClaimable
	o.CancelClaimable = 0
	res.LastUpdate = o.LastUpdate
	return res, nil
}

// resolveQueued applies deferred order state once the claim cursor has
// passed every approved epoch.
func (fs *flowState) resolveQueued(o *Order) error {
	if o.QueuedCancel {
		remainder := o.Pending
		claimable, err := fpmath.AddU64(o.CancelClaimable, remainder)
		if err != nil {
			return fmt.Errorf("cancel claimable: %w", err)
		}
		if remainder > fs.totalPending {
			// Pro-rata rounding leaves orders carrying marginally more
			// than their slice of the aggregate; clamp the sweep.
			remainder = fs.totalPending
		}
		fs.totalPending -= remainder
		o.Pending = 0
		o.CancelClaimable = claimable
		o.QueuedCancel = false
		return nil
	}

	if o.QueuedAmount > 0 {
		pending, err := fpmath.AddU64(o.Pending, o.QueuedAmount)
		if err != nil {
			return fmt.Errorf("investor pending: %w", err)
		}
		total, err := fpmath.AddU64(fs.totalPending, o.QueuedAmount)
		if err != nil {
			return fmt.Errorf("total pending: %w", err)
		}
		o.Pending = pending
		fs.totalPending = total
		o.QueuedAmount = 0
		o.LastUpdate = fs.openEpoch()
	}
	return nil
}
