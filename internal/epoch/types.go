package epoch

import (
	"errors"

	"FundLedger/internal/registry"
)

// FlowKey addresses one request flow: a share class paired with the
// asset investors pay in (deposits) or are paid out in (redemptions).
type FlowKey struct {
	ShareClass registry.ShareClassID
	Asset      registry.AssetID
}

var (
	ErrStaleEpoch          = errors.New("epoch id is not the current epoch")
	ErrEpochNotApproved    = errors.New("epoch has not been approved")
	ErrAlreadyFulfilled    = errors.New("epoch already issued/revoked")
	ErrZeroApproval        = errors.New("nothing pending to approve")
	ErrNoPendingRequest    = errors.New("no pending request")
	ErrCancellationQueued  = errors.New("cancellation already queued")
	ErrHoldingNotSpecified = errors.New("no holding initialized for flow")
)

// Order is one investor's standing request on a flow. Pending only ever
// holds amounts not yet swept into an approved epoch plus the unclaimed
// remainder of partially approved epochs; LastUpdate is the first epoch
// the claim walk has not processed yet.
type Order struct {
	Pending    uint64
	LastUpdate uint32

	// QueuedAmount holds request increments that arrived while the
	// order was captured by an in-flight epoch. Applied once the claim
	// walk catches up.
	QueuedAmount uint64

	// QueuedCancel marks a cancellation deferred past in-flight
	// epochs. Resolved at claim time with the unfulfilled remainder.
	QueuedCancel bool

	// CancelClaimable accumulates cancelled amounts awaiting pickup by
	// the next claim call.
	CancelClaimable uint64
}

// EpochAmounts is the per-epoch approval record. Immutable once
// Fulfilled is set: the claim walk depends on it never changing.
type EpochAmounts struct {
	// Approved is the amount swept out of the aggregate pending total.
	Approved uint64

	// PendingTotal is the aggregate pending at approval time, before
	// the sweep, which is the pro-rata base for claims.
	PendingTotal uint64

	// Price is the pool-currency price per unit (D18) fixed at approval.
	Price uint64

	// NavPerShare (D18) is fixed at issuance/revocation.
	NavPerShare uint64

	// FulfilledOut is the converted output: shares issued for a deposit
	// epoch, payout asset units for a redeem epoch.
	FulfilledOut uint64

	Fulfilled bool
}

// flowState is one side (deposit or redeem) of a flow's epoch machine.
type flowState struct {
	// approved is the latest approved epoch id; the open epoch is
	// approved+1. Never decremented, advanced exactly once per approval.
	approved uint32

	// fulfilled is the latest issued/revoked epoch id; trails approved.
	fulfilled uint32

	// totalPending aggregates unswept order pendings.
	totalPending uint64

	epochs map[uint32]*EpochAmounts
	orders map[registry.InvestorID]*Order
}

func newFlowState() *flowState {
	return &flowState{
		epochs: make(map[uint32]*EpochAmounts),
		orders: make(map[registry.InvestorID]*Order),
	}
}

// openEpoch is the epoch id currently accepting pending requests.
func (fs *flowState) openEpoch() uint32 {
	return fs.approved + 1
}

func (fs *flowState) order(investor registry.InvestorID) *Order {
	o, ok := fs.orders[investor]
	if !ok {
		o = &Order{}
		fs.orders[investor] = o
	}
	return o
}

// canMutate reports whether the order can be changed directly: nothing
// pending, or the pending amount has not been swept into an approved
// epoch yet.
func (fs *flowState) canMutate(o *Order) bool {
	return o.Pending == 0 || o.LastUpdate > fs.approved
}

func (fs *flowState) clone() *flowState {
	cp := &flowState{
		approved:     fs.approved,
		fulfilled:    fs.fulfilled,
		totalPending: fs.totalPending,
		epochs:       make(map[uint32]*EpochAmounts, len(fs.epochs)),
		orders:       make(map[registry.InvestorID]*Order, len(fs.orders)),
	}
	for id, e := range fs.epochs {
		ec := *e
		cp.epochs[id] = &ec
	}
	for inv, o := range fs.orders {
		oc := *o
		cp.orders[inv] = &oc
	}
	return cp
}
