package epoch

import (
	"fmt"

	"FundLedger/internal/accounting"
	"FundLedger/internal/deltaqueue"
	"FundLedger/internal/holdings"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"
)

// Manager is the epoch-batched request/fulfillment state machine. It
// owns per-flow deposit and redeem state and drives the ledger,
// holdings, and delta queue on issuance and revocation.
//
// Every epoch on a flow moves Open → Approved → Fulfilled and the
// record is read-only afterwards. All operations are synchronous state
// transitions; there is no I/O here.
// Not thread-safe; mutated only from the single-threaded hub.
type Manager struct {
	reg      *registry.Registry
	ledger   *accounting.Ledger
	holdings *holdings.Registry
	queue    *deltaqueue.Queue

	deposits map[FlowKey]*flowState
	redeems  map[FlowKey]*flowState
}

func NewManager(reg *registry.Registry, ledger *accounting.Ledger, hold *holdings.Registry, queue *deltaqueue.Queue) *Manager {
	return &Manager{
		reg:      reg,
		ledger:   ledger,
		holdings: hold,
		queue:    queue,
		deposits: make(map[FlowKey]*flowState),
		redeems:  make(map[FlowKey]*flowState),
	}
}

func (m *Manager) depositFlow(key FlowKey) *flowState {
	fs, ok := m.deposits[key]
	if !ok {
		fs = newFlowState()
		m.deposits[key] = fs
	}
	return fs
}

func (m *Manager) redeemFlow(key FlowKey) *flowState {
	fs, ok := m.redeems[key]
	if !ok {
		fs = newFlowState()
		m.redeems[key] = fs
	}
	return fs
}

// RequestDeposit adds amount to the investor's pending deposit and the
// flow's aggregate. Overflow of either running total is the only
// failure mode. If the order is captured by an in-flight epoch the
// increment is queued and applied once claims catch up.
func (m *Manager) RequestDeposit(key FlowKey, investor registry.InvestorID, amount uint64) error {
	return m.request(m.depositFlow(key), investor, amount)
}

// RequestRedeem is the share-denominated mirror of RequestDeposit.
func (m *Manager) RequestRedeem(key FlowKey, investor registry.InvestorID, amount uint64) error {
	return m.request(m.redeemFlow(key), investor, amount)
}

func (m *Manager) request(fs *flowState, investor registry.InvestorID, amount uint64) error {
	o := fs.order(investor)
	if o.QueuedCancel {
		return ErrCancellationQueued
	}

	if !fs.canMutate(o) {
		queued, err := fpmath.AddU64(o.QueuedAmount, amount)
		if err != nil {
			return fmt.Errorf("queued request: %w", err)
		}
		o.QueuedAmount = queued
		return nil
	}

	pending, err := fpmath.AddU64(o.Pending, amount)
	if err != nil {
		return fmt.Errorf("investor pending: %w", err)
	}
	total, err := fpmath.AddU64(fs.totalPending, amount)
	if err != nil {
		return fmt.Errorf("total pending: %w", err)
	}
	o.Pending = pending
	fs.totalPending = total
	// Visible from the next approval onwards.
	o.LastUpdate = fs.openEpoch()
	return nil
}

// CancelDepositRequest cancels the investor's entire pending deposit.
// If the pending amount has not been swept into an approved epoch the
// cancellation is immediate: pending zeroes and the amount becomes
// claimable. Otherwise the cancellation is queued and resolves when the
// in-flight epochs are claimed. LastUpdate never moves on cancel.
func (m *Manager) CancelDepositRequest(key FlowKey, investor registry.InvestorID) error {
	return m.cancel(m.depositFlow(key), investor)
}

// CancelRedeemRequest is the redeem-side mirror of CancelDepositRequest.
func (m *Manager) CancelRedeemRequest(key FlowKey, investor registry.InvestorID) error {
	return m.cancel(m.redeemFlow(key), investor)
}

func (m *Manager) cancel(fs *flowState, investor registry.InvestorID) error {
	o, ok := fs.orders[investor]
	if !ok || (o.Pending == 0 && o.QueuedAmount == 0) {
		return ErrNoPendingRequest
	}
	if o.QueuedCancel {
		return ErrCancellationQueued
	}

	if fs.canMutate(o) {
		// Unswept: the aggregate still carries the full pending, so
		// this subtraction is structurally safe.
		removed := o.Pending
		remaining, err := fpmath.SubU64(fs.totalPending, removed)
		if err != nil {
			return fmt.Errorf("total pending: %w", err)
		}
		claimable, err := fpmath.AddU64(o.CancelClaimable, removed)
		if err != nil {
			return fmt.Errorf("cancel claimable: %w", err)
		}
		fs.totalPending = remaining
		o.Pending = 0
		o.CancelClaimable = claimable
		return nil
	}

	// Swept into an in-flight epoch: defer. Any queued increment is
	// folded into the cancellation immediately since it never reached the
	// aggregate.
	if o.QueuedAmount > 0 {
		claimable, err := fpmath.AddU64(o.CancelClaimable, o.QueuedAmount)
		if err != nil {
			return fmt.Errorf("cancel claimable: %w", err)
		}
		o.CancelClaimable = claimable
		o.QueuedAmount = 0
	}
	o.QueuedCancel = true
	return nil
}

// --- Inspection (read-only) ---

// PendingDeposit returns the investor's current pending deposit amount.
func (m *Manager) PendingDeposit(key FlowKey, investor registry.InvestorID) uint64 {
	if fs, ok := m.deposits[key]; ok {
		if o, ok := fs.orders[investor]; ok {
			return o.Pending
		}
	}
	return 0
}

// PendingRedeem returns the investor's current pending redeem shares.
func (m *Manager) PendingRedeem(key FlowKey, investor registry.InvestorID) uint64 {
	if fs, ok := m.redeems[key]; ok {
		if o, ok := fs.orders[investor]; ok {
			return o.Pending
		}
	}
	return 0
}

// TotalPendingDeposit returns the flow's aggregate unswept deposits.
func (m *Manager) TotalPendingDeposit(key FlowKey) uint64 {
	if fs, ok := m.deposits[key]; ok {
		return fs.totalPending
	}
	return 0
}

// TotalPendingRedeem returns the flow's aggregate unswept redeem shares.
func (m *Manager) TotalPendingRedeem(key FlowKey) uint64 {
	if fs, ok := m.redeems[key]; ok {
		return fs.totalPending
	}
	return 0
}

// DepositEpochID returns the open deposit epoch for the flow.
func (m *Manager) DepositEpochID(key FlowKey) uint32 {
	return m.depositFlow(key).openEpoch()
}

// RedeemEpochID returns the open redeem epoch for the flow.
func (m *Manager) RedeemEpochID(key FlowKey) uint32 {
	return m.redeemFlow(key).openEpoch()
}

// DepositOrder returns a copy of the investor's deposit order state.
func (m *Manager) DepositOrder(key FlowKey, investor registry.InvestorID) Order {
	if fs, ok := m.deposits[key]; ok {
		if o, ok := fs.orders[investor]; ok {
			return *o
		}
	}
	return Order{}
}

// RedeemOrder returns a copy of the investor's redeem order state.
func (m *Manager) RedeemOrder(key FlowKey, investor registry.InvestorID) Order {
	if fs, ok := m.redeems[key]; ok {
		if o, ok := fs.orders[investor]; ok {
			return *o
		}
	}
	return Order{}
}

// DepositEpoch returns a copy of a deposit epoch record.
func (m *Manager) DepositEpoch(key FlowKey, epochID uint32) (EpochAmounts, bool) {
	if fs, ok := m.deposits[key]; ok {
		if e, ok := fs.epochs[epochID]; ok {
			return *e, true
		}
	}
	return EpochAmounts{}, false
}

// RedeemEpoch returns a copy of a redeem epoch record.
func (m *Manager) RedeemEpoch(key FlowKey, epochID uint32) (EpochAmounts, bool) {
	if fs, ok := m.redeems[key]; ok {
		if e, ok := fs.epochs[epochID]; ok {
			return *e, true
		}
	}
	return EpochAmounts{}, false
}

// Snapshot deep-copies all flow state for batch rollback.
func (m *Manager) Snapshot() *Manager {
	snap := &Manager{
		reg:      m.reg,
		ledger:   m.ledger,
		holdings: m.holdings,
		queue:    m.queue,
		deposits: make(map[FlowKey]*flowState, len(m.deposits)),
		redeems:  make(map[FlowKey]*flowState, len(m.redeems)),
	}
	for key, fs := range m.deposits {
		snap.deposits[key] = fs.clone()
	}
	for key, fs := range m.redeems {
		snap.redeems[key] = fs.clone()
	}
	return snap
}

// Restore replaces the manager's flow state with a snapshot.
func (m *Manager) Restore(snap *Manager) {
	m.deposits = snap.deposits
	m.redeems = snap.redeems
}
