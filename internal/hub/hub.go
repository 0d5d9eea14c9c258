package hub

import (
	"errors"
	"fmt"

	"FundLedger/internal/accounting"
	"FundLedger/internal/deltaqueue"
	"FundLedger/internal/epoch"
	"FundLedger/internal/event"
	"FundLedger/internal/holdings"
	"FundLedger/internal/registry"

	"github.com/rs/zerolog"
)

var (
	ErrNotManager = errors.New("sender is not a pool manager")
	ErrBatchOpen  = errors.New("batch already open")
)

// Notifier receives committed outbound messages. Publication happens
// strictly after the state mutation commits; a failed operation never
// reaches the notifier.
type Notifier interface {
	Publish(msgs ...event.Outbound) error
}

// NopNotifier drops all messages. Used by tests and the migrator.
type NopNotifier struct{}

func (NopNotifier) Publish(...event.Outbound) error { return nil }

// Hub is the single entry point for all mutations. It wires the
// registry, ledger, holdings, epoch manager, and delta queue together,
// enforces manager authorization, and guarantees that every operation
// (and every batch) applies fully or not at all.
//
// All methods must be called from one goroutine; the ingestion worker
// owns the hub at runtime.
type Hub struct {
	log      zerolog.Logger
	reg      *registry.Registry
	ledger   *accounting.Ledger
	holdings *holdings.Registry
	queue    *deltaqueue.Queue
	epochs   *epoch.Manager
	notifier Notifier

	outbox  []event.Outbound
	inBatch bool
}

func New(log zerolog.Logger, notifier Notifier) *Hub {
	reg := registry.NewRegistry()
	ledger := accounting.NewLedger()
	hold := holdings.NewRegistry()
	queue := deltaqueue.NewQueue()
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		reg:      reg,
		ledger:   ledger,
		holdings: hold,
		queue:    queue,
		epochs:   epoch.NewManager(reg, ledger, hold, queue),
		notifier: notifier,
	}
}

// SetNotifier swaps the notifier. Startup replay runs against a
// NopNotifier so recovered operations are not re-published.
func (h *Hub) SetNotifier(n Notifier) {
	h.notifier = n
}

// --- Read-side accessors ---

func (h *Hub) Registry() *registry.Registry { return h.reg }
func (h *Hub) Ledger() *accounting.Ledger   { return h.ledger }
func (h *Hub) Holdings() *holdings.Registry { return h.holdings }
func (h *Hub) Queue() *deltaqueue.Queue     { return h.queue }
func (h *Hub) Epochs() *epoch.Manager       { return h.epochs }

// --- Atomicity machinery ---

type snapshot struct {
	reg      *registry.Registry
	ledger   *accounting.Ledger
	holdings *holdings.Registry
	queue    *deltaqueue.Queue
	epochs   *epoch.Manager
	outbox   int
}

func (h *Hub) snapshot() *snapshot {
	return &snapshot{
		reg:      h.reg.Snapshot(),
		ledger:   h.ledger.Snapshot(),
		holdings: h.holdings.Snapshot(),
		queue:    h.queue.Snapshot(),
		epochs:   h.epochs.Snapshot(),
		outbox:   len(h.outbox),
	}
}

func (h *Hub) restore(s *snapshot) {
	h.reg.Restore(s.reg)
	h.ledger.Restore(s.ledger)
	h.holdings.Restore(s.holdings)
	h.queue.Restore(s.queue)
	h.epochs.Restore(s.epochs)
	h.outbox = h.outbox[:s.outbox]
}

// run wraps one operation: snapshot, apply, restore on failure, flush
// collected messages on success. Inside a batch the enclosing Batch
// call owns the snapshot and the flush.
func (h *Hub) run(op string, fn func() error) error {
	if h.inBatch {
		return fn()
	}
	snap := h.snapshot()
	if err := fn(); err != nil {
		h.restore(snap)
		h.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}
	return h.flush()
}

func (h *Hub) flush() error {
	if len(h.outbox) == 0 {
		return nil
	}
	msgs := h.outbox
	h.outbox = nil
	return h.notifier.Publish(msgs...)
}

func (h *Hub) emit(msg event.Outbound) {
	h.outbox = append(h.outbox, msg)
}

// Batch runs fn as one atomic unit: if any operation inside fails, all
// of them roll back and no message is published. Nested batches are
// rejected.
func (h *Hub) Batch(fn func(*Hub) error) error {
	if h.inBatch {
		return ErrBatchOpen
	}
	snap := h.snapshot()
	h.inBatch = true
	err := fn(h)
	h.inBatch = false
	if err != nil {
		h.restore(snap)
		h.log.Debug().Err(err).Msg("batch rolled back")
		return err
	}
	return h.flush()
}

func (h *Hub) requireManager(pool registry.PoolID, sender registry.InvestorID) error {
	if !h.reg.IsManager(pool, sender) {
		return fmt.Errorf("%w: pool %d sender %s", ErrNotManager, pool, sender)
	}
	return nil
}

func (h *Hub) flowPool(key epoch.FlowKey) (registry.PoolID, error) {
	return h.reg.ShareClassPool(key.ShareClass)
}

// --- Registry operations ---

// RegisterAsset records a payment/payout asset announced by a network.
func (h *Hub) RegisterAsset(id registry.AssetID, symbol string, decimals uint8, origin string) error {
	return h.run("register_asset", func() error {
		return h.reg.RegisterAsset(id, symbol, decimals, origin)
	})
}

// CreatePool creates a pool with sender as its admin and announces it.
func (h *Hub) CreatePool(sender registry.InvestorID, pool registry.PoolID, currency registry.AssetID) error {
	return h.run("create_pool", func() error {
		if err := h.reg.CreatePool(pool, sender, currency); err != nil {
			return err
		}
		h.emit(&event.NotifyPool{Pool: pool})
		h.log.Info().Uint64("pool", uint64(pool)).Msg("pool created")
		return nil
	})
}

// AddShareClass attaches a share class to the pool and announces it.
func (h *Hub) AddShareClass(sender registry.InvestorID, pool registry.PoolID, sc registry.ShareClassID) error {
	return h.run("add_share_class", func() error {
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		if err := h.reg.AddShareClass(pool, sc); err != nil {
			return err
		}
		h.emit(&event.NotifyShareClass{Pool: pool, ShareClass: sc})
		return nil
	})
}

// UpdateManager grants or revokes delegated manager rights.
func (h *Hub) UpdateManager(sender registry.InvestorID, pool registry.PoolID, who registry.InvestorID, canManage bool) error {
	return h.run("update_manager", func() error {
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		return h.reg.UpdateManager(pool, who, canManage)
	})
}

// SetPoolMetadata replaces the pool's metadata blob.
func (h *Hub) SetPoolMetadata(sender registry.InvestorID, pool registry.PoolID, metadata []byte) error {
	return h.run("set_pool_metadata", func() error {
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		return h.reg.SetMetadata(pool, metadata)
	})
}

// --- Accounting operations ---

// CreateAccount registers a ledger account on the pool.
func (h *Hub) CreateAccount(sender registry.InvestorID, pool registry.PoolID, id accounting.AccountID, isDebitNormal bool) error {
	return h.run("create_account", func() error {
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		return h.ledger.CreateAccount(pool, id, isDebitNormal)
	})
}

// --- Holding operations ---

// InitializeHolding creates the holding for (pool, share class, asset)
// with its valuation source and ledger account bindings. Every bound
// account must already exist on the pool.
func (h *Hub) InitializeHolding(sender registry.InvestorID, key holdings.Key, valuation holdings.Valuation, isLiability bool, accounts map[holdings.AccountKind]accounting.AccountID) error {
	return h.run("initialize_holding", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		pool, err := h.reg.ShareClassPool(key.ShareClass)
		if err != nil {
			return err
		}
		if pool != key.Pool {
			return fmt.Errorf("%w: %s", registry.ErrShareClassUnknown, key.ShareClass)
		}
		if _, err := h.reg.Asset(key.Asset); err != nil {
			return err
		}
		for kind, id := range accounts {
			if !h.ledger.Exists(key.Pool, id) {
				return fmt.Errorf("%w: pool %d account %d (%s)", accounting.ErrAccountUnknown, key.Pool, id, kind)
			}
		}
		return h.holdings.Initialize(key, valuation, isLiability, accounts)
	})
}

// UpdateHoldingValuation swaps the valuation source.
func (h *Hub) UpdateHoldingValuation(sender registry.InvestorID, key holdings.Key, valuation holdings.Valuation) error {
	return h.run("update_holding_valuation", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		return h.holdings.SetValuation(key, valuation)
	})
}

// SetHoldingAccount rebinds one of the holding's ledger accounts.
func (h *Hub) SetHoldingAccount(sender registry.InvestorID, key holdings.Key, kind holdings.AccountKind, id accounting.AccountID) error {
	return h.run("set_holding_account", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		if !h.ledger.Exists(key.Pool, id) {
			return fmt.Errorf("%w: pool %d account %d", accounting.ErrAccountUnknown, key.Pool, id)
		}
		return h.holdings.SetAccountID(key, kind, id)
	})
}

// RevalueHolding reprices the holding and posts the unrealized gain or
// loss. Returns the signed pool-currency change.
func (h *Hub) RevalueHolding(sender registry.InvestorID, key holdings.Key) (int64, error) {
	var diff int64
	err := h.run("revalue_holding", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		var err error
		diff, err = h.epochs.RevalueHolding(key)
		return err
	})
	return diff, err
}

// --- Investor operations ---

// RequestDeposit places or tops up the investor's pending deposit.
func (h *Hub) RequestDeposit(investor registry.InvestorID, key epoch.FlowKey, amount uint64) error {
	return h.run("request_deposit", func() error {
		if _, err := h.flowPool(key); err != nil {
			return err
		}
		return h.epochs.RequestDeposit(key, investor, amount)
	})
}

// RequestRedeem places or tops up the investor's pending redemption.
func (h *Hub) RequestRedeem(investor registry.InvestorID, key epoch.FlowKey, amount uint64) error {
	return h.run("request_redeem", func() error {
		if _, err := h.flowPool(key); err != nil {
			return err
		}
		return h.epochs.RequestRedeem(key, investor, amount)
	})
}

// CancelDepositRequest cancels the investor's pending deposit, now or
// deferred past in-flight epochs.
func (h *Hub) CancelDepositRequest(investor registry.InvestorID, key epoch.FlowKey) error {
	return h.run("cancel_deposit", func() error {
		return h.epochs.CancelDepositRequest(key, investor)
	})
}

// CancelRedeemRequest cancels the investor's pending redemption.
func (h *Hub) CancelRedeemRequest(investor registry.InvestorID, key epoch.FlowKey) error {
	return h.run("cancel_redeem", func() error {
		return h.epochs.CancelRedeemRequest(key, investor)
	})
}

// ClaimDeposit settles the investor's fulfilled deposit epochs and
// confirms the result to the investor's network.
func (h *Hub) ClaimDeposit(investor registry.InvestorID, key epoch.FlowKey, maxClaims uint32) (*epoch.ClaimResult, error) {
	var res *epoch.ClaimResult
	err := h.run("claim_deposit", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		res, err = h.epochs.ClaimDeposit(key, investor, maxClaims)
		if err != nil {
			return err
		}
		if res.Consumed > 0 || res.Out > 0 || res.Cancelled > 0 {
			h.emit(&event.DepositFulfillment{
				Pool:            pool,
				ShareClass:      key.ShareClass,
				Asset:           key.Asset,
				Investor:        investor,
				AssetAmount:     res.Consumed,
				ShareAmount:     res.Out,
				CancelledAmount: res.Cancelled,
				LastUpdate:      res.LastUpdate,
			})
		}
		return nil
	})
	return res, err
}

// ClaimRedeem settles the investor's fulfilled redeem epochs and
// confirms the result to the investor's network.
func (h *Hub) ClaimRedeem(investor registry.InvestorID, key epoch.FlowKey, maxClaims uint32) (*epoch.ClaimResult, error) {
	var res *epoch.ClaimResult
	err := h.run("claim_redeem", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		res, err = h.epochs.ClaimRedeem(key, investor, maxClaims)
		if err != nil {
			return err
		}
		if res.Consumed > 0 || res.Out > 0 || res.Cancelled > 0 {
			h.emit(&event.RedeemFulfillment{
				Pool:            pool,
				ShareClass:      key.ShareClass,
				Asset:           key.Asset,
				Investor:        investor,
				ShareAmount:     res.Consumed,
				AssetAmount:     res.Out,
				CancelledAmount: res.Cancelled,
				LastUpdate:      res.LastUpdate,
			})
		}
		return nil
	})
	return res, err
}

// --- Manager fulfillment operations ---

// ApproveDeposits sweeps pending deposits into the open epoch at the
// holding's current valuation price. Returns the approved amount.
func (h *Hub) ApproveDeposits(sender registry.InvestorID, key epoch.FlowKey, epochID uint32, maxApproval uint64) (uint64, error) {
	var approved uint64
	err := h.run("approve_deposits", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		price, err := h.holdings.Price(holdings.Key{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset})
		if err != nil {
			return err
		}
		approved, err = h.epochs.ApproveDeposits(key, epochID, maxApproval, price)
		return err
	})
	return approved, err
}

// ApproveRedeems sweeps pending redeem shares into the open epoch.
func (h *Hub) ApproveRedeems(sender registry.InvestorID, key epoch.FlowKey, epochID uint32, maxApproval uint64) (uint64, error) {
	var approved uint64
	err := h.run("approve_redeems", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		price, err := h.holdings.Price(holdings.Key{Pool: pool, ShareClass: key.ShareClass, Asset: key.Asset})
		if err != nil {
			return err
		}
		approved, err = h.epochs.ApproveRedeems(key, epochID, maxApproval, price)
		return err
	})
	return approved, err
}

// IssueShares fulfills an approved deposit epoch at navPerShare and
// pushes the resulting share price to other networks.
func (h *Hub) IssueShares(sender registry.InvestorID, key epoch.FlowKey, epochID uint32, navPerShare uint64) (*epoch.IssueResult, error) {
	var res *epoch.IssueResult
	err := h.run("issue_shares", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		res, err = h.epochs.IssueShares(key, epochID, navPerShare)
		if err != nil {
			return err
		}
		h.emit(&event.NotifySharePrice{
			Pool:        pool,
			ShareClass:  key.ShareClass,
			Asset:       key.Asset,
			NavPerShare: navPerShare,
			EpochID:     epochID,
		})
		h.log.Info().
			Uint64("pool", uint64(pool)).
			Uint32("epoch", epochID).
			Uint64("shares", res.Shares).
			Msg("shares issued")
		return nil
	})
	return res, err
}

// RevokeShares fulfills an approved redeem epoch at navPerShare.
func (h *Hub) RevokeShares(sender registry.InvestorID, key epoch.FlowKey, epochID uint32, navPerShare uint64) (*epoch.RevokeResult, error) {
	var res *epoch.RevokeResult
	err := h.run("revoke_shares", func() error {
		pool, err := h.flowPool(key)
		if err != nil {
			return err
		}
		if err := h.requireManager(pool, sender); err != nil {
			return err
		}
		res, err = h.epochs.RevokeShares(key, epochID, navPerShare)
		if err != nil {
			return err
		}
		h.emit(&event.NotifySharePrice{
			Pool:        pool,
			ShareClass:  key.ShareClass,
			Asset:       key.Asset,
			NavPerShare: navPerShare,
			EpochID:     epochID,
		})
		h.log.Info().
			Uint64("pool", uint64(pool)).
			Uint32("epoch", epochID).
			Uint64("payout", res.PayoutAsset).
			Msg("shares revoked")
		return nil
	})
	return res, err
}

// --- Delta queue operations ---

// Reserve locks asset funds for later queued movement.
func (h *Hub) Reserve(sender registry.InvestorID, key deltaqueue.AssetKey, amount uint64) error {
	return h.run("reserve", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		return h.queue.Reserve(key, amount)
	})
}

// Unreserve releases previously reserved funds.
func (h *Hub) Unreserve(sender registry.InvestorID, key deltaqueue.AssetKey, amount uint64) error {
	return h.run("unreserve", func() error {
		if err := h.requireManager(key.Pool, sender); err != nil {
			return err
		}
		return h.queue.Unreserve(key, amount)
	})
}

// SubmitQueuedAssets drains the asset accumulators for the key into one
// cross-network submission. Called by the scheduled submitter.
func (h *Hub) SubmitQueuedAssets(key deltaqueue.AssetKey) error {
	return h.run("submit_queued_assets", func() error {
		msg, err := h.queue.SubmitAssets(key)
		if err != nil {
			return err
		}
		h.emit(msg)
		return nil
	})
}

// SubmitQueuedShares drains the net share delta for the key into one
// cross-network submission.
func (h *Hub) SubmitQueuedShares(key deltaqueue.ShareClassKey) error {
	return h.run("submit_queued_shares", func() error {
		msg, err := h.queue.SubmitShares(key)
		if err != nil {
			return err
		}
		h.emit(msg)
		return nil
	})
}

// SubmitAllQueued drains every non-empty accumulator. Partial progress
// is fine here: each submission commits independently so one bad key
// cannot block the rest.
func (h *Hub) SubmitAllQueued() (int, error) {
	submitted := 0
	var firstErr error
	for _, key := range h.queue.NonEmptyAssets() {
		if err := h.SubmitQueuedAssets(key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		submitted++
	}
	for _, key := range h.queue.NonEmptyShareClasses() {
		if err := h.SubmitQueuedShares(key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		submitted++
	}
	return submitted, firstErr
}
