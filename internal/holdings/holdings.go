package holdings

import (
	"errors"
	"fmt"

	"FundLedger/internal/accounting"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"
)

// Valuation prices one unit of an asset in pool currency (D18).
// Implementations must tolerate a zero price without faulting; a zero
// ratio is a legitimate answer, not an error.
type Valuation interface {
	Price(pool registry.PoolID, sc registry.ShareClassID, asset registry.AssetID) (uint64, error)
}

// IdentityValuation prices every asset 1:1 against the pool currency.
type IdentityValuation struct{}

func (IdentityValuation) Price(registry.PoolID, registry.ShareClassID, registry.AssetID) (uint64, error) {
	return fpmath.PriceScale, nil
}

// PriceFunc adapts an external price source to the Valuation interface.
type PriceFunc func(pool registry.PoolID, sc registry.ShareClassID, asset registry.AssetID) (uint64, error)

func (f PriceFunc) Price(pool registry.PoolID, sc registry.ShareClassID, asset registry.AssetID) (uint64, error) {
	return f(pool, sc, asset)
}

// AccountKind names the ledger account bindings of a holding.
type AccountKind uint8

const (
	AccountAsset AccountKind = iota
	AccountEquity
	AccountGain
	AccountLoss
	AccountExpense
	AccountLiability
)

func (k AccountKind) String() string {
	switch k {
	case AccountAsset:
		return "asset"
	case AccountEquity:
		return "equity"
	case AccountGain:
		return "gain"
	case AccountLoss:
		return "loss"
	case AccountExpense:
		return "expense"
	case AccountLiability:
		return "liability"
	default:
		return "unknown"
	}
}

// ParseAccountKind maps the wire name of an account binding.
func ParseAccountKind(name string) (AccountKind, bool) {
	switch name {
	case "asset":
		return AccountAsset, true
	case "equity":
		return AccountEquity, true
	case "gain":
		return AccountGain, true
	case "loss":
		return AccountLoss, true
	case "expense":
		return AccountExpense, true
	case "liability":
		return AccountLiability, true
	default:
		return 0, false
	}
}

// Key addresses a holding: one per (pool, share class, asset).
type Key struct {
	Pool       registry.PoolID
	ShareClass registry.ShareClassID
	Asset      registry.AssetID
}

var (
	ErrHoldingExists  = errors.New("holding already initialized")
	ErrHoldingUnknown = errors.New("holding not initialized")
	ErrAccountUnbound = errors.New("holding account not bound")
)

// Holding tracks the amount and pool-currency value of one asset held
// for a share class, with its valuation source and account bindings.
type Holding struct {
	Valuation   Valuation
	IsLiability bool
	Amount      uint64
	Value       uint64

	accounts map[AccountKind]accounting.AccountID
}

// Registry is the keyed store of holdings.
// Not thread-safe; mutated only from the single-threaded hub.
type Registry struct {
	holdings map[Key]*Holding
}

func NewRegistry() *Registry {
	return &Registry{
		holdings: make(map[Key]*Holding),
	}
}

// Initialize creates a holding once. Asset holdings bind
// asset/equity/gain/loss accounts; liability holdings bind
// expense/liability. Bindings and valuation stay mutable by the manager.
func (r *Registry) Initialize(key Key, valuation Valuation, isLiability bool, accounts map[AccountKind]accounting.AccountID) error {
	if _, ok := r.holdings[key]; ok {
		return fmt.Errorf("%w: %v", ErrHoldingExists, key)
	}
	h := &Holding{
		Valuation:   valuation,
		IsLiability: isLiability,
		accounts:    make(map[AccountKind]accounting.AccountID, len(accounts)),
	}
	for kind, id := range accounts {
		h.accounts[kind] = id
	}
	r.holdings[key] = h
	return nil
}

// Get returns the holding record.
func (r *Registry) Get(key Key) (*Holding, error) {
	h, ok := r.holdings[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrHoldingUnknown, key)
	}
	return h, nil
}

// SetValuation swaps the valuation source for a holding.
func (r *Registry) SetValuation(key Key, valuation Valuation) error {
	h, err := r.Get(key)
	if err != nil {
		return err
	}
	h.Valuation = valuation
	return nil
}

// SetAccountID rebinds one of the holding's ledger accounts.
func (r *Registry) SetAccountID(key Key, kind AccountKind, id accounting.AccountID) error {
	h, err := r.Get(key)
	if err != nil {
		return err
	}
	h.accounts[kind] = id
	return nil
}

// AccountOf resolves a bound account id.
func (r *Registry) AccountOf(key Key, kind AccountKind) (accounting.AccountID, error) {
	h, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	id, ok := h.accounts[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %v %s", ErrAccountUnbound, key, kind)
	}
	return id, nil
}

// Price queries the holding's valuation source.
func (r *Registry) Price(key Key) (uint64, error) {
	h, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	return h.Valuation.Price(key.Pool, key.ShareClass, key.Asset)
}

// Increase records newly received asset units and the pool-currency
// value they were priced at. The caller prices the movement so the
// carried value and its balanced posting always come from the same
// source, even when the live valuation has moved since.
func (r *Registry) Increase(key Key, amount, value uint64) error {
	h, err := r.Get(key)
	if err != nil {
		return err
	}
	newAmount, err := fpmath.AddU64(h.Amount, amount)
	if err != nil {
		return err
	}
	newValue, err := fpmath.AddU64(h.Value, value)
	if err != nil {
		return err
	}
	h.Amount, h.Value = newAmount, newValue
	return nil
}

// Decrease records asset units leaving the holding at a caller-supplied
// pool-currency value and returns the value actually removed. Underflow
// of the amount is an error; a value above the carried value is capped
// so rounding drift cannot push the carried value negative.
func (r *Registry) Decrease(key Key, amount, value uint64) (uint64, error) {
	h, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	newAmount, err := fpmath.SubU64(h.Amount, amount)
	if err != nil {
		return 0, err
	}
	if value > h.Value {
		value = h.Value
	}
	h.Amount = newAmount
	h.Value -= value
	return value, nil
}

// Revalue reprices the full holding at the current valuation and
// returns the signed difference against the carried value: positive for
// an unrealized gain, negative for a loss. The carried value is updated.
func (r *Registry) Revalue(key Key) (diff uint64, isGain bool, err error) {
	h, err := r.Get(key)
	if err != nil {
		return 0, false, err
	}
	price, err := h.Valuation.Price(key.Pool, key.ShareClass, key.Asset)
	if err != nil {
		return 0, false, err
	}
	current, err := fpmath.PriceValue(h.Amount, price, fpmath.RoundDown)
	if err != nil {
		return 0, false, err
	}
	if current >= h.Value {
		diff, isGain = current-h.Value, true
	} else {
		diff, isGain = h.Value-current, false
	}
	h.Value = current
	return diff, isGain, nil
}

// Snapshot deep-copies all holdings for batch rollback. Valuation
// adapters are shared: they are resolved once per holding and carry no
// mutable state of their own.
func (r *Registry) Snapshot() *Registry {
	snap := NewRegistry()
	for key, h := range r.holdings {
		cp := &Holding{
			Valuation:   h.Valuation,
			IsLiability: h.IsLiability,
			Amount:      h.Amount,
			Value:       h.Value,
			accounts:    make(map[AccountKind]accounting.AccountID, len(h.accounts)),
		}
		for kind, id := range h.accounts {
			cp.accounts[kind] = id
		}
		snap.holdings[key] = cp
	}
	return snap
}

// Restore replaces the registry's contents with a snapshot.
func (r *Registry) Restore(snap *Registry) {
	r.holdings = snap.holdings
}
