package accounting

import (
	"errors"
	"fmt"
	"math"

	fpmath "FundLedger/internal/math"
	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

// AccountID identifies an account within a pool. Accounts are created
// once, never deleted, and keep their polarity for life.
type AccountID uint32

// AccountKey is the composite map key for balances.
type AccountKey struct {
	Pool    registry.PoolID
	Account AccountID
}

var (
	ErrAccountExists  = errors.New("account already exists")
	ErrAccountUnknown = errors.New("unknown account")
	ErrEmptyPosting   = errors.New("posting has no entries")
	ErrUnbalanced     = errors.New("posting debits and credits differ")
)

// Entry is a single (account, value) leg of a posting. Values are
// always positive magnitudes in pool currency.
type Entry struct {
	Account AccountID
	Value   uint64
}

// Posting is a balanced set of journal entries applied as one unit.
// The producer constructs it so that the debit and credit magnitudes
// are equal; Validate enforces that before application.
type Posting struct {
	ID      uuid.UUID
	Pool    registry.PoolID
	Ref     string // idempotency reference of the originating operation
	Debits  []Entry
	Credits []Entry
}

// Validate checks structural well-formedness: at least one leg on each
// side and equal total magnitude.
func (p *Posting) Validate() error {
	if len(p.Debits) == 0 || len(p.Credits) == 0 {
		return ErrEmptyPosting
	}
	var debits, credits uint64
	var err error
	for _, e := range p.Debits {
		if debits, err = fpmath.AddU64(debits, e.Value); err != nil {
			return fmt.Errorf("debit total: %w", err)
		}
	}
	for _, e := range p.Credits {
		if credits, err = fpmath.AddU64(credits, e.Value); err != nil {
			return fmt.Errorf("credit total: %w", err)
		}
	}
	if debits != credits {
		return fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalanced, debits, credits)
	}
	return nil
}

type account struct {
	isDebitNormal bool
	balance       int64
}

// Ledger maintains signed per-account balances under double-entry
// postings. Applied postings accumulate in an in-memory journal until
// the persistence layer drains them.
// Not thread-safe; mutated only from the single-threaded hub.
type Ledger struct {
	accounts map[AccountKey]*account
	journal  []*Posting
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[AccountKey]*account),
	}
}

// CreateAccount registers an account with fixed polarity.
// Re-registration of an existing id is rejected.
func (l *Ledger) CreateAccount(pool registry.PoolID, id AccountID, isDebitNormal bool) error {
	key := AccountKey{Pool: pool, Account: id}
	if _, ok := l.accounts[key]; ok {
		return fmt.Errorf("%w: pool %d account %d", ErrAccountExists, pool, id)
	}
	l.accounts[key] = &account{isDebitNormal: isDebitNormal}
	return nil
}

// Exists reports whether an account has been created.
func (l *Ledger) Exists(pool registry.PoolID, id AccountID) bool {
	_, ok := l.accounts[AccountKey{Pool: pool, Account: id}]
	return ok
}

// IsDebitNormal returns the account's polarity.
func (l *Ledger) IsDebitNormal(pool registry.PoolID, id AccountID) (bool, error) {
	acc, ok := l.accounts[AccountKey{Pool: pool, Account: id}]
	if !ok {
		return false, fmt.Errorf("%w: pool %d account %d", ErrAccountUnknown, pool, id)
	}
	return acc.isDebitNormal, nil
}

// Post applies a balanced posting. A debit increases a debit-normal
// balance and decreases a credit-normal one; credits mirror that rule.
// All entries apply or none do: new balances are computed first and
// committed only if every leg resolves without overflow.
func (l *Ledger) Post(p *Posting) error {
	if err := p.Validate(); err != nil {
		return err
	}

	staged := make(map[AccountKey]int64)

	apply := func(e Entry, isDebit bool) error {
		if e.Value > math.MaxInt64 {
			return fpmath.ErrOverflow
		}
		key := AccountKey{Pool: p.Pool, Account: e.Account}
		acc, ok := l.accounts[key]
		if !ok {
			return fmt.Errorf("%w: pool %d account %d", ErrAccountUnknown, p.Pool, e.Account)
		}
		cur, seen := staged[key]
		if !seen {
			cur = acc.balance
		}
		delta := int64(e.Value)
		if isDebit != acc.isDebitNormal {
			delta = -delta
		}
		next, err := fpmath.AddS64(cur, delta)
		if err != nil {
			return fmt.Errorf("account %d: %w", e.Account, err)
		}
		staged[key] = next
		return nil
	}

	for _, e := range p.Debits {
		if err := apply(e, true); err != nil {
			return err
		}
	}
	for _, e := range p.Credits {
		if err := apply(e, false); err != nil {
			return err
		}
	}

	for key, balance := range staged {
		l.accounts[key].balance = balance
	}
	l.journal = append(l.journal, p)
	return nil
}

// DrainJournal returns the postings applied since the last drain and
// clears the journal. Postings are immutable after application.
func (l *Ledger) DrainJournal() []*Posting {
	j := l.journal
	l.journal = nil
	return j
}

// AccountValue returns the current signed balance. It never fails for
// an existing account; querying an unknown account is the only error.
func (l *Ledger) AccountValue(pool registry.PoolID, id AccountID) (int64, error) {
	acc, ok := l.accounts[AccountKey{Pool: pool, Account: id}]
	if !ok {
		return 0, fmt.Errorf("%w: pool %d account %d", ErrAccountUnknown, pool, id)
	}
	return acc.balance, nil
}

// Snapshot deep-copies all accounts for batch rollback. The journal is
// copied shallowly: applied postings never mutate.
func (l *Ledger) Snapshot() *Ledger {
	snap := NewLedger()
	for key, acc := range l.accounts {
		cp := *acc
		snap.accounts[key] = &cp
	}
	snap.journal = append([]*Posting(nil), l.journal...)
	return snap
}

// Restore replaces the ledger's contents with a snapshot.
func (l *Ledger) Restore(snap *Ledger) {
	l.accounts = snap.accounts
	l.journal = snap.journal
}
