package event

import (
	"fmt"

	"FundLedger/internal/registry"
)

// Inbound is a command received from a spoke network. The ingestion
// shell parses, deduplicates, and sequence-checks inbound commands
// before they reach the hub.
type Inbound interface {
	// Kind returns the command discriminator string.
	Kind() string

	// IdempotencyKey returns the sender-chosen dedup key.
	IdempotencyKey() string

	// Origin names the source network.
	Origin() string

	// SourceSequence is the per-origin strictly increasing sequence.
	SourceSequence() uint64
}

// Meta carries the envelope fields shared by every inbound command.
type Meta struct {
	RequestID string `json:"request_id"`
	Source    string `json:"origin"`
	Sequence  uint64 `json:"sequence"`
}

func (m Meta) IdempotencyKey() string { return m.RequestID }
func (m Meta) Origin() string         { return m.Source }
func (m Meta) SourceSequence() uint64 { return m.Sequence }

// RegisterAsset announces an asset from its origin network.
type RegisterAsset struct {
	Meta
	Asset    registry.AssetID `json:"asset"`
	Symbol   string           `json:"symbol"`
	Decimals uint8            `json:"decimals"`
}

func (c *RegisterAsset) Kind() string { return "register_asset" }

// DepositRequest places or tops up a pending deposit.
type DepositRequest struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
	Amount     uint64                `json:"amount"`
}

func (c *DepositRequest) Kind() string { return "request_deposit" }

// RedeemRequest places or tops up a pending redemption.
type RedeemRequest struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
	Amount     uint64                `json:"amount"`
}

func (c *RedeemRequest) Kind() string { return "request_redeem" }

// CancelDepositRequest cancels the investor's pending deposit.
type CancelDepositRequest struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
}

func (c *CancelDepositRequest) Kind() string { return "cancel_deposit" }

// CancelRedeemRequest cancels the investor's pending redemption.
type CancelRedeemRequest struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
}

func (c *CancelRedeemRequest) Kind() string { return "cancel_redeem" }

// ClaimDeposit settles the investor's fulfilled deposit epochs.
type ClaimDeposit struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
	MaxClaims  uint32                `json:"max_claims"`
}

func (c *ClaimDeposit) Kind() string { return "claim_deposit" }

// ClaimRedeem settles the investor's fulfilled redeem epochs.
type ClaimRedeem struct {
	Meta
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
	Investor   registry.InvestorID   `json:"investor"`
	MaxClaims  uint32                `json:"max_claims"`
}

func (c *ClaimRedeem) Kind() string { return "claim_redeem" }

// OriginOperator marks commands issued through the operator surface
// (HTTP admin endpoints, scheduled jobs) rather than a spoke network.
// Operator commands carry no source sequence; the command log preserves
// their order relative to spoke commands.
const OriginOperator = "operator"

// CreatePool registers a pool with its admin and payment currency.
type CreatePool struct {
	Meta
	Sender   registry.InvestorID `json:"sender"`
	Pool     registry.PoolID     `json:"pool"`
	Currency registry.AssetID    `json:"currency"`
}

func (c *CreatePool) Kind() string { return "create_pool" }

// AddShareClass attaches a share class to a pool.
type AddShareClass struct {
	Meta
	Sender     registry.InvestorID   `json:"sender"`
	Pool       registry.PoolID       `json:"pool"`
	ShareClass registry.ShareClassID `json:"share_class"`
}

func (c *AddShareClass) Kind() string { return "add_share_class" }

// CreateAccount registers a ledger account with fixed polarity.
type CreateAccount struct {
	Meta
	Sender        registry.InvestorID `json:"sender"`
	Pool          registry.PoolID     `json:"pool"`
	Account       uint32              `json:"account"`
	IsDebitNormal bool                `json:"is_debit_normal"`
}

func (c *CreateAccount) Kind() string { return "create_account" }

// UpdateManager grants or revokes a pool manager delegation.
type UpdateManager struct {
	Meta
	Sender    registry.InvestorID `json:"sender"`
	Pool      registry.PoolID     `json:"pool"`
	Who       registry.InvestorID `json:"who"`
	CanManage bool                `json:"can_manage"`
}

func (c *UpdateManager) Kind() string { return "update_manager" }

// InitializeHolding creates a holding with its account bindings. A nil
// Price selects the identity valuation; a set Price pins the valuation
// to that D18 ratio.
type InitializeHolding struct {
	Meta
	Sender      registry.InvestorID   `json:"sender"`
	Pool        registry.PoolID       `json:"pool"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	IsLiability bool                  `json:"is_liability"`
	Price       *uint64               `json:"price,omitempty"`
	Accounts    map[string]uint32     `json:"accounts"`
}

func (c *InitializeHolding) Kind() string { return "initialize_holding" }

// RevalueHolding reprices a holding and posts the unrealized result.
type RevalueHolding struct {
	Meta
	Sender     registry.InvestorID   `json:"sender"`
	Pool       registry.PoolID       `json:"pool"`
	ShareClass registry.ShareClassID `json:"share_class"`
	Asset      registry.AssetID      `json:"asset"`
}

func (c *RevalueHolding) Kind() string { return "revalue_holding" }

// ApproveDeposits sweeps pending deposits into the open epoch.
type ApproveDeposits struct {
	Meta
	Sender      registry.InvestorID   `json:"sender"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	EpochID     uint32                `json:"epoch_id"`
	MaxApproval uint64                `json:"max_approval"`
}

func (c *ApproveDeposits) Kind() string { return "approve_deposits" }

// ApproveRedeems sweeps pending redeem shares into the open epoch.
type ApproveRedeems struct {
	Meta
	Sender      registry.InvestorID   `json:"sender"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	EpochID     uint32                `json:"epoch_id"`
	MaxApproval uint64                `json:"max_approval"`
}

func (c *ApproveRedeems) Kind() string { return "approve_redeems" }

// IssueShares fulfills an approved deposit epoch at a NAV.
type IssueShares struct {
	Meta
	Sender      registry.InvestorID   `json:"sender"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	EpochID     uint32                `json:"epoch_id"`
	NavPerShare uint64                `json:"nav_per_share"`
}

func (c *IssueShares) Kind() string { return "issue_shares" }

// RevokeShares fulfills an approved redeem epoch at a NAV.
type RevokeShares struct {
	Meta
	Sender      registry.InvestorID   `json:"sender"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	EpochID     uint32                `json:"epoch_id"`
	NavPerShare uint64                `json:"nav_per_share"`
}

func (c *RevokeShares) Kind() string { return "revoke_shares" }

// SubmitQueued flushes queued net deltas. With all three key fields set
// it submits one asset accumulator; otherwise it submits everything.
type SubmitQueued struct {
	Meta
	Pool       *registry.PoolID       `json:"pool,omitempty"`
	ShareClass *registry.ShareClassID `json:"share_class,omitempty"`
	Asset      *registry.AssetID      `json:"asset,omitempty"`
}

func (c *SubmitQueued) Kind() string { return "submit_queued" }

// DedupKey builds the composite two-tier dedup key for a command.
func DedupKey(c Inbound) string {
	return fmt.Sprintf("%s:%s", c.Kind(), c.IdempotencyKey())
}
