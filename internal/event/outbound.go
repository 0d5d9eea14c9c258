package event

import (
	"fmt"

	"FundLedger/internal/registry"
)

// Kind discriminates outbound message payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindNotifyPool
	KindNotifyShareClass
	KindNotifySharePrice
	KindDepositFulfillment
	KindRedeemFulfillment
	KindQueuedAssets
	KindQueuedShares
)

func (k Kind) String() string {
	switch k {
	case KindNotifyPool:
		return "NotifyPool"
	case KindNotifyShareClass:
		return "NotifyShareClass"
	case KindNotifySharePrice:
		return "NotifySharePrice"
	case KindDepositFulfillment:
		return "DepositFulfillment"
	case KindRedeemFulfillment:
		return "RedeemFulfillment"
	case KindQueuedAssets:
		return "QueuedAssets"
	case KindQueuedShares:
		return "QueuedShares"
	default:
		return "Unknown"
	}
}

// Outbound is a cross-network message produced by a core mutation and
// handed to the messenger after the mutation commits. The core never
// calls the messenger directly.
type Outbound interface {
	// Kind returns the payload discriminator.
	Kind() Kind

	// Subject returns the messaging subject suffix (kind.pool).
	Subject() string

	// IdempotencyKey returns a stable dedup key for redelivery.
	IdempotencyKey() string
}

// NotifyPool announces pool existence to other networks.
type NotifyPool struct {
	Pool registry.PoolID `json:"pool"`
}

func (n *NotifyPool) Kind() Kind { return KindNotifyPool }

func (n *NotifyPool) Subject() string {
	return fmt.Sprintf("notify_pool.%d", n.Pool)
}

func (n *NotifyPool) IdempotencyKey() string {
	return fmt.Sprintf("notify_pool:%d", n.Pool)
}

// NotifyShareClass announces a new share class on a pool.
type NotifyShareClass struct {
	Pool       registry.PoolID       `json:"pool"`
	ShareClass registry.ShareClassID `json:"share_class"`
}

func (n *NotifyShareClass) Kind() Kind { return KindNotifyShareClass }

func (n *NotifyShareClass) Subject() string {
	return fmt.Sprintf("notify_share_class.%d", n.Pool)
}

func (n *NotifyShareClass) IdempotencyKey() string {
	return fmt.Sprintf("notify_share_class:%d:%s", n.Pool, n.ShareClass)
}

// NotifySharePrice pushes a new NAV per share (D18) to other networks.
type NotifySharePrice struct {
	Pool        registry.PoolID       `json:"pool"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	NavPerShare uint64                `json:"nav_per_share"`
	EpochID     uint32                `json:"epoch_id"`
}

func (n *NotifySharePrice) Kind() Kind { return KindNotifySharePrice }

func (n *NotifySharePrice) Subject() string {
	return fmt.Sprintf("notify_share_price.%d", n.Pool)
}

func (n *NotifySharePrice) IdempotencyKey() string {
	return fmt.Sprintf("share_price:%d:%s:%d:%d", n.Pool, n.ShareClass, n.Asset, n.EpochID)
}

// DepositFulfillment confirms a claimed deposit back to the investor's
// network: assets consumed, shares owed, and any cancellation released.
type DepositFulfillment struct {
	Pool            registry.PoolID       `json:"pool"`
	ShareClass      registry.ShareClassID `json:"share_class"`
	Asset           registry.AssetID      `json:"asset"`
	Investor        registry.InvestorID   `json:"investor"`
	AssetAmount     uint64                `json:"asset_amount"`
	ShareAmount     uint64                `json:"share_amount"`
	CancelledAmount uint64                `json:"cancelled_amount"`
	LastUpdate      uint32                `json:"last_update"`
}

func (f *DepositFulfillment) Kind() Kind { return KindDepositFulfillment }

func (f *DepositFulfillment) Subject() string {
	return fmt.Sprintf("fulfilled_deposit.%d", f.Pool)
}

func (f *DepositFulfillment) IdempotencyKey() string {
	return fmt.Sprintf("fulfilled_deposit:%d:%s:%d:%s:%d", f.Pool, f.ShareClass, f.Asset, f.Investor, f.LastUpdate)
}

// RedeemFulfillment confirms a claimed redemption: shares consumed,
// payout assets owed, and any cancellation released (in shares).
type RedeemFulfillment struct {
	Pool            registry.PoolID       `json:"pool"`
	ShareClass      registry.ShareClassID `json:"share_class"`
	Asset           registry.AssetID      `json:"asset"`
	Investor        registry.InvestorID   `json:"investor"`
	ShareAmount     uint64                `json:"share_amount"`
	AssetAmount     uint64                `json:"asset_amount"`
	CancelledAmount uint64                `json:"cancelled_amount"`
	LastUpdate      uint32                `json:"last_update"`
}

func (f *RedeemFulfillment) Kind() Kind { return KindRedeemFulfillment }

func (f *RedeemFulfillment) Subject() string {
	return fmt.Sprintf("fulfilled_redeem.%d", f.Pool)
}

func (f *RedeemFulfillment) IdempotencyKey() string {
	return fmt.Sprintf("fulfilled_redeem:%d:%s:%d:%s:%d", f.Pool, f.ShareClass, f.Asset, f.Investor, f.LastUpdate)
}

// QueuedAssets is one batched submission of net asset movements for a
// (pool, share class, asset) since the previous submission.
type QueuedAssets struct {
	Pool        registry.PoolID       `json:"pool"`
	ShareClass  registry.ShareClassID `json:"share_class"`
	Asset       registry.AssetID      `json:"asset"`
	Deposits    uint64                `json:"deposits"`
	Withdrawals uint64                `json:"withdrawals"`
	Nonce       uint64                `json:"nonce"`
}

func (q *QueuedAssets) Kind() Kind { return KindQueuedAssets }

func (q *QueuedAssets) Subject() string {
	return fmt.Sprintf("queued_assets.%d", q.Pool)
}

func (q *QueuedAssets) IdempotencyKey() string {
	return fmt.Sprintf("queued_assets:%d:%s:%d:%d", q.Pool, q.ShareClass, q.Asset, q.Nonce)
}

// QueuedShares is one batched submission of the net share delta for a
// (pool, share class) since the previous submission.
type QueuedShares struct {
	Pool       registry.PoolID       `json:"pool"`
	ShareClass registry.ShareClassID `json:"share_class"`
	Delta      int64                 `json:"delta"`
	Nonce      uint64                `json:"nonce"`
}

func (q *QueuedShares) Kind() Kind { return KindQueuedShares }

func (q *QueuedShares) Subject() string {
	return fmt.Sprintf("queued_shares.%d", q.Pool)
}

func (q *QueuedShares) IdempotencyKey() string {
	return fmt.Sprintf("queued_shares:%d:%s:%d", q.Pool, q.ShareClass, q.Nonce)
}
