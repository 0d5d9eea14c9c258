package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"FundLedger/internal/observability"

	"github.com/shopspring/decimal"
)

// Service is the read side. It queries the persisted command log,
// postings, and outbound messages; it never touches the hub, so it is
// safe to call from any goroutine.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

// CommandInfo is one processed inbound command.
type CommandInfo struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key"`
	Origin         string    `json:"origin"`
	SourceSequence uint64    `json:"source_sequence"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// PostingInfo is one leg of a persisted posting.
type PostingInfo struct {
	PostingID string          `json:"posting_id"`
	Pool      uint64          `json:"pool"`
	Ref       string          `json:"ref"`
	Account   uint32          `json:"account"`
	IsDebit   bool            `json:"is_debit"`
	Value     uint64          `json:"value"`
	ValueDec  decimal.Decimal `json:"value_decimal"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountTotals aggregates an account's posted debit and credit volume.
type AccountTotals struct {
	Pool    uint64 `json:"pool"`
	Account uint32 `json:"account"`
	Debits  uint64 `json:"debits"`
	Credits uint64 `json:"credits"`
}

// SharePriceInfo is one published NAV-per-share notification, with the
// raw D18 integer rendered as a decimal for API consumers.
type SharePriceInfo struct {
	Pool        uint64          `json:"pool"`
	ShareClass  string          `json:"share_class"`
	Asset       uint32          `json:"asset"`
	EpochID     uint32          `json:"epoch_id"`
	NavPerShare uint64          `json:"nav_per_share"`
	Nav         decimal.Decimal `json:"nav"`
	PublishedAt time.Time       `json:"published_at"`
}

// d18 renders a fixed-point D18 integer as a decimal.
func d18(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -18)
}

func (s *Service) observe(endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.QueryErrors.WithLabelValues(endpoint, "db").Inc()
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Commands lists recent commands, optionally filtered by origin.
func (s *Service) Commands(ctx context.Context, origin string, limit int) (out []CommandInfo, err error) {
	defer s.observe("commands", time.Now(), err)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, idempotency_key, origin, source_sequence, status, error, received_at
		FROM fund.commands
		WHERE ($1 = '' OR origin = $1)
		ORDER BY id DESC
		LIMIT $2
	`, origin, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c   CommandInfo
			seq int64
		)
		if err := rows.Scan(&c.Kind, &c.IdempotencyKey, &c.Origin, &seq, &c.Status, &c.Error, &c.ReceivedAt); err != nil {
			return nil, err
		}
		c.SourceSequence = uint64(seq)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Postings lists an account's posting legs, newest first.
func (s *Service) Postings(ctx context.Context, pool uint64, account uint32, limit int) (out []PostingInfo, err error) {
	defer s.observe("postings", time.Now(), err)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT posting_id, pool, ref, account, is_debit, value, created_at
		FROM fund.postings
		WHERE pool = $1 AND account = $2
		ORDER BY id DESC
		LIMIT $3
	`, int64(pool), int64(account), limit)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p           PostingInfo
			poolI, accI int64
			valueI      int64
		)
		if err := rows.Scan(&p.PostingID, &poolI, &p.Ref, &accI, &p.IsDebit, &valueI, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Pool = uint64(poolI)
		p.Account = uint32(accI)
		p.Value = uint64(valueI)
		p.ValueDec = d18(p.Value)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Totals aggregates posted volume for one account.
func (s *Service) Totals(ctx context.Context, pool uint64, account uint32) (t AccountTotals, err error) {
	defer s.observe("totals", time.Now(), err)

	t = AccountTotals{Pool: pool, Account: account}
	var debits, credits sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(value) FILTER (WHERE is_debit), 0),
			COALESCE(SUM(value) FILTER (WHERE NOT is_debit), 0)
		FROM fund.postings
		WHERE pool = $1 AND account = $2
	`, int64(pool), int64(account)).Scan(&debits, &credits)
	if err != nil {
		return t, fmt.Errorf("query totals: %w", err)
	}
	t.Debits = uint64(debits.Int64)
	t.Credits = uint64(credits.Int64)
	return t, nil
}

// SharePrices lists the published NAV notifications for a pool.
func (s *Service) SharePrices(ctx context.Context, pool uint64, limit int) (out []SharePriceInfo, err error) {
	defer s.observe("share_prices", time.Now(), err)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, created_at
		FROM fund.outbound
		WHERE kind = 'NotifySharePrice' AND (payload->>'pool')::BIGINT = $1
		ORDER BY id DESC
		LIMIT $2
	`, int64(pool), limit)
	if err != nil {
		return nil, fmt.Errorf("query share prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(&payload, &createdAt); err != nil {
			return nil, err
		}

		var p struct {
			Pool        uint64 `json:"pool"`
			ShareClass  string `json:"share_class"`
			Asset       uint32 `json:"asset"`
			NavPerShare uint64 `json:"nav_per_share"`
			EpochID     uint32 `json:"epoch_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode share price payload: %w", err)
		}

		out = append(out, SharePriceInfo{
			Pool:        p.Pool,
			ShareClass:  p.ShareClass,
			Asset:       p.Asset,
			EpochID:     p.EpochID,
			NavPerShare: p.NavPerShare,
			Nav:         d18(p.NavPerShare),
			PublishedAt: createdAt,
		})
	}
	return out, rows.Err()
}
