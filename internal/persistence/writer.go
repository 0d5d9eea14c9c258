package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// CommandRow is a processed inbound command in fund.commands.
type CommandRow struct {
	Kind           string
	IdempotencyKey string
	Origin         string
	SourceSequence uint64
	Payload        []byte // JSON wire payload as received
	Status         string // applied | rejected
	Error          string
	ReceivedAt     time.Time
}

// PostingRow is one leg of a balanced posting in fund.postings.
type PostingRow struct {
	PostingID string
	Pool      uint64
	Ref       string
	Account   uint32
	IsDebit   bool
	Value     uint64
	CreatedAt time.Time
}

// OutboundRow is a committed cross-network message in fund.outbound.
type OutboundRow struct {
	Kind           string
	Subject        string
	IdempotencyKey string
	Payload        []byte
	CreatedAt      time.Time
}

// Record is one unit handed to the persistence worker: the command that
// was applied plus everything it produced.
type Record struct {
	Command  *CommandRow
	Postings []PostingRow
	Outbound []OutboundRow
}

// Writer batch-writes rows to Postgres using multi-row INSERT. All
// inserts are idempotent via ON CONFLICT DO NOTHING so that replays and
// worker retries never double-write.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) WriteCommandBatch(ctx context.Context, tx *sql.Tx, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO fund.commands
		(kind, idempotency_key, origin, source_sequence, payload, status, error, received_at)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*8)

	for i, c := range commands {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			c.Kind, c.IdempotencyKey, c.Origin, int64(c.SourceSequence),
			c.Payload, c.Status, c.Error, c.ReceivedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (kind, idempotency_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) WritePostingBatch(ctx context.Context, tx *sql.Tx, postings []PostingRow) error {
	if len(postings) == 0 {
		return nil
	}

	query := `INSERT INTO fund.postings
		(posting_id, pool, ref, account, is_debit, value, created_at)
		VALUES `

	values := make([]string, 0, len(postings))
	args := make([]interface{}, 0, len(postings)*7)

	for i, p := range postings {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			p.PostingID, int64(p.Pool), p.Ref, int64(p.Account),
			p.IsDebit, int64(p.Value), p.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (posting_id, account, is_debit) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) WriteOutboundBatch(ctx context.Context, tx *sql.Tx, msgs []OutboundRow) error {
	if len(msgs) == 0 {
		return nil
	}

	query := `INSERT INTO fund.outbound
		(kind, subject, idempotency_key, payload, created_at)
		VALUES `

	values := make([]string, 0, len(msgs))
	args := make([]interface{}, 0, len(msgs)*5)

	for i, m := range msgs {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, m.Kind, m.Subject, m.IdempotencyKey, m.Payload, m.CreatedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (idempotency_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload JSON-encodes a message payload for storage.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
