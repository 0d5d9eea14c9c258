package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadCommands streams applied command rows in insertion order, in
// batches of limit starting after afterID. Used on startup to rebuild
// the hub's in-memory state by replaying the command log.
func LoadCommands(ctx context.Context, db *sql.DB, afterID int64, limit int) ([]CommandRow, int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, idempotency_key, origin, source_sequence, payload, status
		FROM fund.commands
		WHERE id > $1 AND status = 'applied'
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("load commands: %w", err)
	}
	defer rows.Close()

	var (
		out    []CommandRow
		lastID = afterID
	)
	for rows.Next() {
		var (
			id  int64
			c   CommandRow
			seq int64
		)
		if err := rows.Scan(&id, &c.Kind, &c.IdempotencyKey, &c.Origin, &seq, &c.Payload, &c.Status); err != nil {
			return nil, lastID, err
		}
		c.SourceSequence = uint64(seq)
		out = append(out, c)
		lastID = id
	}
	return out, lastID, rows.Err()
}

// RecentDedupKeys returns the newest composite dedup keys for warming
// the idempotency LRU after a restart.
func RecentDedupKeys(ctx context.Context, db *sql.DB, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kind || ':' || idempotency_key
		FROM fund.commands
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load dedup keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// LastSourceSequences returns, per origin, the highest processed source
// sequence. The sequence validator resumes from these on restart.
func LastSourceSequences(ctx context.Context, db *sql.DB) (map[string]uint64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT origin, MAX(source_sequence)
		FROM fund.commands
		GROUP BY origin
	`)
	if err != nil {
		return nil, fmt.Errorf("load source sequences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			origin string
			seq    int64
		)
		if err := rows.Scan(&origin, &seq); err != nil {
			return nil, err
		}
		out[origin] = uint64(seq)
	}
	return out, rows.Err()
}
