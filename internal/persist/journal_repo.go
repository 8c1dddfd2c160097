package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JournalEntry is one diagnostic record bound for the journal table.
type JournalEntry struct {
	Tick   uint64
	Kind   string
	Fields map[string]any
}

// JournalRow is an entry read back with its storage identity.
type JournalRow struct {
	ID        int64
	Tick      uint64
	Kind      string
	Fields    map[string]any
	CreatedAt time.Time
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Append writes a batch of entries in a single transaction. All or nothing;
// on failure the caller keeps its buffer and retries next flush.
func (r *JournalRepo) Append(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("journal encode: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal (tick, kind, fields) VALUES ($1, $2, $3)`,
			int64(e.Tick), e.Kind, fields,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Recent returns the newest entries, optionally filtered by kind.
func (r *JournalRepo) Recent(ctx context.Context, kind string, limit int) ([]JournalRow, error) {
	query := `SELECT id, tick, kind, fields, created_at FROM journal ORDER BY id DESC LIMIT $1`
	args := []any{limit}
	if kind != "" {
		query = `SELECT id, tick, kind, fields, created_at FROM journal WHERE kind = $2 ORDER BY id DESC LIMIT $1`
		args = append(args, kind)
	}
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []JournalRow
	for rows.Next() {
		var row JournalRow
		var tick int64
		var raw []byte
		if err := rows.Scan(&row.ID, &tick, &row.Kind, &raw, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Tick = uint64(tick)
		if err := json.Unmarshal(raw, &row.Fields); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// PruneBefore drops entries older than the cutoff.
func (r *JournalRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM journal WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
