package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/driftmud/server/internal/world"
)

// SnapshotMeta describes a stored snapshot without its payload.
type SnapshotMeta struct {
	ID        uuid.UUID
	Tick      uint64
	DefsSum   string
	CreatedAt time.Time
}

// SnapshotRepo stores whole-world snapshots as JSONB rows. The fingerprint
// column is hex so a uint64 sum survives the round trip regardless of sign.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func (r *SnapshotRepo) SaveSnapshot(ctx context.Context, snap *world.Snapshot) (uuid.UUID, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode snapshot: %w", err)
	}
	id := uuid.New()
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO snapshots (id, tick, defs_sum, payload) VALUES ($1, $2, $3, $4)`,
		id, int64(snap.Tick), fmt.Sprintf("%016x", snap.DefsSum), payload,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// LoadLatest returns the newest snapshot, or nil when the table is empty.
func (r *SnapshotRepo) LoadLatest(ctx context.Context) (*world.Snapshot, uuid.UUID, error) {
	var id uuid.UUID
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, payload FROM snapshots ORDER BY created_at DESC, tick DESC LIMIT 1`,
	).Scan(&id, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, uuid.Nil, nil
	}
	if err != nil {
		return nil, uuid.Nil, err
	}
	snap := &world.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, id, nil
}

func (r *SnapshotRepo) Load(ctx context.Context, id uuid.UUID) (*world.Snapshot, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload FROM snapshots WHERE id = $1`, id,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &world.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (r *SnapshotRepo) List(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, tick, defs_sum, created_at
		 FROM snapshots ORDER BY created_at DESC, tick DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		var tick int64
		if err := rows.Scan(&m.ID, &tick, &m.DefsSum, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Tick = uint64(tick)
		result = append(result, m)
	}
	return result, rows.Err()
}

// Prune deletes all but the newest keep snapshots.
func (r *SnapshotRepo) Prune(ctx context.Context, keep int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY created_at DESC, tick DESC LIMIT $1
		)`, keep,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
