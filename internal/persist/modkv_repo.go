package persist

import (
	"context"
	"fmt"
	"time"
)

const kvTimeout = 5 * time.Second

// ModKVRepo backs extension key-value storage with the mod_storage table.
// The host calls it from the tick goroutine without a context, so each call
// carries its own deadline.
type ModKVRepo struct {
	db *DB
}

func NewModKVRepo(db *DB) *ModKVRepo {
	return &ModKVRepo{db: db}
}

func (r *ModKVRepo) Load(ext string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT key, value FROM mod_storage WHERE ext_id = $1`, ext,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k] = v
	}
	return kv, rows.Err()
}

// Save replaces the extension's stored set wholesale. The host hands over the
// full map, so deletes fall out of the replace.
func (r *ModKVRepo) Save(ext string, kv map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM mod_storage WHERE ext_id = $1`, ext,
	); err != nil {
		return fmt.Errorf("storage clear: %w", err)
	}
	for k, v := range kv {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mod_storage (ext_id, key, value) VALUES ($1, $2, $3)`,
			ext, k, v,
		); err != nil {
			return fmt.Errorf("storage insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}
