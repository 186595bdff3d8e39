package knowledge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresObjectStore persists patterns in a simple key/value table,
// grounded on internal/database's sqlx connection.
type PostgresObjectStore struct {
	db *sqlx.DB
}

// NewPostgresObjectStore wraps db, assuming the `knowledge_objects(key
// text primary key, value bytea)` table already exists (see
// internal/database/migrations).
func NewPostgresObjectStore(db *sqlx.DB) *PostgresObjectStore {
	return &PostgresObjectStore{db: db}
}

// Put upserts value under key.
func (p *PostgresObjectStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO knowledge_objects (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge object: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or (nil, nil) when absent.
func (p *PostgresObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, `SELECT value FROM knowledge_objects WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge object: %w", err)
	}
	return value, nil
}

// List returns every key with the given prefix.
func (p *PostgresObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := p.db.SelectContext(ctx, &keys, `SELECT key FROM knowledge_objects WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge objects: %w", err)
	}
	return keys, nil
}

var _ ObjectStore = (*PostgresObjectStore)(nil)
