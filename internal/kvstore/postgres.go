package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS billpay_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSQL = `INSERT INTO billpay_kv (key, value, updated_at) VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

// PostgresStore keeps keys in a single table. It suits desktop or kiosk
// deployments that already run a local Postgres.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres builds a store on db and ensures its table exists.
func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM billpay_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	cmd, err := s.db.Exec(ctx, `INSERT INTO billpay_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", key, err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for k, v := range values {
		if _, err := tx.Exec(ctx, upsertSQL, k, v); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM billpay_kv WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key FROM billpay_kv WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
