package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
)

// PostgresStore backs store.Store with a single key/value table. Upserts keep
// Set idempotent; the (namespace, ref) pair is the primary key so per-entity
// isolation holds at the schema level too.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore opens the database, verifies connectivity, and ensures the
// backing table exists.
func NewPostgresStore(dsn, table string) (*PostgresStore, error) {
	if table == "" {
		table = "ledger_records"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace TEXT NOT NULL,
		ref       TEXT NOT NULL,
		value     BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, ref)
	)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	slog.Info("postgres store ready", "table", table)
	return &PostgresStore{db: db, table: table}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Get(ctx context.Context, key store.Key) ([]byte, bool, error) {
	q := fmt.Sprintf("SELECT value FROM %s WHERE namespace = $1 AND ref = $2", s.table)
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key.Namespace, key.Ref).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key store.Key, value []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (namespace, ref, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, ref) DO UPDATE SET value = $3, updated_at = now()`, s.table)
	if _, err := s.db.ExecContext(ctx, q, key.Namespace, key.Ref, value); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key store.Key) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND ref = $2", s.table)
	if _, err := s.db.ExecContext(ctx, q, key.Namespace, key.Ref); err != nil {
		return fmt.Errorf("postgres remove %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Has(ctx context.Context, key store.Key) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE namespace = $1 AND ref = $2", s.table)
	var one int
	err := s.db.QueryRowContext(ctx, q, key.Namespace, key.Ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres has %s: %w", key, err)
	}
	return true, nil
}
