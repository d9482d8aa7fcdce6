// Package store is the embedded persistence adapter: a durable key
// catalogue keyed by (upstream_id, key_hash), plus a billing ledger
// namespace and an opaque document namespace (used for the route table).
// WAL-mode DSN, a sync.RWMutex-guarded connection, and the pure-Go
// modernc.org/sqlite driver, without a migration-framework dependency —
// three CREATE TABLE IF NOT EXISTS statements don't earn a migration
// runner.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	upstream_id   TEXT NOT NULL,
	key_hash      TEXT NOT NULL,
	secret        BLOB NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (upstream_id, key_hash)
);

CREATE TABLE IF NOT EXISTS billing (
	api_key       TEXT PRIMARY KEY,
	balance       REAL NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	name          TEXT PRIMARY KEY,
	value         BLOB NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
`

// SQLiteStore implements ports.Persistence on a pure-Go, cgo-free SQLite
// file. Mutations are serialized through mu in line with 
// single-writer discipline; reads (ScanKeys, GetBilling, GetDocument) take
// the read lock only.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ports.Persistence = (*SQLiteStore)(nil)

// Open creates or opens the key-value store at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutKeys(ctx context.Context, upstreamID string, secrets [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, secret := range secrets {
		hash := domain.HashKey(secret)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys (upstream_id, key_hash, secret, created_at_ms) VALUES (?, ?, ?, ?)
			 ON CONFLICT (upstream_id, key_hash) DO NOTHING`,
			upstreamID, hash, secret, now,
		); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteKeys(ctx context.Context, upstreamID string, secrets [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	for _, secret := range secrets {
		hash := domain.HashKey(secret)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM keys WHERE upstream_id = ? AND key_hash = ?`, upstreamID, hash,
		); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// ReplaceKeys swaps an upstream's entire key set inside one transaction so
// concurrent scanners never observe an empty or partial set.
func (s *SQLiteStore) ReplaceKeys(ctx context.Context, upstreamID string, secrets [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE upstream_id = ?`, upstreamID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	now := time.Now().UnixMilli()
	for _, secret := range secrets {
		hash := domain.HashKey(secret)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys (upstream_id, key_hash, secret, created_at_ms) VALUES (?, ?, ?, ?)
			 ON CONFLICT (upstream_id, key_hash) DO NOTHING`,
			upstreamID, hash, secret, now,
		); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ScanKeys(ctx context.Context) ([]ports.StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT upstream_id, secret, created_at_ms FROM keys ORDER BY upstream_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []ports.StoredKey
	for rows.Next() {
		var k ports.StoredKey
		if err := rows.Scan(&k.UpstreamID, &k.Secret, &k.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteUpstream(ctx context.Context, upstreamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE upstream_id = ?`, upstreamID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) PutBilling(ctx context.Context, apiKey string, balance float64, updatedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing (api_key, balance, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT (api_key) DO UPDATE SET balance = excluded.balance, updated_at_ms = excluded.updated_at_ms`,
		apiKey, balance, updatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetBilling(ctx context.Context, apiKey string) (balance float64, updatedAtMs int64, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT balance, updated_at_ms FROM billing WHERE api_key = ?`, apiKey)
	if scanErr := row.Scan(&balance, &updatedAtMs); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, scanErr)
	}
	return balance, updatedAtMs, true, nil
}

func (s *SQLiteStore) DeleteBilling(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM billing WHERE api_key = ?`, apiKey); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) PutDocument(ctx context.Context, name string, value []byte, updatedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (name, value, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		name, value, updatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, name string) (value []byte, updatedAtMs int64, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT value, updated_at_ms FROM documents WHERE name = ?`, name)
	if scanErr := row.Scan(&value, &updatedAtMs); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, scanErr)
	}
	return value, updatedAtMs, true, nil
}
