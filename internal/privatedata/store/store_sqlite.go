package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"wwwallet/internal/privatedata"
	"wwwallet/pkg/platform/sentinel"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS private_data (
	wallet_id  TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore is the device-local store. Every tab or process of the wallet
// on the same device opens the same file; the version column arbitrates
// between them.
type SQLiteStore struct {
	db    *sql.DB
	clock Clock
}

// OpenSQLite creates or opens the database at path.
//
// The database is configured with WAL mode so readers in other processes are
// not blocked by a writer, and a busy timeout for lock contention.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, walletID string) (*privatedata.Blob, error) {
	blob := privatedata.Blob{WalletID: walletID}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM private_data WHERE wallet_id = ?`, walletID,
	).Scan(&blob.Data, &blob.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get private data: %w", err)
	}
	blob.UpdatedAt = time.UnixMilli(updatedAt)
	return &blob, nil
}

func (s *SQLiteStore) Put(ctx context.Context, walletID string, data []byte, expectedVersion int64) (*privatedata.Blob, error) {
	now := s.clock()
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO private_data (wallet_id, data, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT (wallet_id) DO NOTHING`,
			walletID, data, now.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE private_data SET data = ?, version = version + 1, updated_at = ?
			 WHERE wallet_id = ? AND version = ?`,
			data, now.UnixMilli(), walletID, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("put private data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("put private data: %w", err)
	}
	if n == 0 {
		return nil, sentinel.ErrConflict
	}
	return &privatedata.Blob{
		WalletID:  walletID,
		Data:      data,
		Version:   expectedVersion + 1,
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}
