package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"wwwallet/internal/privatedata"
	"wwwallet/pkg/platform/sentinel"
)

// PostgresSchema creates the table backing PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS wallet_private_data (
	wallet_id  TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

const pqUniqueViolation = "23505"

// PostgresStore is the server-side store shared by all of a holder's devices.
type PostgresStore struct {
	db    *sql.DB
	clock Clock
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock used for updated_at.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies PostgresSchema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("apply private data schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, walletID string) (*privatedata.Blob, error) {
	blob := privatedata.Blob{WalletID: walletID}
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM wallet_private_data WHERE wallet_id = $1`, walletID,
	).Scan(&blob.Data, &blob.Version, &blob.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get private data: %w", err)
	}
	return &blob, nil
}

func (s *PostgresStore) Put(ctx context.Context, walletID string, data []byte, expectedVersion int64) (*privatedata.Blob, error) {
	now := s.clock().UTC()
	blob := privatedata.Blob{WalletID: walletID, Data: data}

	if expectedVersion == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO wallet_private_data (wallet_id, data, version, updated_at)
			VALUES ($1, $2, 1, $3)
			RETURNING version, updated_at`,
			walletID, data, now,
		).Scan(&blob.Version, &blob.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
				return nil, sentinel.ErrConflict
			}
			return nil, fmt.Errorf("insert private data: %w", err)
		}
		return &blob, nil
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE wallet_private_data
		SET data = $2, version = version + 1, updated_at = $3
		WHERE wallet_id = $1 AND version = $4
		RETURNING version, updated_at`,
		walletID, data, now, expectedVersion,
	).Scan(&blob.Version, &blob.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("update private data: %w", err)
	}
	return &blob, nil
}
