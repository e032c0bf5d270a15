// Package privatedata defines the store for a wallet's sealed container. The
// store never sees plaintext: it keeps one opaque blob per wallet and a
// version number for optimistic concurrency.
package privatedata

import (
	"context"
	"time"
)

// Blob is the stored private data of one wallet.
type Blob struct {
	WalletID  string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Store keeps sealed containers.
//
// Get returns sentinel.ErrNotFound when nothing was stored for the wallet.
// Put writes data only if the stored version equals expectedVersion (0 means
// "nothing stored yet") and returns the new blob, whose version is
// expectedVersion+1. A version mismatch returns sentinel.ErrConflict; the
// caller reloads, merges and retries.
type Store interface {
	Get(ctx context.Context, walletID string) (*Blob, error)
	Put(ctx context.Context, walletID string, data []byte, expectedVersion int64) (*Blob, error)
}
