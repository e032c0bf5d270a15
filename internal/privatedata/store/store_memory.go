package store

import (
	"bytes"
	"context"
	"sync"
	"time"

	"wwwallet/internal/privatedata"
	"wwwallet/pkg/platform/sentinel"
)

// Clock returns the current time; injected for tests.
type Clock func() time.Time

// InMemoryStore keeps blobs in a map. Used by tests and by the server when no
// database is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]privatedata.Blob
	clock Clock
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]privatedata.Blob), clock: time.Now}
}

func (s *InMemoryStore) Get(_ context.Context, walletID string) (*privatedata.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[walletID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	blob.Data = bytes.Clone(blob.Data)
	return &blob, nil
}

func (s *InMemoryStore) Put(_ context.Context, walletID string, data []byte, expectedVersion int64) (*privatedata.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.blobs[walletID].Version
	if current != expectedVersion {
		return nil, sentinel.ErrConflict
	}
	blob := privatedata.Blob{
		WalletID:  walletID,
		Data:      bytes.Clone(data),
		Version:   current + 1,
		UpdatedAt: s.clock(),
	}
	s.blobs[walletID] = blob
	blob.Data = bytes.Clone(data)
	return &blob, nil
}
