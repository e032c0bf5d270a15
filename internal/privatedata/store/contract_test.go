package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"wwwallet/internal/privatedata"
	"wwwallet/pkg/platform/sentinel"
)

// StoreContractSuite runs the versioned put semantics against any Store.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) privatedata.Store
	store    privatedata.Store
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) privatedata.Store {
		return NewInMemoryStore()
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) privatedata.Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "wallet.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
}

func (s *StoreContractSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "nobody")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreContractSuite) TestVersionedPut() {
	ctx := context.Background()

	first, err := s.store.Put(ctx, "w1", []byte("one"), 0)
	s.Require().NoError(err)
	s.Equal(int64(1), first.Version)

	s.Run("create twice conflicts", func() {
		_, err := s.store.Put(ctx, "w1", []byte("again"), 0)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	second, err := s.store.Put(ctx, "w1", []byte("two"), first.Version)
	s.Require().NoError(err)
	s.Equal(int64(2), second.Version)

	s.Run("stale version conflicts", func() {
		_, err := s.store.Put(ctx, "w1", []byte("stale"), first.Version)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	s.Run("update of a missing wallet conflicts", func() {
		_, err := s.store.Put(ctx, "w2", []byte("x"), 3)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	got, err := s.store.Get(ctx, "w1")
	s.Require().NoError(err)
	s.Equal([]byte("two"), got.Data)
	s.Equal(int64(2), got.Version)
	s.Equal("w1", got.WalletID)
}

func (s *StoreContractSuite) TestWalletsAreIsolated() {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "w1", []byte("one"), 0)
	s.Require().NoError(err)
	_, err = s.store.Put(ctx, "w2", []byte("two"), 0)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "w2")
	s.Require().NoError(err)
	s.Equal([]byte("two"), got.Data)
}

func (s *StoreContractSuite) TestConcurrentWritersOneWins() {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "w1", []byte("base"), 0)
	s.Require().NoError(err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		won       atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Put(ctx, "w1", []byte("mine"), 1)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), won.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}
