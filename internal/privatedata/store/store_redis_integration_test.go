//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"wwwallet/internal/privatedata/store"
	"wwwallet/pkg/platform/sentinel"
	"wwwallet/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestVersionedPut() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, "w1")
	s.True(errors.Is(err, sentinel.ErrNotFound))

	created, err := s.store.Put(ctx, "w1", []byte{0x00, 0x01}, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), created.Version)

	_, err = s.store.Put(ctx, "w1", []byte("stale"), 0)
	s.True(errors.Is(err, sentinel.ErrConflict))

	got, err := s.store.Get(ctx, "w1")
	s.Require().NoError(err)
	s.Equal([]byte{0x00, 0x01}, got.Data)
	s.Equal(int64(1), got.Version)
}

func (s *RedisStoreSuite) TestConcurrentWritersOneWins() {
	ctx := context.Background()
	_, err := s.store.Put(ctx, "w1", []byte("base"), 0)
	s.Require().NoError(err)

	const writers = 20
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Put(ctx, "w1", []byte("mine"), 1); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), won.Load())
}
