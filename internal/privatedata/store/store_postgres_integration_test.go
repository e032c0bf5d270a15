//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"wwwallet/internal/privatedata/store"
	"wwwallet/pkg/platform/sentinel"
	"wwwallet/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "wallet_private_data"))
}

func (s *PostgresStoreSuite) TestVersionedPut() {
	ctx := context.Background()

	created, err := s.store.Put(ctx, "w1", []byte{0x01, 0x00, 0xff}, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), created.Version)

	_, err = s.store.Put(ctx, "w1", []byte("dup"), 0)
	s.True(errors.Is(err, sentinel.ErrConflict), "unique violation maps to conflict")

	updated, err := s.store.Put(ctx, "w1", []byte("two"), 1)
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)

	_, err = s.store.Put(ctx, "w1", []byte("stale"), 1)
	s.True(errors.Is(err, sentinel.ErrConflict))

	got, err := s.store.Get(ctx, "w1")
	s.Require().NoError(err)
	s.Equal([]byte("two"), got.Data)
	s.Equal(int64(2), got.Version)
}

func (s *PostgresStoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "nobody")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
