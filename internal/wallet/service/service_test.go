package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"wwwallet/internal/keystore"
	"wwwallet/internal/privatedata"
	"wwwallet/internal/privatedata/mocks"
	"wwwallet/internal/privatedata/store"
	"wwwallet/internal/walletstate"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/sentinel"
)

const testWalletID = "wallet-1"

var testMainKey = bytes.Repeat([]byte{0x42}, 32)

// sharedClock hands every device a distinct, increasing timestamp.
type sharedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *sharedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type ServiceSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *sharedClock
	remote *store.InMemoryStore
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &sharedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.remote = store.NewInMemoryStore()
}

func (s *ServiceSuite) newKeystore() *keystore.Keystore {
	sealer, err := keystore.NewSealer(testMainKey, testWalletID)
	s.Require().NoError(err)
	ks, err := keystore.New(sealer, keystore.WithClock(s.clock.Now))
	s.Require().NoError(err)
	return ks
}

// device builds a wallet instance with its own local store.
func (s *ServiceSuite) device(opts ...Option) *Service {
	return s.deviceWithLocal(store.NewInMemoryStore(), opts...)
}

func (s *ServiceSuite) deviceWithLocal(local privatedata.Store, opts ...Option) *Service {
	opts = append([]Option{WithRemote(s.remote)}, opts...)
	svc, err := New(testWalletID, s.newKeystore(), local, opts...)
	s.Require().NoError(err)
	s.Require().NoError(svc.Load(s.ctx))
	return svc
}

func (s *ServiceSuite) add(svc *Service, data string) walletstate.WalletState {
	state, err := svc.AddCredentials(s.ctx, []walletstate.NewCredential{{Data: data, Format: "mso_mdoc"}})
	s.Require().NoError(err)
	return state
}

func credentialData(state walletstate.WalletState) []string {
	out := make([]string, 0, len(state.Credentials))
	for _, c := range state.Credentials {
		out = append(out, c.Data)
	}
	return out
}

func (s *ServiceSuite) TestNewValidatesArguments() {
	_, err := New("", s.newKeystore(), store.NewInMemoryStore())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = New(testWalletID, nil, store.NewInMemoryStore())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestLoadEmptyWallet() {
	svc := s.device()
	s.Empty(svc.State().Credentials)
	s.Empty(svc.Container().TailEvents)
}

func (s *ServiceSuite) TestMutationPersistsLocally() {
	local := store.NewInMemoryStore()
	svc := s.deviceWithLocal(local)

	state := s.add(svc, "<credential 1>")
	s.Len(state.Credentials, 1)

	blob, err := local.Get(s.ctx, testWalletID)
	s.Require().NoError(err)
	s.Equal(int64(1), blob.Version)

	s.Run("a fresh instance on the same device sees the write", func() {
		again := s.deviceWithLocal(local)
		s.Equal([]string{"<credential 1>"}, credentialData(again.State()))
	})

	s.Run("nothing reached the remote before Sync", func() {
		_, err := s.remote.Get(s.ctx, testWalletID)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *ServiceSuite) TestSyncPropagatesBetweenDevices() {
	laptop := s.device()
	s.add(laptop, "<credential 1>")

	result, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(walletstate.MergeFastForward, result.Outcome)
	s.Equal(1, result.Pushed)

	phone := s.device()
	s.Equal([]string{"<credential 1>"}, credentialData(phone.State()))

	result, err = phone.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(walletstate.MergeIdentical, result.Outcome)
}

func (s *ServiceSuite) TestConcurrentDevicesConverge() {
	laptop := s.device()
	s.add(laptop, "<credential 1>")
	_, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)

	phone := s.device()
	s.add(laptop, "from laptop")
	s.add(phone, "from phone")

	_, err = laptop.Sync(s.ctx)
	s.Require().NoError(err)
	result, err := phone.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(walletstate.MergeMerged, result.Outcome)
	s.Equal(1, result.Pushed)
	s.Equal(1, result.Pulled)

	_, err = laptop.Sync(s.ctx)
	s.Require().NoError(err)

	s.ElementsMatch([]string{"<credential 1>", "from laptop", "from phone"}, credentialData(laptop.State()))
	s.Equal(credentialData(laptop.State()), credentialData(phone.State()), "replicas agree on order")
	s.True(laptop.Container().SameHistory(phone.Container()))
}

func (s *ServiceSuite) TestSyncFoldsSharedHistory() {
	laptop := s.device(WithKeepEvents(0))
	s.add(laptop, "one")
	_, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)

	phone := s.device(WithKeepEvents(0))
	first := laptop.Container().TailEvents[0]

	s.add(laptop, "two")
	result, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Folded, "the event both sides held is folded")
	s.Equal(first.ID, laptop.Container().LastFoldedEventHash)

	s.Run("a lagging device aligns to the new anchor", func() {
		s.add(phone, "three")
		_, err := phone.Sync(s.ctx)
		s.Require().NoError(err)
		s.Equal(first.ID, phone.Container().LastFoldedEventHash)
		s.ElementsMatch([]string{"one", "two", "three"}, credentialData(phone.State()))
	})
}

func (s *ServiceSuite) TestKeepEventsLimitsFolding() {
	laptop := s.device(WithKeepEvents(5))
	for _, d := range []string{"a", "b", "c"} {
		s.add(laptop, d)
	}
	_, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)
	s.add(laptop, "d")
	result, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)
	s.Zero(result.Folded)
	s.Empty(laptop.Container().LastFoldedEventHash)
}

func (s *ServiceSuite) TestTwoTabsShareALocalStore() {
	local := store.NewInMemoryStore()
	tab1 := s.deviceWithLocal(local)
	tab2 := s.deviceWithLocal(local)

	s.add(tab1, "tab 1")
	state := s.add(tab2, "tab 2")

	s.ElementsMatch([]string{"tab 1", "tab 2"}, credentialData(state), "the stale tab merged the stored write before retrying")
	blob, err := local.Get(s.ctx, testWalletID)
	s.Require().NoError(err)
	s.Equal(int64(2), blob.Version)
}

func (s *ServiceSuite) TestSettingsAndSessions() {
	svc := s.device()
	state, err := svc.AlterSettings(s.ctx, map[string]string{"openidRefreshTokenMaxAgeInSeconds": "0"})
	s.Require().NoError(err)
	s.Equal("0", state.Settings["openidRefreshTokenMaxAgeInSeconds"])

	state, err = svc.SaveIssuanceSessions(s.ctx, []walletstate.IssuanceSession{{SessionID: "s1", State: "abc"}}, nil)
	s.Require().NoError(err)
	s.Len(state.IssuanceSessions, 1)

	state = s.add(svc, "x")
	state, err = svc.DeleteCredential(s.ctx, state.Credentials[0].CredentialID)
	s.Require().NoError(err)
	s.Empty(state.Credentials)
}

func (s *ServiceSuite) TestCorruptRemoteKeepsLocal() {
	svc := s.device()
	s.add(svc, "mine")
	_, err := s.remote.Put(s.ctx, testWalletID, []byte("garbage"), 0)
	s.Require().NoError(err)

	_, err = svc.Sync(s.ctx)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCorruptHistory))
	s.Equal([]string{"mine"}, credentialData(svc.State()))

	blob, err := s.remote.Get(s.ctx, testWalletID)
	s.Require().NoError(err)
	s.Equal([]byte("garbage"), blob.Data, "a corrupt remote is not overwritten")
}

func (s *ServiceSuite) TestCorruptLocalFallsBackToRemote() {
	laptop := s.device()
	s.add(laptop, "synced")
	_, err := laptop.Sync(s.ctx)
	s.Require().NoError(err)

	local := store.NewInMemoryStore()
	_, err = local.Put(s.ctx, testWalletID, []byte("garbage"), 0)
	s.Require().NoError(err)

	phone := s.deviceWithLocal(local)
	s.Equal([]string{"synced"}, credentialData(phone.State()))

	blob, err := local.Get(s.ctx, testWalletID)
	s.Require().NoError(err)
	s.Equal(int64(2), blob.Version, "the remote copy replaced the corrupt local one")
}

func (s *ServiceSuite) TestSyncWithoutRemote() {
	svc, err := New(testWalletID, s.newKeystore(), store.NewInMemoryStore())
	s.Require().NoError(err)
	_, err = svc.Sync(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// MockedStoreSuite covers store failures through gomock.
type MockedStoreSuite struct {
	suite.Suite
	ctx    context.Context
	ctrl   *gomock.Controller
	local  *mocks.MockStore
	remote *mocks.MockStore
}

func TestMockedStoreSuite(t *testing.T) {
	suite.Run(t, new(MockedStoreSuite))
}

func (s *MockedStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.local = mocks.NewMockStore(s.ctrl)
	s.remote = mocks.NewMockStore(s.ctrl)
}

func (s *MockedStoreSuite) newService(opts ...Option) *Service {
	sealer, err := keystore.NewSealer(testMainKey, testWalletID)
	s.Require().NoError(err)
	ks, err := keystore.New(sealer)
	s.Require().NoError(err)
	svc, err := New(testWalletID, ks, s.local, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *MockedStoreSuite) TestLoadContinuesOfflineWhenRemoteIsDown() {
	s.local.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrNotFound)
	s.remote.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrUnavailable)

	svc := s.newService(WithRemote(s.remote))
	s.Require().NoError(svc.Load(s.ctx))
	s.Empty(svc.State().Credentials)
}

func (s *MockedStoreSuite) TestLoadFailsWhenLocalStoreFails() {
	s.local.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, errors.New("disk I/O error"))

	svc := s.newService()
	err := svc.Load(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *MockedStoreSuite) TestMutationGivesUpAfterMaxAttempts() {
	s.local.EXPECT().Put(gomock.Any(), testWalletID, gomock.Any(), int64(0)).
		Return(nil, sentinel.ErrConflict).Times(2)
	s.local.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrNotFound).Times(1)

	svc := s.newService(WithMaxAttempts(2))
	_, err := svc.AlterSettings(s.ctx, map[string]string{"k": "v"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(errors.Is(err, sentinel.ErrConflict))
	s.Empty(svc.State().Settings, "nothing was committed")
}

func (s *MockedStoreSuite) TestMutationSurfacesStoreFailure() {
	s.local.EXPECT().Put(gomock.Any(), testWalletID, gomock.Any(), int64(0)).
		Return(nil, errors.New("disk full"))

	svc := s.newService()
	_, err := svc.AlterSettings(s.ctx, map[string]string{"k": "v"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Empty(svc.State().Settings)
}

func (s *MockedStoreSuite) TestSyncRetriesWhenRemoteMovesUnderneath() {
	svc := s.newService(WithRemote(s.remote), WithMaxAttempts(3))
	s.local.EXPECT().Put(gomock.Any(), testWalletID, gomock.Any(), int64(0)).
		Return(&privatedata.Blob{WalletID: testWalletID, Version: 1}, nil)
	_, err := svc.AlterSettings(s.ctx, map[string]string{"k": "v"})
	s.Require().NoError(err)

	gomock.InOrder(
		s.remote.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrNotFound),
		s.remote.EXPECT().Put(gomock.Any(), testWalletID, gomock.Any(), int64(0)).Return(nil, sentinel.ErrConflict),
		s.remote.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrNotFound),
		s.remote.EXPECT().Put(gomock.Any(), testWalletID, gomock.Any(), int64(0)).
			Return(&privatedata.Blob{WalletID: testWalletID, Version: 1}, nil),
	)

	result, err := svc.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Pushed)
}

func (s *MockedStoreSuite) TestSyncReportsUnavailableRemote() {
	s.remote.EXPECT().Get(gomock.Any(), testWalletID).Return(nil, sentinel.ErrUnavailable)

	svc := s.newService(WithRemote(s.remote))
	_, err := svc.Sync(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}
