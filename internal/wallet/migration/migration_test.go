package migration_test

//go:generate mockgen -source=migration.go -destination=mocks/mocks.go -package=mocks LegacyBackend,Wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"wwwallet/internal/wallet/migration"
	"wwwallet/internal/wallet/migration/mocks"
	"wwwallet/internal/walletstate"
	dErrors "wwwallet/pkg/domain-errors"
)

type MigrationSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	wallet   *mocks.MockWallet
	legacy   *mocks.MockLegacyBackend
	migrator *migration.Migrator
}

func TestMigrationSuite(t *testing.T) {
	suite.Run(t, new(MigrationSuite))
}

func (s *MigrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.wallet = mocks.NewMockWallet(s.ctrl)
	s.legacy = mocks.NewMockLegacyBackend(s.ctrl)
	s.migrator = migration.New(s.wallet, s.legacy, migration.WithKIDDeriver(
		func(_ context.Context, credential, format string) (string, error) {
			return "kid-" + credential, nil
		}))
}

func legacyRows() []migration.LegacyCredential {
	return []migration.LegacyCredential{
		{Credential: "c1", CredentialIdentifier: "batch-a", CredentialIssuerIdentifier: "https://issuer", Format: "vc+sd-jwt", InstanceID: 0},
		{Credential: "c2", CredentialIdentifier: "batch-a", CredentialIssuerIdentifier: "https://issuer", Format: "vc+sd-jwt", InstanceID: 1},
		{Credential: "c3", CredentialIdentifier: "batch-b", CredentialIssuerIdentifier: "https://other", Format: "mso_mdoc", InstanceID: 0},
	}
}

func (s *MigrationSuite) TestMigratesCredentialsIntoEmptyWallet() {
	var added []walletstate.NewCredential
	s.wallet.EXPECT().State().Return(walletstate.NewWalletState())
	s.legacy.EXPECT().ListCredentials(gomock.Any()).Return(legacyRows(), nil)
	s.wallet.EXPECT().AddCredentials(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, creds []walletstate.NewCredential) (walletstate.WalletState, error) {
			added = creds
			return walletstate.NewWalletState(), nil
		})
	s.legacy.EXPECT().DeleteCredential(gomock.Any(), "batch-a").Return(nil)
	s.legacy.EXPECT().DeleteCredential(gomock.Any(), "batch-b").Return(errors.New("gone"))

	n, err := s.migrator.MigrateCredentials(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	s.Require().Len(added, 3)
	s.Equal("kid-c1", added[0].KID)
	s.Equal(added[0].BatchID, added[1].BatchID, "instances of one batch share a batch id")
	s.NotEqual(added[0].BatchID, added[2].BatchID)
	s.Equal(migration.BatchID("batch-a"), added[0].BatchID)
	s.Equal(1, added[1].InstanceID)

	s.Run("runs once", func() {
		n, err := s.migrator.MigrateCredentials(s.ctx)
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *MigrationSuite) TestSkipsWalletWithCredentials() {
	state := walletstate.NewWalletState()
	state.Credentials = []walletstate.Credential{{CredentialID: "x"}}
	s.wallet.EXPECT().State().Return(state)

	n, err := s.migrator.MigrateCredentials(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *MigrationSuite) TestFailedAppendCanBeRetried() {
	s.wallet.EXPECT().State().Return(walletstate.NewWalletState()).Times(2)
	s.legacy.EXPECT().ListCredentials(gomock.Any()).Return(legacyRows()[:1], nil).Times(2)
	gomock.InOrder(
		s.wallet.EXPECT().AddCredentials(gomock.Any(), gomock.Any()).
			Return(walletstate.WalletState{}, dErrors.New(dErrors.CodeConflict, "raced")),
		s.wallet.EXPECT().AddCredentials(gomock.Any(), gomock.Any()).
			Return(walletstate.NewWalletState(), nil),
	)
	s.legacy.EXPECT().DeleteCredential(gomock.Any(), "batch-a").Return(nil)

	_, err := s.migrator.MigrateCredentials(s.ctx)
	s.Require().Error(err)

	n, err := s.migrator.MigrateCredentials(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *MigrationSuite) TestLegacyBackendDown() {
	s.wallet.EXPECT().State().Return(walletstate.NewWalletState())
	s.legacy.EXPECT().ListCredentials(gomock.Any()).Return(nil, errors.New("timeout"))

	_, err := s.migrator.MigrateCredentials(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *MigrationSuite) TestMigratesSettings() {
	settings := map[string]string{"openidRefreshTokenMaxAgeInSeconds": "0"}
	s.wallet.EXPECT().State().Return(walletstate.NewWalletState())
	s.legacy.EXPECT().AccountSettings(gomock.Any()).Return(settings, nil)
	s.wallet.EXPECT().AlterSettings(gomock.Any(), settings).Return(walletstate.NewWalletState(), nil)

	migrated, err := s.migrator.MigrateSettings(s.ctx)
	s.Require().NoError(err)
	s.True(migrated)

	migrated, err = s.migrator.MigrateSettings(s.ctx)
	s.Require().NoError(err)
	s.False(migrated)

	s.Run("reset after a login change runs it again", func() {
		s.migrator.Reset()
		state := walletstate.NewWalletState()
		state.Settings = settings
		s.wallet.EXPECT().State().Return(state)
		migrated, err := s.migrator.MigrateSettings(s.ctx)
		s.Require().NoError(err)
		s.False(migrated, "a wallet with settings is left alone")
	})
}

func (s *MigrationSuite) TestNoLegacySettings() {
	s.wallet.EXPECT().State().Return(walletstate.NewWalletState())
	s.legacy.EXPECT().AccountSettings(gomock.Any()).Return(nil, nil)

	migrated, err := s.migrator.MigrateSettings(s.ctx)
	s.Require().NoError(err)
	s.False(migrated)
}
