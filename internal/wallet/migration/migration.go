// Package migration moves data that older deployments kept in plaintext on
// the backend (the verifiable credential table and account settings) into
// the encrypted wallet container.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wwwallet/internal/walletstate"
	dErrors "wwwallet/pkg/domain-errors"
)

// LegacyCredential is one row of the legacy credential table.
type LegacyCredential struct {
	Credential                 string `json:"credential"`
	CredentialIdentifier       string `json:"credentialIdentifier"`
	CredentialIssuerIdentifier string `json:"credentialIssuerIdentifier"`
	Format                     string `json:"format"`
	InstanceID                 int    `json:"instanceId"`
}

// LegacyBackend reads and clears the plaintext data of the legacy backend.
type LegacyBackend interface {
	ListCredentials(ctx context.Context) ([]LegacyCredential, error)
	DeleteCredential(ctx context.Context, credentialIdentifier string) error
	AccountSettings(ctx context.Context) (map[string]string, error)
}

// Wallet is the part of the wallet service migrations write through.
type Wallet interface {
	State() walletstate.WalletState
	AddCredentials(ctx context.Context, creds []walletstate.NewCredential) (walletstate.WalletState, error)
	AlterSettings(ctx context.Context, settings map[string]string) (walletstate.WalletState, error)
}

// KIDDeriver derives the holder key id bound into a credential.
type KIDDeriver func(ctx context.Context, credential, format string) (string, error)

// batchNamespace scopes the name-based UUIDs used as batch ids. Instances of
// one issued batch share a credential identifier and therefore a batch id on
// every replica that runs the migration.
var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:wwwallet:credential-batch"))

// BatchID returns the batch id assigned to a legacy credential identifier.
func BatchID(credentialIdentifier string) string {
	return uuid.NewSHA1(batchNamespace, []byte(credentialIdentifier)).String()
}

const deleteConcurrency = 4

// Migrator runs each migration at most once per login.
type Migrator struct {
	wallet    Wallet
	legacy    LegacyBackend
	deriveKID KIDDeriver
	logger    *slog.Logger

	credentialsDone atomic.Bool
	settingsDone    atomic.Bool
}

type Option func(*Migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// WithKIDDeriver sets how holder key ids are recovered from legacy
// credentials. Without it migrated credentials carry no kid.
func WithKIDDeriver(d KIDDeriver) Option {
	return func(m *Migrator) {
		m.deriveKID = d
	}
}

func New(wallet Wallet, legacy LegacyBackend, opts ...Option) *Migrator {
	m := &Migrator{
		wallet: wallet,
		legacy: legacy,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reset allows both migrations to run again, after the holder logged in
// with another account.
func (m *Migrator) Reset() {
	m.credentialsDone.Store(false)
	m.settingsDone.Store(false)
}

// MigrateCredentials copies the legacy credential table into an empty
// wallet and then deletes the legacy rows. It returns the number of
// credentials added. A wallet that already holds credentials is left alone.
// Deleting legacy rows is best effort: failures are logged and the rows are
// retried on the next run.
func (m *Migrator) MigrateCredentials(ctx context.Context) (int, error) {
	if m.credentialsDone.Load() {
		return 0, nil
	}
	if len(m.wallet.State().Credentials) > 0 {
		m.credentialsDone.Store(true)
		return 0, nil
	}

	legacy, err := m.legacy.ListCredentials(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "list legacy credentials")
	}
	if len(legacy) == 0 {
		m.credentialsDone.Store(true)
		return 0, nil
	}

	creds := make([]walletstate.NewCredential, 0, len(legacy))
	for _, lc := range legacy {
		kid := ""
		if m.deriveKID != nil {
			kid, err = m.deriveKID(ctx, lc.Credential, lc.Format)
			if err != nil {
				return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput,
					fmt.Sprintf("derive holder key id for %s", lc.CredentialIdentifier))
			}
		}
		creds = append(creds, walletstate.NewCredential{
			Data:                       lc.Credential,
			Format:                     lc.Format,
			KID:                        kid,
			CredentialIssuerIdentifier: lc.CredentialIssuerIdentifier,
			BatchID:                    BatchID(lc.CredentialIdentifier),
			InstanceID:                 lc.InstanceID,
		})
	}

	if _, err := m.wallet.AddCredentials(ctx, creds); err != nil {
		return 0, err
	}
	m.credentialsDone.Store(true)
	m.logger.InfoContext(ctx, "migrated legacy credentials", "count", len(creds))

	m.deleteLegacy(ctx, legacy)
	return len(creds), nil
}

func (m *Migrator) deleteLegacy(ctx context.Context, legacy []LegacyCredential) {
	seen := make(map[string]struct{}, len(legacy))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, lc := range legacy {
		if _, dup := seen[lc.CredentialIdentifier]; dup {
			continue
		}
		seen[lc.CredentialIdentifier] = struct{}{}
		id := lc.CredentialIdentifier
		g.Go(func() error {
			if err := m.legacy.DeleteCredential(gctx, id); err != nil {
				m.logger.WarnContext(gctx, "failed to delete migrated legacy credential",
					"credential_identifier", id,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// MigrateSettings copies legacy account settings into a wallet that has
// none. It reports whether anything was written.
func (m *Migrator) MigrateSettings(ctx context.Context) (bool, error) {
	if m.settingsDone.Load() {
		return false, nil
	}
	if len(m.wallet.State().Settings) > 0 {
		m.settingsDone.Store(true)
		return false, nil
	}

	settings, err := m.legacy.AccountSettings(ctx)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "fetch legacy account settings")
	}
	if len(settings) == 0 {
		m.settingsDone.Store(true)
		return false, nil
	}
	if _, err := m.wallet.AlterSettings(ctx, settings); err != nil {
		return false, err
	}
	m.settingsDone.Store(true)
	m.logger.InfoContext(ctx, "migrated legacy settings", "count", len(settings))
	return true, nil
}
