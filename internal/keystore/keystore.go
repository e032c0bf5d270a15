// Package keystore holds a wallet's committed container in memory and
// supplies the engine's collaborators: the digest primitive for event ids,
// the key material that seals serialized containers, and the commit step
// that installs a new container only after it was durably persisted.
package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"wwwallet/internal/walletstate"
	"wwwallet/internal/walletstate/metrics"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/sentinel"
)

// Update is a state transition that has been computed but not yet
// committed. Callers persist PrivateData and call Commit only once the write
// succeeded; dropping an Update leaves the keystore unchanged.
type Update struct {
	Container   walletstate.Container
	State       walletstate.WalletState
	Events      []walletstate.Event
	PrivateData []byte
	Commit      func(ctx context.Context) error
}

// Keystore owns the committed container of one wallet.
type Keystore struct {
	mu        sync.RWMutex
	engine    *walletstate.Engine
	sealer    *Sealer
	logger    *slog.Logger
	container walletstate.Container
	state     walletstate.WalletState
	revision  uint64
}

type Option func(*keystoreConfig)

type keystoreConfig struct {
	logger     *slog.Logger
	clock      walletstate.Clock
	metrics    *metrics.Metrics
	engineOpts []walletstate.Option
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *keystoreConfig) {
		c.logger = logger
	}
}

// WithClock sets the clock stamped on new events.
func WithClock(clock walletstate.Clock) Option {
	return func(c *keystoreConfig) {
		c.clock = clock
	}
}

// WithMetrics wires engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *keystoreConfig) {
		c.metrics = m
	}
}

// New builds a keystore holding an empty container. The keystore is its
// engine's digester.
func New(sealer *Sealer, opts ...Option) (*Keystore, error) {
	if sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}
	cfg := keystoreConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	k := &Keystore{
		sealer:    sealer,
		logger:    cfg.logger,
		container: walletstate.NewContainer(),
		state:     walletstate.NewWalletState(),
	}
	k.engine = walletstate.New(
		walletstate.WithDigester(k),
		walletstate.WithClock(cfg.clock),
		walletstate.WithLogger(cfg.logger),
		walletstate.WithMetrics(cfg.metrics),
	)
	return k, nil
}

// Digest implements walletstate.Digester with the engine's hex SHA-256.
func (k *Keystore) Digest(ctx context.Context, data []byte) (string, error) {
	return walletstate.SHA256Digester{}.Digest(ctx, data)
}

// Engine exposes the engine bound to this keystore's digest primitive.
func (k *Keystore) Engine() *walletstate.Engine {
	return k.engine
}

// Container returns the committed container.
func (k *Keystore) Container() walletstate.Container {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.container
}

// CalculatedState returns the state of the committed container.
func (k *Keystore) CalculatedState() walletstate.WalletState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Clone()
}

// Seal serializes and encrypts c.
func (k *Keystore) Seal(c walletstate.Container) ([]byte, error) {
	plaintext, err := walletstate.Marshal(c)
	if err != nil {
		return nil, err
	}
	sealed, err := k.sealer.Seal(plaintext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal container")
	}
	return sealed, nil
}

// Open decrypts, decodes and verifies a private data blob. A blob that does
// not decrypt or whose history does not verify is reported as
// CodeCorruptHistory.
func (k *Keystore) Open(ctx context.Context, blob []byte) (walletstate.Container, error) {
	plaintext, err := k.sealer.Open(blob)
	if err != nil {
		return walletstate.Container{}, dErrors.Wrap(err, dErrors.CodeCorruptHistory, "open private data")
	}
	c, err := walletstate.Unmarshal(plaintext)
	if err != nil {
		return walletstate.Container{}, err
	}
	if err := k.engine.VerifyHistory(ctx, c); err != nil {
		return walletstate.Container{}, err
	}
	return c, nil
}

// Install verifies c and makes it the committed container without going
// through an Update. Used when loading a container that is already durable.
func (k *Keystore) Install(ctx context.Context, c walletstate.Container) error {
	if err := k.engine.VerifyHistory(ctx, c); err != nil {
		return err
	}
	state := k.engine.CalculateState(ctx, c)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.container = c
	k.state = state
	k.revision++
	return nil
}

// AddCredentials prepares an update appending one event per credential.
func (k *Keystore) AddCredentials(ctx context.Context, creds []walletstate.NewCredential) (*Update, error) {
	if len(creds) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "no credentials to add")
	}
	return k.prepare(ctx, func(c walletstate.Container) (walletstate.Container, []walletstate.Event, error) {
		return k.engine.AddCredentials(ctx, c, creds)
	})
}

// DeleteCredential prepares an update deleting a credential record.
func (k *Keystore) DeleteCredential(ctx context.Context, id walletstate.CredentialID) (*Update, error) {
	return k.prepare(ctx, single(func(c walletstate.Container) (walletstate.Container, walletstate.Event, error) {
		return k.engine.DeleteCredential(ctx, c, id)
	}))
}

// AlterSettings prepares an update merging settings.
func (k *Keystore) AlterSettings(ctx context.Context, settings map[string]string) (*Update, error) {
	return k.prepare(ctx, single(func(c walletstate.Container) (walletstate.Container, walletstate.Event, error) {
		return k.engine.AlterSettings(ctx, c, settings)
	}))
}

// SaveIssuanceSessions prepares an update upserting and removing sessions.
func (k *Keystore) SaveIssuanceSessions(ctx context.Context, sessions []walletstate.IssuanceSession, removed []string) (*Update, error) {
	return k.prepare(ctx, single(func(c walletstate.Container) (walletstate.Container, walletstate.Event, error) {
		return k.engine.SaveIssuanceSessions(ctx, c, sessions, removed)
	}))
}

// Replace prepares an update that installs an externally computed
// container, such as the result of a merge and fold.
func (k *Keystore) Replace(ctx context.Context, c walletstate.Container) (*Update, error) {
	if err := k.engine.VerifyHistory(ctx, c); err != nil {
		return nil, err
	}
	return k.prepare(ctx, func(walletstate.Container) (walletstate.Container, []walletstate.Event, error) {
		return c, nil, nil
	})
}

type transition func(walletstate.Container) (walletstate.Container, []walletstate.Event, error)

func single(fn func(walletstate.Container) (walletstate.Container, walletstate.Event, error)) transition {
	return func(c walletstate.Container) (walletstate.Container, []walletstate.Event, error) {
		next, ev, err := fn(c)
		if err != nil {
			return walletstate.Container{}, nil, err
		}
		return next, []walletstate.Event{ev}, nil
	}
}

func (k *Keystore) prepare(ctx context.Context, fn transition) (*Update, error) {
	k.mu.RLock()
	current, revision := k.container, k.revision
	k.mu.RUnlock()

	next, events, err := fn(current)
	if err != nil {
		return nil, err
	}
	sealed, err := k.Seal(next)
	if err != nil {
		return nil, err
	}
	state := k.engine.CalculateState(ctx, next)
	update := &Update{
		Container:   next,
		State:       state,
		Events:      events,
		PrivateData: sealed,
	}
	update.Commit = func(ctx context.Context) error {
		return k.commit(ctx, revision, next, state)
	}
	return update, nil
}

// commit installs next if nothing was committed since the update was built.
func (k *Keystore) commit(ctx context.Context, revision uint64, next walletstate.Container, state walletstate.WalletState) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.revision != revision {
		k.logger.WarnContext(ctx, "rejecting stale keystore commit",
			"expected_revision", revision,
			"current_revision", k.revision,
		)
		return fmt.Errorf("keystore changed since update was prepared: %w", sentinel.ErrConflict)
	}
	k.container = next
	k.state = state
	k.revision++
	return nil
}
