// Package service runs one wallet on one device. It turns keystore updates
// into durable writes against the device-local store, retries when another
// tab or process wrote first, and synchronizes with the shared remote store
// by merging and folding event histories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"wwwallet/internal/keystore"
	"wwwallet/internal/privatedata"
	"wwwallet/internal/walletstate"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/sentinel"
)

const (
	DefaultMaxAttempts = 3
	DefaultKeepEvents  = 10

	tracerName = "wwwallet/internal/wallet/service"
)

// SyncResult summarizes one Sync.
type SyncResult struct {
	// Outcome is walletstate.MergeIdentical, MergeFastForward or MergeMerged.
	Outcome string
	// Pushed counts events only this device had; Pulled those only the
	// remote had.
	Pushed, Pulled int
	// Folded counts events absorbed into the base state.
	Folded int
	// Unknown counts merged events of kinds this build cannot fold.
	Unknown int
}

// Service owns the wallet of one holder on this device. Its methods are safe
// for concurrent use; mutations and syncs run one at a time.
type Service struct {
	mu sync.Mutex

	walletID string
	keystore *keystore.Keystore
	local    privatedata.Store
	remote   privatedata.Store

	logger      *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	keepEvents  int

	localVersion  int64
	remoteVersion int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithRemote sets the shared store Sync reconciles with. Without it the
// wallet works offline and Sync fails with CodeUnavailable.
func WithRemote(remote privatedata.Store) Option {
	return func(s *Service) {
		s.remote = remote
	}
}

// WithMaxAttempts bounds how often a write is retried after losing a race.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithKeepEvents sets how many of the newest events Sync leaves unfolded.
func WithKeepEvents(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.keepEvents = n
		}
	}
}

func New(walletID string, ks *keystore.Keystore, local privatedata.Store, opts ...Option) (*Service, error) {
	if walletID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "wallet id is required")
	}
	if ks == nil || local == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "keystore and local store are required")
	}
	s := &Service{
		walletID:    walletID,
		keystore:    ks,
		local:       local,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer(tracerName),
		maxAttempts: DefaultMaxAttempts,
		keepEvents:  DefaultKeepEvents,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the calculated state of the committed container.
func (s *Service) State() walletstate.WalletState {
	return s.keystore.CalculatedState()
}

// Container returns the committed container.
func (s *Service) Container() walletstate.Container {
	return s.keystore.Container()
}

// Load reads the local and remote private data in parallel and installs the
// best container: the local one when it verifies, else the remote one. A
// remote store that cannot be reached leaves the wallet working offline.
// When both verify but differ, Load syncs them.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, span := s.tracer.Start(ctx, "wallet.Load", trace.WithAttributes(attribute.String("wallet.id", s.walletID)))
	defer span.End()

	var localBlob, remoteBlob *privatedata.Blob
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.local.Get(gctx, s.walletID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("load local private data: %w", err)
		}
		localBlob = b
		return nil
	})
	if s.remote != nil {
		g.Go(func() error {
			b, err := s.remote.Get(gctx, s.walletID)
			if err != nil {
				if !errors.Is(err, sentinel.ErrNotFound) {
					s.logger.WarnContext(gctx, "remote private data unavailable; continuing offline",
						"wallet_id", s.walletID,
						"error", err,
					)
				}
				return nil
			}
			remoteBlob = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "load private data"))
	}

	local, localOK := s.open(ctx, "local", localBlob)
	remote, remoteOK := s.open(ctx, "remote", remoteBlob)
	if remoteOK {
		s.remoteVersion = remoteBlob.Version
	}
	if localBlob != nil {
		s.localVersion = localBlob.Version
	}

	switch {
	case localOK:
		if err := s.keystore.Install(ctx, local); err != nil {
			return fail(span, err)
		}
	case remoteOK:
		if err := s.keystore.Install(ctx, remote); err != nil {
			return fail(span, err)
		}
		blob, err := s.local.Put(ctx, s.walletID, remoteBlob.Data, s.localVersion)
		if err != nil {
			return fail(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "store remote private data locally"))
		}
		s.localVersion = blob.Version
		span.SetAttributes(attribute.String("wallet.source", "remote"))
		return nil
	case localBlob != nil:
		return fail(span, dErrors.New(dErrors.CodeCorruptHistory, "local private data is corrupt and no remote copy is available"))
	default:
		span.SetAttributes(attribute.String("wallet.source", "empty"))
		return nil
	}

	span.SetAttributes(attribute.String("wallet.source", "local"))
	if remoteOK && !local.SameHistory(remote) {
		if _, err := s.syncLocked(ctx); err != nil {
			s.logger.WarnContext(ctx, "sync after load failed; using local private data",
				"wallet_id", s.walletID,
				"error", err,
			)
		}
	}
	return nil
}

// open decrypts and verifies blob. Corrupt data is logged and reported as
// not ok so the caller can fall back to another replica.
func (s *Service) open(ctx context.Context, source string, blob *privatedata.Blob) (walletstate.Container, bool) {
	if blob == nil {
		return walletstate.Container{}, false
	}
	c, err := s.keystore.Open(ctx, blob.Data)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring corrupt private data",
			"wallet_id", s.walletID,
			"source", source,
			"version", blob.Version,
			"error", err,
		)
		return walletstate.Container{}, false
	}
	return c, true
}

// AddCredentials appends one new_credential event per credential.
func (s *Service) AddCredentials(ctx context.Context, creds []walletstate.NewCredential) (walletstate.WalletState, error) {
	return s.mutate(ctx, "AddCredentials", func(ctx context.Context) (*keystore.Update, error) {
		return s.keystore.AddCredentials(ctx, creds)
	})
}

func (s *Service) DeleteCredential(ctx context.Context, id walletstate.CredentialID) (walletstate.WalletState, error) {
	return s.mutate(ctx, "DeleteCredential", func(ctx context.Context) (*keystore.Update, error) {
		return s.keystore.DeleteCredential(ctx, id)
	})
}

func (s *Service) AlterSettings(ctx context.Context, settings map[string]string) (walletstate.WalletState, error) {
	return s.mutate(ctx, "AlterSettings", func(ctx context.Context) (*keystore.Update, error) {
		return s.keystore.AlterSettings(ctx, settings)
	})
}

func (s *Service) SaveIssuanceSessions(ctx context.Context, sessions []walletstate.IssuanceSession, removed []string) (walletstate.WalletState, error) {
	return s.mutate(ctx, "SaveIssuanceSessions", func(ctx context.Context) (*keystore.Update, error) {
		return s.keystore.SaveIssuanceSessions(ctx, sessions, removed)
	})
}

// mutate prepares an update, persists it locally and commits it. When the
// local store was written by someone else first, the stored container is
// merged in and the update is prepared again.
func (s *Service) mutate(ctx context.Context, op string, prepare func(context.Context) (*keystore.Update, error)) (walletstate.WalletState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, span := s.tracer.Start(ctx, "wallet."+op, trace.WithAttributes(attribute.String("wallet.id", s.walletID)))
	defer span.End()

	for attempt := 1; ; attempt++ {
		update, err := prepare(ctx)
		if err != nil {
			return walletstate.WalletState{}, fail(span, err)
		}

		blob, err := s.local.Put(ctx, s.walletID, update.PrivateData, s.localVersion)
		if err == nil {
			if err := update.Commit(ctx); err != nil {
				return walletstate.WalletState{}, fail(span, err)
			}
			s.localVersion = blob.Version
			span.SetAttributes(
				attribute.Int("wallet.attempts", attempt),
				attribute.Int("wallet.events", len(update.Events)),
			)
			return update.State, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return walletstate.WalletState{}, fail(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist private data"))
		}
		if attempt >= s.maxAttempts {
			return walletstate.WalletState{}, fail(span, dErrors.Wrap(err, dErrors.CodeConflict,
				fmt.Sprintf("private data kept changing, gave up after %d attempts", attempt)))
		}

		s.logger.InfoContext(ctx, "local private data changed concurrently; reloading",
			"wallet_id", s.walletID,
			"operation", op,
			"attempt", attempt,
		)
		if err := s.reloadLocal(ctx); err != nil {
			return walletstate.WalletState{}, fail(span, err)
		}
	}
}

// reloadLocal merges the stored local container into the keystore and
// adopts its version.
func (s *Service) reloadLocal(ctx context.Context) error {
	blob, err := s.local.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.localVersion = 0
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "reload local private data")
	}
	s.localVersion = blob.Version

	stored, ok := s.open(ctx, "local", blob)
	if !ok {
		// Overwrite the corrupt copy with ours on the next attempt.
		return nil
	}
	current := s.keystore.Container()
	if stored.SameHistory(current) {
		return nil
	}
	merged, err := s.merge(ctx, current, stored)
	if err != nil {
		return err
	}
	return s.keystore.Install(ctx, merged.Container)
}

func (s *Service) merge(ctx context.Context, ours, theirs walletstate.Container) (walletstate.MergeResult, error) {
	engine := s.keystore.Engine()
	a, b, err := engine.AlignAnchors(ctx, ours, theirs)
	if err != nil {
		return walletstate.MergeResult{}, err
	}
	return engine.Merge(ctx, a, b)
}

// Sync reconciles the committed container with the remote store: merge,
// fold what both sides already held, verify, write remote then local, and
// commit. A remote that fails verification is left alone and reported as
// CodeCorruptHistory; the local container stays in use.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	if s.remote == nil {
		return SyncResult{}, dErrors.New(dErrors.CodeUnavailable, "no remote private data store configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Service) syncLocked(ctx context.Context) (SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Sync", trace.WithAttributes(attribute.String("wallet.id", s.walletID)))
	defer span.End()

	for attempt := 1; ; attempt++ {
		result, err := s.syncOnce(ctx)
		if err == nil {
			span.SetAttributes(
				attribute.String("wallet.sync.outcome", result.Outcome),
				attribute.Int("wallet.sync.pushed", result.Pushed),
				attribute.Int("wallet.sync.pulled", result.Pulled),
				attribute.Int("wallet.sync.folded", result.Folded),
				attribute.Int("wallet.attempts", attempt),
			)
			s.logger.InfoContext(ctx, "wallet synchronized",
				"wallet_id", s.walletID,
				"outcome", result.Outcome,
				"pushed", result.Pushed,
				"pulled", result.Pulled,
				"folded", result.Folded,
			)
			return result, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return SyncResult{}, fail(span, err)
		}
		if attempt >= s.maxAttempts {
			return SyncResult{}, fail(span, dErrors.Wrap(err, dErrors.CodeConflict,
				fmt.Sprintf("private data kept changing, gave up after %d attempts", attempt)))
		}
		s.logger.InfoContext(ctx, "private data changed during sync; retrying",
			"wallet_id", s.walletID,
			"attempt", attempt,
		)
	}
}

// syncOnce runs one reconciliation round. A lost write race is returned as
// sentinel.ErrConflict so the caller retries with fresh data.
func (s *Service) syncOnce(ctx context.Context) (SyncResult, error) {
	engine := s.keystore.Engine()
	local := s.keystore.Container()

	var (
		remote        *walletstate.Container
		remoteVersion int64
	)
	blob, err := s.remote.Get(ctx, s.walletID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return SyncResult{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "fetch remote private data")
	default:
		c, err := s.keystore.Open(ctx, blob.Data)
		if err != nil {
			s.logger.WarnContext(ctx, "remote private data failed verification; keeping local",
				"wallet_id", s.walletID,
				"version", blob.Version,
				"error", err,
			)
			return SyncResult{}, err
		}
		remote, remoteVersion = &c, blob.Version
	}

	if remote != nil && remote.SameHistory(local) {
		s.remoteVersion = remoteVersion
		return SyncResult{Outcome: walletstate.MergeIdentical}, nil
	}

	merged := local
	result := SyncResult{Outcome: walletstate.MergeFastForward, Pushed: len(local.TailEvents)}
	shared := 0
	if remote != nil {
		mr, err := s.merge(ctx, local, *remote)
		if err != nil {
			return SyncResult{}, err
		}
		merged = mr.Container
		shared = mr.CommonPrefix
		result = SyncResult{Outcome: mr.Outcome, Pushed: mr.FromA, Pulled: mr.FromB, Unknown: len(mr.Unknown)}
	}

	// Only events both sides held before this round are folded, and never
	// the newest keepEvents.
	keep := max(len(merged.TailEvents)-shared, s.keepEvents)
	folded, err := engine.FoldOldEventsIntoBaseState(ctx, merged, keep)
	if err != nil {
		return SyncResult{}, err
	}
	result.Folded = len(merged.TailEvents) - len(folded.TailEvents)

	update, err := s.keystore.Replace(ctx, folded)
	if err != nil {
		return SyncResult{}, err
	}

	if remote == nil || !folded.SameHistory(*remote) {
		rblob, err := s.remote.Put(ctx, s.walletID, update.PrivateData, remoteVersion)
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return SyncResult{}, err
			}
			return SyncResult{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "push private data")
		}
		remoteVersion = rblob.Version
	}
	s.remoteVersion = remoteVersion

	if !folded.SameHistory(local) {
		lblob, err := s.local.Put(ctx, s.walletID, update.PrivateData, s.localVersion)
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				if rerr := s.reloadLocal(ctx); rerr != nil {
					return SyncResult{}, rerr
				}
				return SyncResult{}, err
			}
			return SyncResult{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist private data")
		}
		s.localVersion = lblob.Version
	}

	if err := update.Commit(ctx); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
