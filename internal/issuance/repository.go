// Package issuance keeps OpenID4VCI client state (one session per issuance
// in flight) inside the wallet container. Changes are staged in memory and
// flushed as a single save_credential_issuance_sessions event.
package issuance

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"wwwallet/internal/walletstate"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/sentinel"
)

// DefaultSessionTTL is how long an unfinished issuance session is kept.
const DefaultSessionTTL = 24 * time.Hour

// Wallet is the part of the wallet service the repository writes through.
type Wallet interface {
	State() walletstate.WalletState
	SaveIssuanceSessions(ctx context.Context, sessions []walletstate.IssuanceSession, removed []string) (walletstate.WalletState, error)
}

// Repository is the caller-owned keyed store of issuance sessions.
type Repository struct {
	wallet Wallet
	clock  func() time.Time

	mu      sync.Mutex
	staged  map[string]walletstate.IssuanceSession
	order   []string
	removed map[string]struct{}
}

type Option func(*Repository)

func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewRepository(wallet Wallet, opts ...Option) *Repository {
	r := &Repository{
		wallet:  wallet,
		clock:   time.Now,
		staged:  make(map[string]walletstate.IssuanceSession),
		removed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sessions returns the committed sessions overlaid with staged changes.
// Callers hold r.mu.
func (r *Repository) sessions() []walletstate.IssuanceSession {
	committed := r.wallet.State().IssuanceSessions
	out := make([]walletstate.IssuanceSession, 0, len(committed)+len(r.order))
	seen := make(map[string]struct{}, len(committed))
	for _, s := range committed {
		seen[s.SessionID] = struct{}{}
		if _, gone := r.removed[s.SessionID]; gone {
			continue
		}
		if staged, ok := r.staged[s.SessionID]; ok {
			s = staged
		}
		out = append(out, s)
	}
	for _, id := range r.order {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, r.staged[id])
	}
	return out
}

func (r *Repository) find(match func(walletstate.IssuanceSession) bool) (walletstate.IssuanceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions() {
		if match(s) {
			return s, nil
		}
	}
	return walletstate.IssuanceSession{}, sentinel.ErrNotFound
}

// GetByState finds the session created for an authorization request state.
func (r *Repository) GetByState(state string) (walletstate.IssuanceSession, error) {
	return r.find(func(s walletstate.IssuanceSession) bool { return s.State == state })
}

// GetByIssuerState finds the session for an issuer_state from a credential
// offer.
func (r *Repository) GetByIssuerState(issuerState string) (walletstate.IssuanceSession, error) {
	return r.find(func(s walletstate.IssuanceSession) bool {
		return issuerState != "" && s.IssuerState == issuerState
	})
}

func (r *Repository) GetByIssuerAndConfiguration(issuer, configurationID string) (walletstate.IssuanceSession, error) {
	return r.find(func(s walletstate.IssuanceSession) bool {
		return s.CredentialIssuerIdentifier == issuer && s.CredentialConfigurationID == configurationID
	})
}

// Create stages a new session, assigning a session id and creation time when
// they are missing.
func (r *Repository) Create(s walletstate.IssuanceSession) (walletstate.IssuanceSession, error) {
	if s.CredentialIssuerIdentifier == "" {
		return walletstate.IssuanceSession{}, dErrors.New(dErrors.CodeInvalidInput, "credential issuer identifier is required")
	}
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	if s.Created == 0 {
		s.Created = r.clock().Unix()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions() {
		if existing.SessionID == s.SessionID {
			return walletstate.IssuanceSession{}, dErrors.New(dErrors.CodeConflict, "issuance session already exists")
		}
	}
	r.stage(s)
	return s, nil
}

// UpdateState stages a change to an existing session.
func (r *Repository) UpdateState(s walletstate.IssuanceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions() {
		if existing.SessionID == s.SessionID {
			if s.Created == 0 {
				s.Created = existing.Created
			}
			r.stage(s)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (r *Repository) stage(s walletstate.IssuanceSession) {
	if _, ok := r.staged[s.SessionID]; !ok {
		r.order = append(r.order, s.SessionID)
	}
	delete(r.removed, s.SessionID)
	r.staged[s.SessionID] = s
}

// CleanupExpired stages removal of sessions created more than ttl ago and
// returns how many were removed.
func (r *Repository) CleanupExpired(ttl time.Duration) int {
	cutoff := r.clock().Add(-ttl).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions() {
		if s.Created >= cutoff {
			continue
		}
		r.removed[s.SessionID] = struct{}{}
		delete(r.staged, s.SessionID)
		n++
	}
	if n > 0 {
		order := r.order[:0]
		for _, id := range r.order {
			if _, ok := r.staged[id]; ok {
				order = append(order, id)
			}
		}
		r.order = order
	}
	return n
}

// CommitStateChanges writes staged changes as one event. Nothing is written
// when nothing is staged. Staged changes survive a failed commit.
func (r *Repository) CommitStateChanges(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 && len(r.removed) == 0 {
		return nil
	}

	sessions := make([]walletstate.IssuanceSession, 0, len(r.order))
	for _, id := range r.order {
		sessions = append(sessions, r.staged[id])
	}
	removed := make([]string, 0, len(r.removed))
	for id := range r.removed {
		removed = append(removed, id)
	}
	slices.Sort(removed)

	if _, err := r.wallet.SaveIssuanceSessions(ctx, sessions, removed); err != nil {
		return err
	}
	r.staged = make(map[string]walletstate.IssuanceSession)
	r.order = nil
	r.removed = make(map[string]struct{})
	return nil
}
