package walletstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wwwallet/internal/walletstate/metrics"
	dErrors "wwwallet/pkg/domain-errors"
)

// Clock returns the current time. Injected so tests can pin createdAt.
type Clock func() time.Time

// Engine runs the container operations that need a collaborator: the digest
// primitive for event ids, a clock for createdAt, and logging and metrics.
// It holds no container state; the same Engine serves any number of wallets.
type Engine struct {
	digester Digester
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

// WithDigester sets the digest primitive used for event ids.
func WithDigester(d Digester) Option {
	return func(e *Engine) {
		if d != nil {
			e.digester = d
		}
	}
}

// WithClock sets the clock used to stamp new events.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New constructs an Engine. Without options it hashes with SHA-256, stamps
// events with time.Now and discards logs.
func New(opts ...Option) *Engine {
	e := &Engine{
		digester: SHA256Digester{},
		clock:    time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// eventID computes the content hash of e from its envelope.
func (e *Engine) eventID(ctx context.Context, ev Event) (string, error) {
	id, err := e.digester.Digest(ctx, eventEnvelope(ev))
	if err != nil {
		return "", fmt.Errorf("digest event: %w", err)
	}
	return id, nil
}

// Append chains a new event carrying payload onto c and returns the extended
// container together with the new event. c itself is left untouched.
func (e *Engine) Append(ctx context.Context, c Container, payload Payload) (Container, Event, error) {
	if payload == nil {
		return Container{}, Event{}, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	raw, err := canonicalPayload(payload)
	if err != nil {
		return Container{}, Event{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode payload")
	}
	ev := Event{
		PrevHash:  c.Head(),
		Kind:      payload.Kind(),
		Payload:   raw,
		CreatedAt: eventTime(e.clock()),
	}
	ev.ID, err = e.eventID(ctx, ev)
	if err != nil {
		return Container{}, Event{}, dErrors.Wrap(err, dErrors.CodeInternal, "compute event id")
	}

	tail := make([]Event, len(c.TailEvents), len(c.TailEvents)+1)
	copy(tail, c.TailEvents)
	tail = append(tail, ev)

	e.metrics.IncrementAppended(string(ev.Kind))
	return c.withTail(tail), ev, nil
}

// AddCredentials appends one new_credential event per credential, in order.
func (e *Engine) AddCredentials(ctx context.Context, c Container, creds []NewCredential) (Container, []Event, error) {
	events := make([]Event, 0, len(creds))
	for _, cred := range creds {
		var (
			ev  Event
			err error
		)
		c, ev, err = e.Append(ctx, c, cred)
		if err != nil {
			return Container{}, nil, err
		}
		events = append(events, ev)
	}
	return c, events, nil
}

// DeleteCredential appends a delete_credential event.
func (e *Engine) DeleteCredential(ctx context.Context, c Container, id CredentialID) (Container, Event, error) {
	if id == "" {
		return Container{}, Event{}, dErrors.New(dErrors.CodeInvalidInput, "credential id is required")
	}
	return e.Append(ctx, c, DeleteCredential{CredentialID: id})
}

// AlterSettings appends an alter_settings event.
func (e *Engine) AlterSettings(ctx context.Context, c Container, settings map[string]string) (Container, Event, error) {
	if len(settings) == 0 {
		return Container{}, Event{}, dErrors.New(dErrors.CodeInvalidInput, "settings must not be empty")
	}
	return e.Append(ctx, c, AlterSettings{Settings: settings})
}

// SaveIssuanceSessions appends a save_credential_issuance_sessions event.
func (e *Engine) SaveIssuanceSessions(ctx context.Context, c Container, sessions []IssuanceSession, removed []string) (Container, Event, error) {
	if len(sessions) == 0 && len(removed) == 0 {
		return Container{}, Event{}, dErrors.New(dErrors.CodeInvalidInput, "no sessions to save or remove")
	}
	for _, sess := range sessions {
		if sess.SessionID == "" {
			return Container{}, Event{}, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
		}
	}
	return e.Append(ctx, c, SaveIssuanceSessions{Sessions: sessions, Removed: removed})
}

// CalculateState replays the tail over the base state. Events that cannot be
// folded are skipped and logged.
func (e *Engine) CalculateState(ctx context.Context, c Container) WalletState {
	state, skipped := Replay(c.BaseState, c.TailEvents)
	for _, ev := range skipped {
		e.logger.WarnContext(ctx, "skipping event while calculating wallet state",
			"event_id", ev.ID,
			"kind", string(ev.Kind),
		)
	}
	return state
}
