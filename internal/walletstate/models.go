// Package walletstate implements the holder wallet's event-sourced state
// container: an append-only, hash-chained log of mutation events, a pure
// reducer that derives the observable WalletState from it, divergence
// detection and merging of two replicas, compaction of old events into the
// base snapshot, and chain verification.
//
// Every operation takes containers by value and returns new ones. Nothing in
// this package mutates a container, state or event it was handed, so values
// can be shared freely between goroutines and replicas.
package walletstate

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// CredentialID identifies a credential record. It is derived from the id of
// the event that created the record so that independently evolving replicas
// never hand out the same id twice.
type CredentialID string

// Credential is a stored credential record.
type Credential struct {
	CredentialID               CredentialID `json:"credentialId"`
	Data                       string       `json:"data"`
	Format                     string       `json:"format"`
	KID                        string       `json:"kid"`
	CredentialConfigurationID  string       `json:"credentialConfigurationId"`
	CredentialIssuerIdentifier string       `json:"credentialIssuerIdentifier"`
	BatchID                    string       `json:"batchId"`
	InstanceID                 int          `json:"instanceId"`
}

// IssuanceSession is the client state of an in-flight credential issuance.
type IssuanceSession struct {
	SessionID                  string          `json:"sessionId"`
	CredentialIssuerIdentifier string          `json:"credentialIssuerIdentifier"`
	State                      string          `json:"state"`
	IssuerState                string          `json:"issuerState,omitempty"`
	CodeVerifier               string          `json:"codeVerifier"`
	CredentialConfigurationID  string          `json:"credentialConfigurationId"`
	TokenResponse              json.RawMessage `json:"tokenResponse,omitempty"`
	DPoP                       json.RawMessage `json:"dpop,omitempty"`
	Created                    int64           `json:"created"`
}

func (s IssuanceSession) clone() IssuanceSession {
	s.TokenResponse = bytes.Clone(s.TokenResponse)
	s.DPoP = bytes.Clone(s.DPoP)
	return s
}

// WalletState is the aggregate snapshot derived by folding events.
type WalletState struct {
	Credentials      []Credential      `json:"credentials"`
	Settings         map[string]string `json:"settings"`
	IssuanceSessions []IssuanceSession `json:"credentialIssuanceSessions"`
}

// NewWalletState returns the empty state a wallet starts from.
func NewWalletState() WalletState {
	return WalletState{
		Credentials:      []Credential{},
		Settings:         map[string]string{},
		IssuanceSessions: []IssuanceSession{},
	}
}

// Clone returns a deep copy of s.
func (s WalletState) Clone() WalletState {
	out := WalletState{
		Credentials:      slices.Clone(s.Credentials),
		Settings:         maps.Clone(s.Settings),
		IssuanceSessions: make([]IssuanceSession, len(s.IssuanceSessions)),
	}
	if out.Credentials == nil {
		out.Credentials = []Credential{}
	}
	if out.Settings == nil {
		out.Settings = map[string]string{}
	}
	for i, sess := range s.IssuanceSessions {
		out.IssuanceSessions[i] = sess.clone()
	}
	return out
}

// FindCredential returns the record with the given id.
func (s WalletState) FindCredential(id CredentialID) (Credential, bool) {
	for _, c := range s.Credentials {
		if c.CredentialID == id {
			return c, true
		}
	}
	return Credential{}, false
}

// FindSession returns the issuance session with the given id.
func (s WalletState) FindSession(sessionID string) (IssuanceSession, bool) {
	for _, sess := range s.IssuanceSessions {
		if sess.SessionID == sessionID {
			return sess.clone(), true
		}
	}
	return IssuanceSession{}, false
}

// normalize replaces nil collections left behind by decoding with empty ones
// so that decoded and freshly built states compare equal.
func (s WalletState) normalize() WalletState {
	if s.Credentials == nil {
		s.Credentials = []Credential{}
	}
	if s.Settings == nil {
		s.Settings = map[string]string{}
	}
	if s.IssuanceSessions == nil {
		s.IssuanceSessions = []IssuanceSession{}
	}
	return s
}

// Container pairs a base snapshot with the unfolded tail of events.
//
// BaseState is exactly the result of folding every compacted event in order.
// TailEvents[0].PrevHash equals LastFoldedEventHash, and each later event
// points at an earlier tail event (its immediate predecessor except at the
// join of a merge). An empty LastFoldedEventHash means nothing was folded yet.
type Container struct {
	BaseState           WalletState
	TailEvents          []Event
	LastFoldedEventHash string
}

// NewContainer returns the empty container created at wallet setup.
func NewContainer() Container {
	return Container{
		BaseState:  NewWalletState(),
		TailEvents: []Event{},
	}
}

// Head is the hash the next appended event chains onto: the id of the last
// tail event, or the fold anchor when the tail is empty.
func (c Container) Head() string {
	if n := len(c.TailEvents); n > 0 {
		return c.TailEvents[n-1].ID
	}
	return c.LastFoldedEventHash
}

// Clone returns a deep copy of c.
func (c Container) Clone() Container {
	tail := make([]Event, len(c.TailEvents))
	for i, ev := range c.TailEvents {
		tail[i] = ev.clone()
	}
	return Container{
		BaseState:           c.BaseState.Clone(),
		TailEvents:          tail,
		LastFoldedEventHash: c.LastFoldedEventHash,
	}
}

// SameHistory reports whether both containers hold the same anchor and the
// same tail event ids in the same order.
func (c Container) SameHistory(other Container) bool {
	if c.LastFoldedEventHash != other.LastFoldedEventHash || len(c.TailEvents) != len(other.TailEvents) {
		return false
	}
	for i := range c.TailEvents {
		if c.TailEvents[i].ID != other.TailEvents[i].ID {
			return false
		}
	}
	return true
}

// withTail returns a copy of c sharing the base state but owning tail.
func (c Container) withTail(tail []Event) Container {
	return Container{
		BaseState:           c.BaseState,
		TailEvents:          tail,
		LastFoldedEventHash: c.LastFoldedEventHash,
	}
}
