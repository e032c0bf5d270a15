package walletstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	dErrors "wwwallet/pkg/domain-errors"
)

// EventKind tags the mutation an event carries.
type EventKind string

const (
	KindNewCredential        EventKind = "new_credential"
	KindDeleteCredential     EventKind = "delete_credential"
	KindAlterSettings        EventKind = "alter_settings"
	KindSaveIssuanceSessions EventKind = "save_credential_issuance_sessions"
)

// Known reports whether this build can fold events of kind k.
func (k EventKind) Known() bool {
	switch k {
	case KindNewCredential, KindDeleteCredential, KindAlterSettings, KindSaveIssuanceSessions:
		return true
	default:
		return false
	}
}

// Event is a content-addressed, causally chained mutation record.
//
// Payload is kept as the exact JSON bytes that were hashed. Events of a kind
// this build does not know survive decode and encode byte for byte.
type Event struct {
	ID        string          `json:"eventId"`
	PrevHash  string          `json:"prevEventHash"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (e Event) clone() Event {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// Payload is the variant-specific data of an event.
type Payload interface {
	Kind() EventKind
}

// NewCredential stores a credential record.
type NewCredential struct {
	Data                       string `json:"data"`
	Format                     string `json:"format"`
	KID                        string `json:"kid"`
	CredentialConfigurationID  string `json:"credentialConfigurationId"`
	CredentialIssuerIdentifier string `json:"credentialIssuerIdentifier"`
	BatchID                    string `json:"batchId,omitempty"`
	InstanceID                 int    `json:"instanceId"`
}

func (NewCredential) Kind() EventKind { return KindNewCredential }

// DeleteCredential removes a credential record.
type DeleteCredential struct {
	CredentialID CredentialID `json:"credentialId"`
}

func (DeleteCredential) Kind() EventKind { return KindDeleteCredential }

// AlterSettings shallow-merges keys into the settings mapping.
type AlterSettings struct {
	Settings map[string]string `json:"settings"`
}

func (AlterSettings) Kind() EventKind { return KindAlterSettings }

// SaveIssuanceSessions upserts sessions by id and drops the ids in Removed.
// Sessions are written after removals, so a session both removed and saved
// by the same event survives.
type SaveIssuanceSessions struct {
	Sessions []IssuanceSession `json:"sessions"`
	Removed  []string          `json:"removed,omitempty"`
}

func (SaveIssuanceSessions) Kind() EventKind { return KindSaveIssuanceSessions }

// DecodePayload decodes the typed payload of e.
func DecodePayload(e Event) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch e.Kind {
	case KindNewCredential:
		var p NewCredential
		err = json.Unmarshal(e.Payload, &p)
		payload = p
	case KindDeleteCredential:
		var p DeleteCredential
		err = json.Unmarshal(e.Payload, &p)
		payload = p
	case KindAlterSettings:
		var p AlterSettings
		err = json.Unmarshal(e.Payload, &p)
		payload = p
	case KindSaveIssuanceSessions:
		var p SaveIssuanceSessions
		err = json.Unmarshal(e.Payload, &p)
		payload = p
	default:
		return nil, dErrors.New(dErrors.CodeUnknownEventKind, fmt.Sprintf("event %s has unknown kind %q", e.ID, e.Kind))
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCorruptHistory, fmt.Sprintf("event %s payload does not decode as %s", e.ID, e.Kind))
	}
	return payload, nil
}
