package walletstate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// eventDomain separates event ids from any other digest the keystore
// computes. The version suffix leaves room for a future envelope change.
const eventDomain = "wwwallet/event/v1"

// Digester is the digest primitive supplied by the keystore. It must be
// deterministic across processes and devices: event ids are compared between
// replicas.
type Digester interface {
	Digest(ctx context.Context, data []byte) (string, error)
}

// SHA256Digester hex-encodes the SHA-256 of its input.
type SHA256Digester struct{}

func (SHA256Digester) Digest(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// eventEnvelope is the byte string an event id is computed over:
//
//	domain 0x00 kind 0x00 prevHash 0x00 createdAt(unix ms) 0x00 payload
//
// The null separators keep field boundaries unambiguous. Only the hashed
// copy of the payload is canonicalised: it is compacted, HTML-escaped the
// way encoding/json re-encodes a RawMessage, and NFC-normalised. Re-indenting
// or re-encoding a serialized container therefore does not change ids, and
// the stored payload keeps the caller's bytes.
func eventEnvelope(e Event) []byte {
	var buf bytes.Buffer
	buf.WriteString(eventDomain)
	buf.WriteByte(0x00)
	buf.WriteString(string(e.Kind))
	buf.WriteByte(0x00)
	buf.WriteString(e.PrevHash)
	buf.WriteByte(0x00)
	buf.WriteString(strconv.FormatInt(e.CreatedAt.UnixMilli(), 10))
	buf.WriteByte(0x00)
	buf.Write(norm.NFC.Bytes(canonicalJSON(e.Payload)))
	return buf.Bytes()
}

// canonicalJSON compacts raw and escapes <, > and & as encoding/json does
// on encode. Invalid JSON is returned unchanged.
func canonicalJSON(raw []byte) []byte {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return raw
	}
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, compacted.Bytes())
	return escaped.Bytes()
}

// canonicalPayload encodes p. encoding/json emits struct fields in
// declaration order and map keys sorted, so the bytes only depend on the
// payload's content. The bytes are stored as they are.
func canonicalPayload(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// eventTime truncates to the millisecond precision the envelope hashes.
func eventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
