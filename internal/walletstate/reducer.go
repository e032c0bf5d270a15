package walletstate

import (
	"maps"
)

// Reduce folds a single event onto s and returns the resulting state.
//
// Reduce is pure: the same (s, e) always yields a structurally identical
// result, s is never modified, and nothing outside its arguments is read.
// An event of unknown kind leaves s unchanged and returns a
// CodeUnknownEventKind error; an undecodable payload returns
// CodeCorruptHistory.
func Reduce(s WalletState, e Event) (WalletState, error) {
	payload, err := DecodePayload(e)
	if err != nil {
		return s, err
	}
	switch p := payload.(type) {
	case NewCredential:
		return reduceNewCredential(s, e, p), nil
	case DeleteCredential:
		return reduceDeleteCredential(s, p), nil
	case AlterSettings:
		return reduceAlterSettings(s, p), nil
	case SaveIssuanceSessions:
		return reduceSaveIssuanceSessions(s, p), nil
	}
	return s, nil
}

// Replay folds events in order. Events that Reduce rejects are skipped and
// returned so the caller can report them.
func Replay(s WalletState, events []Event) (WalletState, []Event) {
	var skipped []Event
	for _, e := range events {
		next, err := Reduce(s, e)
		if err != nil {
			skipped = append(skipped, e)
			continue
		}
		s = next
	}
	return s, skipped
}

func reduceNewCredential(s WalletState, e Event, p NewCredential) WalletState {
	id := CredentialID(e.ID)
	batchID := p.BatchID
	if batchID == "" {
		batchID = string(id)
	}
	creds := make([]Credential, len(s.Credentials), len(s.Credentials)+1)
	copy(creds, s.Credentials)
	creds = append(creds, Credential{
		CredentialID:               id,
		Data:                       p.Data,
		Format:                     p.Format,
		KID:                        p.KID,
		CredentialConfigurationID:  p.CredentialConfigurationID,
		CredentialIssuerIdentifier: p.CredentialIssuerIdentifier,
		BatchID:                    batchID,
		InstanceID:                 p.InstanceID,
	})
	s.Credentials = creds
	return s
}

// reduceDeleteCredential is a no-op when no record matches; the same delete
// may arrive from both sides of a merge.
func reduceDeleteCredential(s WalletState, p DeleteCredential) WalletState {
	creds := make([]Credential, 0, len(s.Credentials))
	for _, c := range s.Credentials {
		if c.CredentialID != p.CredentialID {
			creds = append(creds, c)
		}
	}
	s.Credentials = creds
	return s
}

func reduceAlterSettings(s WalletState, p AlterSettings) WalletState {
	settings := make(map[string]string, len(s.Settings)+len(p.Settings))
	maps.Copy(settings, s.Settings)
	maps.Copy(settings, p.Settings)
	s.Settings = settings
	return s
}

func reduceSaveIssuanceSessions(s WalletState, p SaveIssuanceSessions) WalletState {
	removed := make(map[string]struct{}, len(p.Removed))
	for _, id := range p.Removed {
		removed[id] = struct{}{}
	}

	sessions := make([]IssuanceSession, 0, len(s.IssuanceSessions)+len(p.Sessions))
	index := make(map[string]int, len(s.IssuanceSessions)+len(p.Sessions))
	for _, sess := range s.IssuanceSessions {
		if _, drop := removed[sess.SessionID]; drop {
			continue
		}
		index[sess.SessionID] = len(sessions)
		sessions = append(sessions, sess.clone())
	}
	for _, sess := range p.Sessions {
		if i, ok := index[sess.SessionID]; ok {
			sessions[i] = sess.clone()
			continue
		}
		index[sess.SessionID] = len(sessions)
		sessions = append(sessions, sess.clone())
	}
	s.IssuanceSessions = sessions
	return s
}
