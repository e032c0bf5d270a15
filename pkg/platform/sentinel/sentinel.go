package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Blob stores, the keystore and the
// remote client return these (optionally wrapped) so the wallet service can
// translate them into domain errors or retry decisions.
//
//   - ErrNotFound: no blob stored for the wallet yet
//   - ErrConflict: optimistic version check failed, someone else wrote first
//   - ErrUnavailable: backend temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
