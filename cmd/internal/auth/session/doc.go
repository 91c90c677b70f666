// Package session implements stockpad's session credential lifecycle.
//
// Each account holds exactly one refresh record. Login and registration
// overwrite it; every refresh rotates it through a compare-and-swap guarded
// by a version stamp; logout clears it.
//
// Access credentials are HS256 JWTs and are short-lived. Refresh credentials
// are opaque random strings and are stored only as digests (see
// stockpad/cmd/security/token).
//
// A consumed refresh credential stays recognizable for one rotation so that a
// duplicate presented within the replay window is reported as
// ErrUsedTooFrequently rather than ErrInvalidCredential.
//
// Transport (HTTP/WS) integration lives in the auth api package.
package session
