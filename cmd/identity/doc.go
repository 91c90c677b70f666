// Package identity owns stockpad accounts: registration, password
// authentication and account lookup.
//
// Passwords are hashed with Argon2id via stockpad/cmd/security/password.
// Account IDs are ULIDs. Session credentials are not handled here; see the
// session package.
package identity
