// Package token provides refresh credential hashing for stockpad.
//
// Digests are deterministic and one-way: the same credential always maps to
// the same 64-char hex string, so the digest can be used as a lookup key, and
// the credential cannot be recovered from it.
//
// Modes:
//   - HMAC-SHA256(credential, key) when STOCKPAD_TOKEN_HMAC_KEY is set.
//   - SHA-256(credential) otherwise. Production deployments set
//     STOCKPAD_REQUIRE_TOKEN_HMAC=true, which refuses this mode at startup.
package token
