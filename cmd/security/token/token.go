package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the refresh credential HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "STOCKPAD_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the smallest key accepted when HMAC mode is required.
	MinHMACKeyBytes = 32
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher turns refresh credentials into storage digests.
//
// The zero value hashes with plain SHA-256. A Hasher built with a key uses
// HMAC-SHA256, so a leaked digest table cannot be brute-forced offline
// without the key.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from STOCKPAD_TOKEN_HMAC_KEY.
//
// When requireHMAC is true a missing or short key is an error; otherwise a
// missing key falls back to SHA-256 (local development).
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	if requireHMAC {
		key, err := HMACKeyFromEnv(MinHMACKeyBytes)
		if err != nil {
			return Hasher{}, err
		}
		return NewHasher(key), nil
	}
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	return NewHasher([]byte(raw)), nil
}

// HMAC reports whether the hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the 64-char lowercase hex digest of plain.
func (h Hasher) Hash(plain string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(plain)
	}
	return HashHMACSHA256Hex(plain, h.key)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// Rejections are *KeyError wrapping ErrHMACKeyMissing or ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, &KeyError{Env: HMACEnvKey, MinBytes: minBytes, Err: ErrHMACKeyMissing}
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, &KeyError{Env: HMACEnvKey, MinBytes: minBytes, GotBytes: len(b), Err: ErrHMACKeyTooShort}
	}
	return b, nil
}
