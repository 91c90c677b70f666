package session

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// maxPresentedLen bounds presented refresh credentials before hashing.
const maxPresentedLen = 4096

func newOpaqueRefreshToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func normalizePresented(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxPresentedLen {
		return "", false
	}
	return s, true
}
