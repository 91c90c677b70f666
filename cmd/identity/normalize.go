package identity

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether the normalized username is 3..32 chars of
// [a-z0-9_.-] starting with a letter or digit.
func ValidUsername(norm string) bool {
	return usernameRe.MatchString(norm)
}

// ValidEmail performs a syntactic address check.
func ValidEmail(s string) bool {
	if len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// ValidDisplayName bounds display names to 1..64 runes.
func ValidDisplayName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= 64
}
