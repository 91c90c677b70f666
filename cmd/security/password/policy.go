package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"11111111":    {},
	"letmein123":  {},
	"stockpad":    {},
}

// Validate checks the password against the policy. Length is counted in runes.
func (c Config) Validate(password string) error {
	var reason error
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		reason = ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		reason = ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && veryWeak(password):
		reason = ErrWeakPassword
	default:
		return nil
	}
	return PolicyError{Err: reason, MinLength: c.Policy.MinLength, MaxLength: c.Policy.MaxLength}
}

func veryWeak(pw string) bool {
	s := strings.ToLower(strings.TrimSpace(pw))
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[s]; ok {
		return true
	}

	// A single repeated character.
	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	// PIN-like.
	if utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true
	}
	return false
}
