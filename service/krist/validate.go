package krist

import (
	"regexp"
	"strings"
)

var (
	addressRe = regexp.MustCompile(`^k[a-z0-9]{9}$`)
	nameRe    = regexp.MustCompile(`^[a-z0-9]{1,64}$`)
)

// IsValidAddress reports whether s is a well-formed kromer address. The
// welfare address is accepted even though it does not match the derived
// shape.
func IsValidAddress(s string) bool {
	return s == WelfareAddress || addressRe.MatchString(s)
}

// IsValidName reports whether s is a well-formed name (without the .kro
// suffix). Callers should normalize first.
func IsValidName(s string) bool {
	return nameRe.MatchString(s)
}

// NormalizeName lowercases and trims a client-supplied name, stripping
// an optional ".kro" suffix.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(s, "."+NameSuffix)
}
