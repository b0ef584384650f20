package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email checks that s is a bare address such as jane@example.com.
func Email(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("email is required")
	}
	if !emailPattern.MatchString(s) {
		return fmt.Errorf("invalid email address %q", s)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("invalid email address %q", s)
	}
	return nil
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
