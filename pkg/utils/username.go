package utils

import (
	"errors"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// ValidateUsername checks that a username is 3-32 characters of letters,
// digits, underscore or hyphen.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-32 characters: letters, digits, _ or -")
	}
	return nil
}

// NormalizeUsername lowercases and trims a username for lookups.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
