// Package server validates usernames claimed during the handshake.
package server

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]+$`)

// UsernameValidator checks handshake usernames against the relay's format
// rules. Uniqueness is enforced separately by the Group a session joins.
type UsernameValidator struct {
	maxLength int
}

// NewUsernameValidator creates a validator with the given length cap.
// A non-positive cap falls back to 20.
func NewUsernameValidator(maxLength int) *UsernameValidator {
	if maxLength <= 0 {
		maxLength = 20
	}
	return &UsernameValidator{maxLength: maxLength}
}

// Validate trims raw and checks it against the format rules, in order:
// non-empty, length cap, then allowed character set. The returned string is
// the trimmed username; the returned error text is sent to the client as-is.
func (v *UsernameValidator) Validate(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errors.New("username cannot be empty")
	}
	if len(name) > v.maxLength {
		return "", fmt.Errorf("username too long, max %d characters", v.maxLength)
	}
	if !usernamePattern.MatchString(name) {
		return "", errors.New("username contains invalid characters")
	}
	return name, nil
}
