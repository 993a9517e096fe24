package auth

import (
	"errors"
	"strings"
)

// Scope represents API key permissions as a bitmask.
type Scope int

const (
	ScopeLoad  Scope = 1 << iota // 1: replace the dataset
	ScopeRead                    // 2: stats, queries, comparisons
	ScopeAdmin                   // 4: refresh and key management
)

// Has checks if the scope includes the required scope.
func (s Scope) Has(required Scope) bool {
	// Admin has all permissions
	if s&ScopeAdmin != 0 {
		return true
	}
	return s&required == required
}

// String returns a human-readable scope description.
func (s Scope) String() string {
	var scopes []string
	if s&ScopeLoad != 0 {
		scopes = append(scopes, "load")
	}
	if s&ScopeRead != 0 {
		scopes = append(scopes, "read")
	}
	if s&ScopeAdmin != 0 {
		scopes = append(scopes, "admin")
	}
	if len(scopes) == 0 {
		return "none"
	}
	return strings.Join(scopes, ",")
}

// ParseScopes parses a comma-separated scope string. Unknown names are
// ignored.
func ParseScopes(s string) Scope {
	var scope Scope
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "load":
			scope |= ScopeLoad
		case "read":
			scope |= ScopeRead
		case "admin":
			scope |= ScopeAdmin
		}
	}
	return scope
}

// Errors
var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrKeyRevoked  = errors.New("key revoked")
	ErrKeyExpired  = errors.New("key expired")
	ErrKeyNotFound = errors.New("key not found")
)
