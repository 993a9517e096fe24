package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix starts every API key.
const KeyPrefix = "hstar_"

// KeyInfo is a key's metadata, never its secret. Publications and
// LastSnapshot count the snapshots published with the key.
type KeyInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Prefix       string     `json:"prefix"`
	Scopes       Scope      `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	Revoked      bool       `json:"revoked"`
	Publications int64      `json:"publications"`
	LastSnapshot string     `json:"last_snapshot,omitempty"`
}

// generateKey creates a new API key: hstar_<32 random hex chars>
func generateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

func generateID() string {
	return uuid.New().String()
}
