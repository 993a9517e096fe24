// Package auth guards the warehouse API with scoped keys. Keys live in a
// small SQLite database as peppered hashes; each key also remembers the
// snapshots it published so an operator can trace a dataset back to the
// client that loaded it.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// touchInterval throttles last_used_at writes for busy read keys.
const touchInterval = time.Minute

// Auth manages API keys and their publication history.
type Auth struct {
	db     *sql.DB
	pepper string
	log    zerolog.Logger

	mu      sync.Mutex
	touched map[string]time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	key_prefix   TEXT NOT NULL,
	scopes       INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER,
	revoked_at   INTEGER,
	last_used_at INTEGER,
	created_by   TEXT
);
CREATE TABLE IF NOT EXISTS key_publications (
	key_id           TEXT NOT NULL REFERENCES api_keys(id),
	snapshot_version TEXT NOT NULL,
	source           TEXT NOT NULL,
	published_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_publications_key ON key_publications(key_id, published_at);
`

// New opens (or creates) the key database at dbPath.
func New(dbPath, pepper string, logger zerolog.Logger) (*Auth, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping auth db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init auth schema: %w", err)
	}

	return &Auth{
		db:      db,
		pepper:  pepper,
		log:     logger.With().Str("component", "auth").Logger(),
		touched: make(map[string]time.Time),
	}, nil
}

// Close closes the auth database.
func (a *Auth) Close() error {
	return a.db.Close()
}

// hashKey computes SHA-256(key + pepper).
func (a *Auth) hashKey(key string) string {
	h := sha256.Sum256([]byte(key + a.pepper))
	return hex.EncodeToString(h[:])
}

// Bootstrap installs bootstrapKey as an admin key when the database holds
// no keys yet. An empty bootstrapKey is a no-op.
func (a *Auth) Bootstrap(ctx context.Context, bootstrapKey string) error {
	if bootstrapKey == "" {
		return nil
	}
	if !strings.HasPrefix(bootstrapKey, KeyPrefix) || len(bootstrapKey) < len(KeyPrefix)+16 {
		return fmt.Errorf("bootstrap key must start with %q and carry at least 16 more characters", KeyPrefix)
	}

	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if _, err := a.insertKey(ctx, "bootstrap-admin", ScopeAdmin, nil, bootstrapKey, "system"); err != nil {
		return err
	}
	a.log.Warn().Msg("bootstrap admin key created; unset HEALTHSTAR_BOOTSTRAP_KEY")
	return nil
}

// Authenticate resolves a presented key to its metadata. Malformed, unknown,
// revoked and expired keys all fail with the matching sentinel error.
func (a *Auth) Authenticate(ctx context.Context, key string) (*KeyInfo, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return nil, ErrInvalidKey
	}

	var (
		info               KeyInfo
		expiresAt, revoked sql.NullInt64
	)
	err := a.db.QueryRowContext(ctx,
		"SELECT id, name, key_prefix, scopes, expires_at, revoked_at FROM api_keys WHERE key_hash = ?",
		a.hashKey(key),
	).Scan(&info.ID, &info.Name, &info.Prefix, &info.Scopes, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}

	if revoked.Valid {
		return nil, ErrKeyRevoked
	}
	if expiresAt.Valid {
		info.ExpiresAt = unixPtr(expiresAt)
		if time.Now().After(*info.ExpiresAt) {
			return nil, ErrKeyExpired
		}
	}

	a.touch(info.ID)
	return &info, nil
}

// touch records key use at most once per touchInterval, off the request path.
func (a *Auth) touch(id string) {
	now := time.Now()
	a.mu.Lock()
	if last, ok := a.touched[id]; ok && now.Sub(last) < touchInterval {
		a.mu.Unlock()
		return
	}
	a.touched[id] = now
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := a.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", now.Unix(), id); err != nil {
			a.log.Debug().Err(err).Str("key_id", id).Msg("failed to touch api key")
		}
	}()
}

// CreateKey issues a new random key. The plaintext key is returned once and
// never stored.
func (a *Auth) CreateKey(ctx context.Context, name string, scopes Scope, expiresAt *time.Time, createdBy string) (string, *KeyInfo, error) {
	key, err := generateKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	info, err := a.insertKey(ctx, name, scopes, expiresAt, key, createdBy)
	if err != nil {
		return "", nil, err
	}
	return key, info, nil
}

func (a *Auth) insertKey(ctx context.Context, name string, scopes Scope, expiresAt *time.Time, key, createdBy string) (*KeyInfo, error) {
	info := &KeyInfo{
		ID:        generateID(),
		Name:      name,
		Prefix:    key[:len(KeyPrefix)+6],
		Scopes:    scopes,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	var expires sql.NullInt64
	if expiresAt != nil {
		t := expiresAt.UTC().Truncate(time.Second)
		info.ExpiresAt = &t
		expires = sql.NullInt64{Int64: t.Unix(), Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, expires_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, name, a.hashKey(key), info.Prefix, scopes, info.CreatedAt.Unix(), expires, createdBy)
	if err != nil {
		return nil, err
	}
	a.log.Info().Str("key_id", info.ID).Str("name", name).Stringer("scopes", scopes).Msg("api key created")
	return info, nil
}

// RevokeKey revokes an active key. Unknown and already revoked keys return
// ErrKeyNotFound.
func (a *Auth) RevokeKey(ctx context.Context, keyID string) error {
	res, err := a.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().Unix(), keyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	a.log.Info().Str("key_id", keyID).Msg("api key revoked")
	return nil
}

// RecordPublish attributes a published snapshot to the key that loaded or
// refreshed it.
func (a *Auth) RecordPublish(ctx context.Context, keyID, version, source string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO key_publications (key_id, snapshot_version, source, published_at) VALUES (?, ?, ?, ?)",
		keyID, version, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record publication of %s: %w", version, err)
	}
	a.log.Info().
		Str("key_id", keyID).
		Str("snapshot_version", version).
		Str("source", source).
		Msg("snapshot published with api key")
	return nil
}

// ListKeys returns every key, newest first, with its publication summary.
func (a *Auth) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT k.id, k.name, k.key_prefix, k.scopes, k.created_at, k.expires_at,
		       k.revoked_at, k.last_used_at,
		       (SELECT COUNT(*) FROM key_publications p WHERE p.key_id = k.id),
		       (SELECT p.snapshot_version FROM key_publications p WHERE p.key_id = k.id
		        ORDER BY p.published_at DESC, p.rowid DESC LIMIT 1)
		FROM api_keys k
		ORDER BY k.created_at DESC, k.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []KeyInfo{}
	for rows.Next() {
		var (
			k                            KeyInfo
			createdAt                    int64
			expiresAt, revoked, lastUsed sql.NullInt64
			lastSnapshot                 sql.NullString
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.Scopes, &createdAt, &expiresAt,
			&revoked, &lastUsed, &k.Publications, &lastSnapshot); err != nil {
			return nil, err
		}
		k.CreatedAt = time.Unix(createdAt, 0).UTC()
		k.ExpiresAt = unixPtr(expiresAt)
		k.LastUsedAt = unixPtr(lastUsed)
		k.Revoked = revoked.Valid
		k.LastSnapshot = lastSnapshot.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
