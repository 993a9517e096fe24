package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
)

func newAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "auth.db"), "pepper", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestScopes(t *testing.T) {
	s := ParseScopes("read, load,bogus")
	assert.True(t, s.Has(ScopeRead))
	assert.True(t, s.Has(ScopeLoad))
	assert.False(t, s.Has(ScopeAdmin))
	assert.Equal(t, "load,read", s.String())

	admin := ParseScopes("admin")
	assert.True(t, admin.Has(ScopeRead|ScopeLoad))
	assert.Equal(t, "none", Scope(0).String())
}

func TestCreateAndAuthenticate(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()

	key, info, err := a.CreateKey(ctx, "analyst", ScopeRead, nil, "test")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, KeyPrefix))
	assert.Len(t, key, len(KeyPrefix)+32)
	assert.Equal(t, key[:len(KeyPrefix)+6], info.Prefix)

	got, err := a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, info.Prefix, got.Prefix)
	assert.Equal(t, ScopeRead, got.Scopes)

	_, err = a.Authenticate(ctx, KeyPrefix+"00000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = a.Authenticate(ctx, "no-prefix")
	assert.ErrorIs(t, err, ErrInvalidKey)

	// Use is recorded asynchronously.
	assert.Eventually(t, func() bool {
		keys, err := a.ListKeys(ctx)
		return err == nil && len(keys) == 1 && keys[0].LastUsedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRevokeKey(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()

	key, info, err := a.CreateKey(ctx, "temp", ScopeRead, nil, "test")
	require.NoError(t, err)
	require.NoError(t, a.RevokeKey(ctx, info.ID))

	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.ErrorIs(t, a.RevokeKey(ctx, info.ID), ErrKeyNotFound)
	assert.ErrorIs(t, a.RevokeKey(ctx, "missing"), ErrKeyNotFound)

	keys, err := a.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Revoked)
}

func TestExpiredKey(t *testing.T) {
	a := newAuth(t)
	past := time.Now().Add(-time.Hour)
	key, info, err := a.CreateKey(context.Background(), "old", ScopeRead, &past, "test")
	require.NoError(t, err)
	require.NotNil(t, info.ExpiresAt)

	_, err = a.Authenticate(context.Background(), key)
	assert.ErrorIs(t, err, ErrKeyExpired)

	future := time.Now().Add(time.Hour)
	key, _, err = a.CreateKey(context.Background(), "fresh", ScopeRead, &future, "test")
	require.NoError(t, err)
	got, err := a.Authenticate(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, future, *got.ExpiresAt, time.Second)
}

func TestBootstrap(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()

	assert.Error(t, a.Bootstrap(ctx, "short"))
	require.NoError(t, a.Bootstrap(ctx, ""))

	boot := KeyPrefix + "bootstrap-secret-value"
	require.NoError(t, a.Bootstrap(ctx, boot))
	info, err := a.Authenticate(ctx, boot)
	require.NoError(t, err)
	assert.True(t, info.Scopes.Has(ScopeAdmin))

	// A second bootstrap is a no-op once keys exist.
	require.NoError(t, a.Bootstrap(ctx, KeyPrefix+"another-bootstrap-value"))
	keys, err := a.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRecordPublish(t *testing.T) {
	a := newAuth(t)
	ctx := context.Background()

	_, loader, err := a.CreateKey(ctx, "nightly-load", ScopeLoad, nil, "test")
	require.NoError(t, err)
	_, reader, err := a.CreateKey(ctx, "dashboard", ScopeRead, nil, "test")
	require.NoError(t, err)

	require.NoError(t, a.RecordPublish(ctx, loader.ID, "v1", "upload"))
	require.NoError(t, a.RecordPublish(ctx, loader.ID, "v2", "upload"))

	keys, err := a.ListKeys(ctx)
	require.NoError(t, err)
	byID := make(map[string]KeyInfo, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	assert.EqualValues(t, 2, byID[loader.ID].Publications)
	assert.Equal(t, "v2", byID[loader.ID].LastSnapshot)
	assert.Zero(t, byID[reader.ID].Publications)
	assert.Empty(t, byID[reader.ID].LastSnapshot)
}

func TestGuard(t *testing.T) {
	a := newAuth(t)
	readKey, readInfo, err := a.CreateKey(context.Background(), "reader", ScopeRead, nil, "test")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := KeyFromContext(r.Context())
		if assert.NotNil(t, info) {
			assert.Equal(t, readInfo.ID, info.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	admin := a.Guard(ScopeAdmin)(ok)
	read := a.Guard(ScopeRead)(ok)

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		value   string
		want    int
		reason  string
	}{
		{"missing key", admin, "", "", http.StatusUnauthorized, "missing"},
		{"wrong format", admin, "X-API-Key", "secret", http.StatusUnauthorized, "invalid"},
		{"unknown key", admin, "X-API-Key", KeyPrefix + "nope", http.StatusUnauthorized, "invalid"},
		{"insufficient scope", admin, "Authorization", "Bearer " + readKey, http.StatusForbidden, "scope"},
		{"allowed", read, "Authorization", "Bearer " + readKey, http.StatusNoContent, ""},
		{"allowed via header", read, "X-API-Key", readKey, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before float64
			if tt.reason != "" {
				before = testutil.ToFloat64(metrics.AuthFailures.WithLabelValues(tt.reason))
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)

			if tt.reason != "" {
				assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuthFailures.WithLabelValues(tt.reason)))
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
