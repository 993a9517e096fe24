package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
)

type keyInfoKey struct{}

// KeyFromContext returns the key that authenticated the request, or nil.
func KeyFromContext(ctx context.Context) *KeyInfo {
	if v, ok := ctx.Value(keyInfoKey{}).(*KeyInfo); ok {
		return v
	}
	return nil
}

// WithKey returns ctx carrying info.
func WithKey(ctx context.Context, info *KeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoKey{}, info)
}

// rejection is how a failed check is reported to the client and counted.
type rejection struct {
	reason string
	status int
}

func rejectionFor(err error) rejection {
	switch {
	case errors.Is(err, errMissingKey):
		return rejection{"missing", http.StatusUnauthorized}
	case errors.Is(err, ErrKeyRevoked):
		return rejection{"revoked", http.StatusUnauthorized}
	case errors.Is(err, ErrKeyExpired):
		return rejection{"expired", http.StatusUnauthorized}
	case errors.Is(err, errScope):
		return rejection{"scope", http.StatusForbidden}
	case errors.Is(err, ErrInvalidKey):
		return rejection{"invalid", http.StatusUnauthorized}
	}
	return rejection{"error", http.StatusInternalServerError}
}

var (
	errMissingKey = errors.New("missing authorization")
	errScope      = errors.New("insufficient permissions")
)

// Guard returns middleware admitting requests whose key carries scope. The
// key is attached to the request context and its name and id to the
// request logger, so every later log line of the request names the caller.
func (a *Auth) Guard(scope Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := a.check(r, scope)
			if err != nil {
				rej := rejectionFor(err)
				metrics.AuthFailures.WithLabelValues(rej.reason).Inc()
				zerolog.Ctx(r.Context()).Warn().Err(err).
					Str("reason", rej.reason).
					Stringer("required_scope", scope).
					Msg("request rejected")
				msg := err.Error()
				if rej.status == http.StatusInternalServerError {
					msg = "authentication unavailable"
				}
				authError(w, msg, rej.status)
				return
			}

			logger := zerolog.Ctx(r.Context()).With().
				Str("key_id", info.ID).
				Str("key_name", info.Name).
				Logger()
			ctx := logger.WithContext(WithKey(r.Context(), info))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Auth) check(r *http.Request, scope Scope) (*KeyInfo, error) {
	key := extractKey(r)
	if key == "" {
		return nil, errMissingKey
	}
	info, err := a.Authenticate(r.Context(), key)
	if err != nil {
		return nil, err
	}
	if !info.Scopes.Has(scope) {
		return nil, errScope
	}
	return info, nil
}

// extractKey reads "Authorization: Bearer <key>", falling back to X-API-Key.
func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func authError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
