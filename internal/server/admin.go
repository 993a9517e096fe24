package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/auth"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// handleRefresh reloads the configured source now, waiting for any
// in-flight refresh to finish first.
func handleRefresh(wh *warehouse.Warehouse, a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, err := wh.Refresh(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		recordPublish(a, r, snap)
		writeJSON(w, http.StatusOK, snapshotStats(snap))
	}
}

// recordPublish attributes snap to the calling key. A failure is logged and
// does not undo the already published snapshot.
func recordPublish(a *auth.Auth, r *http.Request, snap *warehouse.Snapshot) {
	info := auth.KeyFromContext(r.Context())
	if a == nil || info == nil {
		return
	}
	if err := a.RecordPublish(r.Context(), info.ID, snap.Version.String(), snap.Source); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to attribute snapshot to api key")
	}
}

type keyResponse struct {
	auth.KeyInfo
	Scopes string `json:"scopes"`
}

func handleListKeys(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := a.ListKeys(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}

		resp := make([]keyResponse, len(keys))
		for i, k := range keys {
			resp[i] = keyResponse{KeyInfo: k, Scopes: k.Scopes.String()}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCreateKey(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string `json:"name"`
			Scopes    string `json:"scopes"` // comma-separated: "load,read"
			ExpiresIn string `json:"expires_in,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		scopes := auth.ParseScopes(req.Scopes)
		if scopes == 0 {
			writeError(w, http.StatusBadRequest, "at least one scope required (load, read, admin)")
			return
		}

		var expiresAt *time.Time
		if req.ExpiresIn != "" {
			d, err := time.ParseDuration(req.ExpiresIn)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "expires_in must be a positive duration")
				return
			}
			t := time.Now().Add(d)
			expiresAt = &t
		}

		createdBy := ""
		if info := auth.KeyFromContext(r.Context()); info != nil {
			createdBy = info.ID
		}

		key, info, err := a.CreateKey(r.Context(), req.Name, scopes, expiresAt, createdBy)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":         info.ID,
			"name":       info.Name,
			"key":        key, // only time the full key is returned
			"scopes":     info.Scopes.String(),
			"expires_at": info.ExpiresAt,
		})
	}
}

func handleRevokeKey(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/admin/keys/")
		if id == "" || id == r.URL.Path {
			writeError(w, http.StatusBadRequest, "key id required")
			return
		}

		err := a.RevokeKey(r.Context(), id)
		if errors.Is(err, auth.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}
