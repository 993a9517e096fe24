package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/auth"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// Config holds server configuration.
type Config struct {
	Addr               string
	MaxConcurrentQuery int
	MaxBodyBytes       int64
	QueryTimeout       time.Duration
	QueryOptions       query.Options
	RefreshInterval    time.Duration
}

// New creates the HTTP server. A nil authProvider serves every endpoint
// without authentication.
func New(cfg Config, wh *warehouse.Warehouse, authProvider *auth.Auth, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      Handler(cfg, wh, authProvider, logger),
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

// Handler builds the routed and instrumented handler tree.
func Handler(cfg Config, wh *warehouse.Warehouse, authProvider *auth.Auth, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Backpressure for the query endpoints
	querySem := NewSemaphore(cfg.MaxConcurrentQuery)

	// protect wraps h with key validation and a scope check when auth is on.
	protect := func(scope auth.Scope, h http.Handler) http.Handler {
		if authProvider == nil {
			return h
		}
		return authProvider.Guard(scope)(h)
	}

	// Always public
	mux.HandleFunc("/health", handleHealth(wh))
	mux.Handle("/metrics", promhttp.Handler())

	// Read endpoints
	mux.Handle("/stats", protect(auth.ScopeRead, handleStats(wh, cfg.RefreshInterval)))
	mux.Handle("/query/", protect(auth.ScopeRead, querySem.Middleware(handleQuery(wh, cfg))))
	mux.Handle("/compare", protect(auth.ScopeRead, querySem.Middleware(handleCompare(wh, cfg))))
	mux.Handle("/sql", protect(auth.ScopeRead, querySem.Middleware(handleSQL(wh, cfg.QueryTimeout))))

	// Load endpoint
	mux.Handle("/v1/dataset", protect(auth.ScopeLoad, handleUpload(wh, authProvider)))

	// Admin endpoints
	mux.Handle("/admin/refresh", protect(auth.ScopeAdmin, handleRefresh(wh, authProvider)))
	if authProvider != nil {
		mux.Handle("/admin/keys", protect(auth.ScopeAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				handleListKeys(authProvider)(w, r)
			case http.MethodPost:
				handleCreateKey(authProvider)(w, r)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		})))
		mux.Handle("/admin/keys/", protect(auth.ScopeAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			handleRevokeKey(authProvider)(w, r)
		})))
	}

	// Middleware execution order (request path):
	// metrics -> requestID -> logging -> recovery -> sizeLimit -> gzip -> handler
	handler := chain(mux,
		requestIDMiddleware(logger),
		loggingMiddleware,
		recoveryMiddleware,
		sizeLimitMiddleware(cfg.MaxBodyBytes),
		gzipMiddleware,
	)
	return metrics.Middleware(handler)
}
