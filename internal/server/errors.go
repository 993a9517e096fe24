package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		se       *storage.StorageError
	)
	switch {
	case errors.Is(err, oltp.ErrReferentialIntegrity),
		errors.Is(err, oltp.ErrDuplicateKey),
		errors.Is(err, oltp.ErrInvalidRecord),
		errors.Is(err, query.ErrDivideByZero):
		return http.StatusUnprocessableEntity
	case errors.Is(err, star.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, warehouse.ErrUnknownBackend),
		errors.Is(err, warehouse.ErrNoMirror),
		errors.Is(err, query.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, warehouse.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, warehouse.ErrNoSource),
		errors.Is(err, warehouse.ErrSnapshotChanged):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &se) && se.Type == storage.ErrorTypeInfrastructure:
		return http.StatusServiceUnavailable
	case errors.As(err, &se) && se.Type == storage.ErrorTypeInvalidData:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeErr logs err and writes it with the mapped status.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, err.Error())
}
