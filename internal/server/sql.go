package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

const sqlRowLimit = 1000

// handleSQL runs an ad hoc SELECT against the SQL mirror. Both the
// normalized and the star tables are visible.
func handleSQL(wh *warehouse.Warehouse, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		mirror := wh.Mirror()
		if mirror == nil {
			writeErr(w, r, warehouse.ErrNoMirror)
			return
		}

		stmt := strings.TrimSpace(r.FormValue("sql"))
		if stmt == "" {
			writeError(w, http.StatusBadRequest, "missing sql parameter")
			return
		}
		upper := strings.ToUpper(stmt)
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			writeError(w, http.StatusBadRequest, "only SELECT queries allowed")
			return
		}
		if strings.Contains(stmt, ";") {
			writeError(w, http.StatusBadRequest, "multi-statement queries not allowed")
			return
		}
		if !strings.Contains(upper, "LIMIT") {
			stmt = fmt.Sprintf("%s LIMIT %d", stmt, sqlRowLimit)
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		logger := zerolog.Ctx(r.Context())

		rows, err := mirror.DB().QueryContext(ctx, stmt)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				writeErr(w, r, err)
				return
			}
			logger.Debug().Err(err).Msg("sql rejected")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			writeErr(w, r, err)
			return
		}
		results := []map[string]any{}

		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				logger.Error().Err(err).Msg("scan error")
				writeError(w, http.StatusInternalServerError, "failed to scan row")
				return
			}

			row := make(map[string]any, len(cols))
			for i, col := range cols {
				row[col] = vals[i]
			}
			results = append(results, row)
		}

		if err := rows.Err(); err != nil {
			logger.Error().Err(err).Msg("rows error")
			writeError(w, http.StatusInternalServerError, "error reading results")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"columns": cols,
			"rows":    results,
			"count":   len(results),
		})
	}
}
