package server

import (
	"context"
	"net/http"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// CompareResponse is the body of GET /compare.
type CompareResponse struct {
	Version string `json:"version"`
	Equal   bool   `json:"equal"`
	*query.Diff
}

// handleCompare runs all four queries on two backends and reports the first
// differing row of each query.
func handleCompare(wh *warehouse.Warehouse, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		opts, err := parseOptions(r, cfg.QueryOptions)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		left, right := r.URL.Query().Get("left"), r.URL.Query().Get("right")
		if left == "" {
			left = "oltp"
		}
		if right == "" {
			right = "star"
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.QueryTimeout)
		defer cancel()

		var (
			diff *query.Diff
			snap *warehouse.Snapshot
		)
		err = wh.Pin(ctx, []string{left, right}, func(s *warehouse.Snapshot, xs []query.Executor) error {
			d, err := query.Compare(ctx, xs[0], xs[1], opts)
			diff, snap = d, s
			return err
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}
		for _, m := range diff.Mismatches {
			metrics.CompareMismatches.WithLabelValues(diff.Left, diff.Right, string(m.Query)).Inc()
		}

		writeJSON(w, http.StatusOK, CompareResponse{
			Version: snap.Version.String(),
			Equal:   diff.Equal(),
			Diff:    diff,
		})
	}
}
