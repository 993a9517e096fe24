package server

import (
	"net/http"
	"time"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// StatsResponse is the JSON response for /stats.
type StatsResponse struct {
	Snapshot    *SnapshotStats           `json:"snapshot"`
	Mirror      *storage.Stats           `json:"mirror,omitempty"`
	LastRefresh *warehouse.RefreshResult `json:"last_refresh,omitempty"`
	Refresh     RefreshStats             `json:"refresh"`
}

// SnapshotStats describes the published snapshot.
type SnapshotStats struct {
	Version  string         `json:"version"`
	Source   string         `json:"source"`
	LoadedAt time.Time      `json:"loaded_at"`
	Rows     map[string]int `json:"rows"`
}

type RefreshStats struct {
	Enabled      bool `json:"enabled"`
	IntervalSecs int  `json:"interval_secs"`
}

func handleStats(wh *warehouse.Warehouse, refreshInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp := StatsResponse{
			LastRefresh: wh.LastRefresh(),
			Refresh: RefreshStats{
				Enabled:      refreshInterval > 0,
				IntervalSecs: int(refreshInterval.Seconds()),
			},
		}
		if snap := wh.Current(); snap != nil {
			resp.Snapshot = snapshotStats(snap)
		}

		if mirror := wh.Mirror(); mirror != nil {
			stats, err := mirror.Stats(r.Context())
			if err != nil {
				writeErr(w, r, err)
				return
			}
			resp.Mirror = stats
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
