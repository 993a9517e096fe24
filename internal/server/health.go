package server

import (
	"net/http"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status   string `json:"status"`
	Snapshot string `json:"snapshot"`
	Database string `json:"database"`
	Message  string `json:"message,omitempty"`
}

// handleHealth returns the health status as JSON.
func handleHealth(wh *warehouse.Warehouse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp := HealthResponse{
			Status:   "healthy",
			Snapshot: "none",
			Database: "disabled",
			Message:  "healthstar is running",
		}
		if snap := wh.Current(); snap != nil {
			resp.Snapshot = snap.Version.String()
		}

		if mirror := wh.Mirror(); mirror != nil {
			if err := mirror.Health(r.Context()); err != nil {
				resp.Status = "unhealthy"
				resp.Database = "disconnected"
				resp.Message = err.Error()
			} else {
				resp.Database = "connected"
			}
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
