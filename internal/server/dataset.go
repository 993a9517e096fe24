package server

import (
	"net/http"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/auth"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/dataset"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

func snapshotStats(snap *warehouse.Snapshot) *SnapshotStats {
	return &SnapshotStats{
		Version:  snap.Version.String(),
		Source:   snap.Source,
		LoadedAt: snap.LoadedAt,
		Rows:     snap.Counts(),
	}
}

// handleUpload replaces the current snapshot with a JSON dataset document.
// A rejected dataset leaves the previous snapshot serving.
func handleUpload(wh *warehouse.Warehouse, a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		ds, err := dataset.ReadJSON(r.Body)
		if err != nil {
			if statusFor(err) == http.StatusRequestEntityTooLarge {
				writeErr(w, r, err)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		snap, err := wh.Replace(r.Context(), ds, "upload")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		recordPublish(a, r, snap)
		writeJSON(w, http.StatusCreated, snapshotStats(snap))
	}
}
