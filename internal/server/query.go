package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

const protobufContentType = "application/x-protobuf"

var errBadParam = errors.New("invalid query parameter")

// QueryResponse is the JSON body of GET /query/{name}.
type QueryResponse struct {
	Query   query.Name `json:"query"`
	Backend string     `json:"backend"`
	Version string     `json:"version"`
	Rows    any        `json:"rows"`
}

func handleQuery(wh *warehouse.Warehouse, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		name, err := query.ParseName(strings.TrimPrefix(r.URL.Path, "/query/"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		opts, err := parseOptions(r, cfg.QueryOptions)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		backend := r.URL.Query().Get("backend")
		x, snap, err := wh.Executor(backend)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.QueryTimeout)
		defer cancel()

		version, err := snapshotVersion(ctx, wh, backend, snap)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		start := time.Now()
		rows, err := query.Run(ctx, x, name, opts)
		metrics.ObserveQuery(x.Name(), string(name), start, err)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		w.Header().Set("X-Snapshot-Version", version)
		if wantsProtobuf(r) {
			if err := writeProtobuf(w, rows); err != nil {
				writeErr(w, r, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, QueryResponse{
			Query:   name,
			Backend: x.Name(),
			Version: version,
			Rows:    rows,
		})
	}
}

// snapshotVersion reports the version a backend answers from. The SQL
// backends read whatever the mirror last committed.
func snapshotVersion(ctx context.Context, wh *warehouse.Warehouse, backend string, snap *warehouse.Snapshot) (string, error) {
	if !strings.HasPrefix(backend, "sql-") {
		return snap.Version.String(), nil
	}
	version, _, err := wh.Mirror().Version(ctx)
	return version, err
}

// parseOptions overrides defaults with any query-string parameters.
func parseOptions(r *http.Request, defaults query.Options) (query.Options, error) {
	q := r.URL.Query()
	opts := defaults

	if v := q.Get("min_encounters"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("%w: min_encounters must be a positive integer", errBadParam)
		}
		opts.Pairs.MinEncounters = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("%w: limit must be a positive integer", errBadParam)
		}
		opts.Pairs.Limit = n
	}
	if v := q.Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > query.MaxWindowDays {
			return opts, fmt.Errorf("%w: window_days must be an integer between 1 and %d", errBadParam, query.MaxWindowDays)
		}
		opts.Readmission.WindowDays = n
	}
	if v := q.Get("zero_discharges"); v != "" {
		p := query.ZeroDischargePolicy(v)
		if !p.Valid() {
			return opts, fmt.Errorf("%w: zero_discharges must be omit, zero, null or error", errBadParam)
		}
		opts.Readmission.ZeroDischarges = p
	}
	return opts, nil
}

func wantsProtobuf(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), protobufContentType)
}

// writeProtobuf encodes rows as a google.protobuf.ListValue of Structs with
// the same field names as the JSON body.
func writeProtobuf(w http.ResponseWriter, rows any) error {
	list, err := toListValue(rows)
	if err != nil {
		return err
	}
	b, err := proto.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal protobuf: %w", err)
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(b)
	return err
}

func toListValue(rows any) (*structpb.ListValue, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []any{}
	}
	return structpb.NewList(items)
}
