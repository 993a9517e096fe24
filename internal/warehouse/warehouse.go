// Package warehouse publishes immutable snapshots of both stores. A snapshot
// is built completely off to the side and then swapped in with one atomic
// pointer store, so readers only ever see a whole pre- or post-refresh
// version.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/dataset"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/metrics"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
)

var (
	ErrNoSnapshot     = errors.New("warehouse: no snapshot loaded")
	ErrNoSource       = errors.New("warehouse: no source configured")
	ErrNoMirror       = errors.New("warehouse: sql mirror disabled")
	ErrUnknownBackend = errors.New("warehouse: unknown backend")

	// ErrSnapshotChanged means refreshes kept moving the mirror away from
	// the published snapshot while a pinned read ran.
	ErrSnapshotChanged = errors.New("warehouse: snapshot changed during read")
)

// pinAttempts bounds the retries of Pin while refreshes race it.
const pinAttempts = 5

// Backends lists the executor names accepted by Executor.
var Backends = []string{"oltp", "star", "sql-oltp", "sql-star"}

// Snapshot is one published version of the data. Nothing in it is mutated
// after publication.
type Snapshot struct {
	Version  uuid.UUID
	LoadedAt time.Time
	Source   string
	Entities *oltp.Store
	Star     *star.Store
}

// Counts returns row counts of every normalized and dimensional table.
func (s *Snapshot) Counts() map[string]int {
	ds := s.Entities.Dataset()
	counts := ds.Counts()
	maps.Copy(counts, s.Star.Counts())
	return counts
}

// RefreshResult describes the most recent refresh attempt.
type RefreshResult struct {
	Version   string         `json:"version,omitempty"`
	Source    string         `json:"source"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Rows      map[string]int `json:"rows,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Options configures a Warehouse.
type Options struct {
	// Source feeds Refresh. Optional when snapshots only arrive via Replace.
	Source dataset.Source
	// Mirror receives every published snapshot. Nil disables the SQL backends.
	Mirror *storage.Storage
	// Verify runs star.Verify on every materialization.
	Verify bool
	Logger zerolog.Logger
}

// Warehouse owns the current snapshot.
type Warehouse struct {
	source dataset.Source
	mirror *storage.Storage
	verify bool
	log    zerolog.Logger

	current     atomic.Pointer[Snapshot]
	lastRefresh atomic.Pointer[RefreshResult]

	// refreshRunning admits one build at a time.
	refreshRunning chan struct{}
}

func New(opts Options) *Warehouse {
	return &Warehouse{
		source:         opts.Source,
		mirror:         opts.Mirror,
		verify:         opts.Verify,
		log:            opts.Logger,
		refreshRunning: make(chan struct{}, 1),
	}
}

// Current returns the published snapshot, or nil before the first load.
func (w *Warehouse) Current() *Snapshot {
	return w.current.Load()
}

// LastRefresh returns the outcome of the latest build, or nil.
func (w *Warehouse) LastRefresh() *RefreshResult {
	return w.lastRefresh.Load()
}

// Mirror returns the SQL mirror, or nil when disabled.
func (w *Warehouse) Mirror() *storage.Storage {
	return w.mirror
}

// Refresh loads the configured source and publishes it.
func (w *Warehouse) Refresh(ctx context.Context) (*Snapshot, error) {
	if w.source == nil {
		return nil, ErrNoSource
	}
	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	return w.refresh(ctx)
}

func (w *Warehouse) refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	ds, err := w.source.Load(ctx)
	if err != nil {
		err = fmt.Errorf("load %s: %w", w.source, err)
		w.record(start, w.source.String(), nil, nil, err)
		return nil, err
	}
	return w.publish(ctx, start, ds, w.source.String())
}

// Replace publishes ds, for example an uploaded dataset. On any error the
// current snapshot stays in place.
func (w *Warehouse) Replace(ctx context.Context, ds oltp.Dataset, source string) (*Snapshot, error) {
	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	return w.publish(ctx, time.Now(), ds, source)
}

func (w *Warehouse) acquire(ctx context.Context) error {
	select {
	case w.refreshRunning <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Warehouse) release() { <-w.refreshRunning }

// publish builds both stores from ds, loads the mirror and swaps the
// pointer. Must hold refreshRunning.
func (w *Warehouse) publish(ctx context.Context, start time.Time, ds oltp.Dataset, source string) (*Snapshot, error) {
	snap, err := w.build(ctx, ds, source)
	if err != nil {
		w.record(start, source, nil, nil, err)
		return nil, err
	}
	w.current.Store(snap)

	counts := snap.Counts()
	metrics.SetSnapshotRows(counts)
	w.record(start, source, snap, counts, nil)
	return snap, nil
}

func (w *Warehouse) build(ctx context.Context, ds oltp.Dataset, source string) (*Snapshot, error) {
	entities, err := oltp.Load(ds)
	if err != nil {
		return nil, err
	}
	st, err := star.Materialize(entities)
	if err != nil {
		return nil, err
	}
	if w.verify {
		if err := star.Verify(entities, st); err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		Version:  uuid.New(),
		LoadedAt: time.Now().UTC(),
		Source:   source,
		Entities: entities,
		Star:     st,
	}
	if w.mirror != nil {
		if _, err := w.mirror.LoadSnapshot(ctx, snap.Version.String(), entities, st); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (w *Warehouse) record(start time.Time, source string, snap *Snapshot, counts map[string]int, err error) {
	metrics.ObserveRefresh(start, err)

	res := &RefreshResult{Source: source, StartedAt: start.UTC(), Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		w.log.Error().Err(err).Str("source", source).Msg("snapshot refresh failed")
	} else {
		res.Version = snap.Version.String()
		res.Rows = counts
		w.log.Info().
			Str("version", res.Version).
			Str("source", source).
			Int("encounters", res.Rows["encounters"]).
			Dur("duration", res.Duration.Round(time.Millisecond)).
			Msg("snapshot published")
	}
	w.lastRefresh.Store(res)
}

// Executor returns the named backend bound to the current snapshot. SQL
// backends answer from whatever snapshot the mirror last committed; use Pin
// when several backends must see the same version.
func (w *Warehouse) Executor(backend string) (query.Executor, *Snapshot, error) {
	snap := w.Current()
	if snap == nil {
		return nil, nil, ErrNoSnapshot
	}
	x, err := w.executorFor(snap, backend)
	if err != nil {
		return nil, nil, err
	}
	return x, snap, nil
}

func (w *Warehouse) executorFor(snap *Snapshot, backend string) (query.Executor, error) {
	switch backend {
	case "oltp", "":
		return query.NewEntityExecutor(snap.Entities), nil
	case "star":
		return query.NewStarExecutor(snap.Star), nil
	case "sql-oltp", "sql-star":
		if w.mirror == nil {
			return nil, ErrNoMirror
		}
		if backend == "sql-oltp" {
			return w.mirror.OLTPExecutor(), nil
		}
		return w.mirror.StarExecutor(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBackend, backend)
}

// Pin runs fn with one executor per backend, all answering from the same
// snapshot. The mirror is committed before the pointer swap, so when a SQL
// backend is involved the mirror version is checked on both sides of fn and
// the run is retried if a refresh landed in between. Results of a retried
// run are discarded, so fn must not have side effects beyond its return.
func (w *Warehouse) Pin(ctx context.Context, backends []string, fn func(snap *Snapshot, xs []query.Executor) error) error {
	for attempt := range pinAttempts {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		snap := w.Current()
		if snap == nil {
			return ErrNoSnapshot
		}
		xs := make([]query.Executor, len(backends))
		usesMirror := false
		for i, b := range backends {
			x, err := w.executorFor(snap, b)
			if err != nil {
				return err
			}
			xs[i] = x
			usesMirror = usesMirror || strings.HasPrefix(b, "sql-")
		}
		if !usesMirror {
			return fn(snap, xs)
		}

		ok, err := w.mirrorAt(ctx, snap)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(snap, xs); err != nil {
			return err
		}
		if ok, err = w.mirrorAt(ctx, snap); err != nil || ok {
			return err
		}
		w.log.Debug().Str("version", snap.Version.String()).Int("attempt", attempt+1).
			Msg("mirror moved during pinned read, retrying")
	}
	return ErrSnapshotChanged
}

// mirrorAt reports whether the mirror currently holds snap.
func (w *Warehouse) mirrorAt(ctx context.Context, snap *Snapshot) (bool, error) {
	version, _, err := w.mirror.Version(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return version == snap.Version.String(), nil
}
