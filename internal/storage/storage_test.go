package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/dataset"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/testutil"
)

func newStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T, ds oltp.Dataset) (*oltp.Store, *star.Store) {
	t.Helper()
	entities, err := oltp.Load(ds)
	require.NoError(t, err)
	st, err := star.Materialize(entities)
	require.NoError(t, err)
	return entities, st
}

func load(t *testing.T, s *storage.Storage, version string, ds oltp.Dataset) (*oltp.Store, *star.Store) {
	t.Helper()
	entities, st := stores(t, ds)
	_, err := s.LoadSnapshot(context.Background(), version, entities, st)
	require.NoError(t, err)
	return entities, st
}

func TestNew_Health(t *testing.T) {
	s := newStorage(t)
	assert.NoError(t, s.Health(context.Background()))
}

func TestVersion_NoSnapshot(t *testing.T) {
	s := newStorage(t)
	_, _, err := s.Version(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoSnapshot)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.Version)
	assert.Nil(t, stats.LastLoad)
	assert.Zero(t, stats.Rows["fact_encounters"])
}

func TestLoadSnapshot_RowCounts(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	entities, st := stores(t, testutil.Fixture(t))
	result, err := s.LoadSnapshot(ctx, "v1", entities, st)
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Version)
	assert.EqualValues(t, 8, result.Rows["fact_encounters"])

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", stats.Version)
	require.NotNil(t, stats.LoadedAt)
	assert.Equal(t, result, stats.LastLoad)

	for table, n := range st.Counts() {
		assert.EqualValues(t, n, stats.Rows[table], table)
	}
	assert.EqualValues(t, 3, stats.Rows["specialties"])
	assert.EqualValues(t, 1, stats.Rows["provider_specialty_history"])
	assert.EqualValues(t, 8, stats.Rows["encounters"])
	assert.EqualValues(t, 6, stats.Rows["billing"])
	assert.Equal(t, result.Total(), sum(stats.Rows))
}

func sum(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func TestLoadSnapshot_ReplacesPrevious(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	load(t, s, "first", testutil.Fixture(t))

	opts := dataset.DefaultGenerateOptions()
	opts.Encounters = 300
	ds, err := dataset.Generate(opts)
	require.NoError(t, err)
	entities, _ := load(t, s, "second", ds)

	version, _, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", version)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(entities.Encounters()), stats.Rows["encounters"])
	assert.EqualValues(t, len(entities.Encounters()), stats.Rows["fact_encounters"])
}

func TestLoadSnapshot_RequiresBothStores(t *testing.T) {
	s := newStorage(t)
	entities, _ := stores(t, testutil.Fixture(t))

	_, err := s.LoadSnapshot(context.Background(), "v", entities, nil)
	var se *storage.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, storage.ErrorTypeInvalidData, se.Type)
}

func TestSQLExecutors_Fixture(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	entities, st := load(t, s, "fixture", testutil.Fixture(t))

	want, err := query.RunAll(ctx, query.NewEntityExecutor(entities), query.DefaultOptions())
	require.NoError(t, err)

	for _, x := range []query.Executor{s.OLTPExecutor(), s.StarExecutor()} {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := query.RunAll(ctx, x, query.DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, want.MonthlyEncounters, got.MonthlyEncounters)
			assert.Equal(t, want.DiagnosisPairs, got.DiagnosisPairs)
			assert.Equal(t, want.Readmissions, got.Readmissions)
			assert.Equal(t, want.Revenue, got.Revenue)
		})
	}

	rev, err := s.StarExecutor().RevenueBySpecialtyMonth(ctx)
	require.NoError(t, err)
	require.Len(t, rev, 3)
	assert.Equal(t, oltp.Money(33889), rev[0].AvgAllowed)

	// The star executor in memory agrees as well.
	diff, err := query.Compare(ctx, query.NewStarExecutor(st), s.StarExecutor(), query.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, diff.Equal(), "%+v", diff.Mismatches)
}

func TestSQLExecutors_ZeroDischargePolicies(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	load(t, s, "fixture", testutil.Fixture(t))

	for _, x := range []query.Executor{s.OLTPExecutor(), s.StarExecutor()} {
		rows, err := x.ReadmissionRates(ctx, query.ReadmissionOptions{ZeroDischarges: query.ZeroDischargeZero})
		require.NoError(t, err, x.Name())
		require.Len(t, rows, 3, x.Name())
		assert.Equal(t, "Pediatrics", rows[2].Specialty)
		require.NotNil(t, rows[2].Rate)
		assert.Zero(t, *rows[2].Rate)

		_, err = x.ReadmissionRates(ctx, query.ReadmissionOptions{ZeroDischarges: query.ZeroDischargeError})
		assert.ErrorIs(t, err, query.ErrDivideByZero, x.Name())
	}
}

func TestSQLExecutors_WindowBounds(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	entities, _ := load(t, s, "fixture", testutil.Fixture(t))

	opts := query.ReadmissionOptions{WindowDays: query.MaxWindowDays}
	want, err := query.NewEntityExecutor(entities).ReadmissionRates(ctx, opts)
	require.NoError(t, err)
	require.NotEmpty(t, want)

	for _, x := range []query.Executor{s.OLTPExecutor(), s.StarExecutor()} {
		got, err := x.ReadmissionRates(ctx, opts)
		require.NoError(t, err, x.Name())
		assert.Equal(t, want, got, x.Name())

		_, err = x.ReadmissionRates(ctx, query.ReadmissionOptions{WindowDays: query.MaxWindowDays + 1})
		assert.ErrorIs(t, err, query.ErrInvalidOptions, x.Name())
	}
}

func TestSQLExecutors_SplitMonthRevenue(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	ds := oltp.Dataset{
		Specialties: []oltp.Specialty{{ID: 1, Name: "Cardiology"}},
		Providers:   []oltp.Provider{{ID: 1, SpecialtyID: 1}},
		Patients:    []oltp.Patient{{ID: 1}},
		Encounters: []oltp.Encounter{
			{ID: 1, PatientID: 1, ProviderID: 1, Type: "Outpatient", Date: testutil.Day(30)},
		},
		Billing: []oltp.Billing{
			{ID: 1, EncounterID: 1, ClaimDate: testutil.Day(31), ClaimAmount: 100000, AllowedAmount: 80000},
			{ID: 2, EncounterID: 1, ClaimDate: testutil.Day(33), ClaimAmount: 20000, AllowedAmount: 15000},
		},
	}
	load(t, s, "split", ds)

	want := []query.RevenueRow{
		{YearMonth: "2024-01", Specialty: "Cardiology", ClaimCount: 2, TotalClaimed: 120000, TotalAllowed: 95000, AvgAllowed: 47500},
	}
	for _, x := range []query.Executor{s.OLTPExecutor(), s.StarExecutor()} {
		got, err := x.RevenueBySpecialtyMonth(ctx)
		require.NoError(t, err, x.Name())
		assert.Equal(t, want, got, x.Name())
	}
}

func TestSQLExecutors_AgreeOnGeneratedData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping generated comparison in short mode")
	}
	ctx := context.Background()

	for _, seed := range []uint64{1, 7, 42} {
		opts := dataset.DefaultGenerateOptions()
		opts.Seed = seed
		ds, err := dataset.Generate(opts)
		require.NoError(t, err)

		s := newStorage(t)
		entities, st := load(t, s, "generated", ds)

		all := query.DefaultOptions()
		all.Readmission.ZeroDischarges = query.ZeroDischargeNull

		pairs := []struct{ left, right query.Executor }{
			{query.NewEntityExecutor(entities), s.OLTPExecutor()},
			{query.NewStarExecutor(st), s.StarExecutor()},
			{s.OLTPExecutor(), s.StarExecutor()},
		}
		for _, p := range pairs {
			for _, opts := range []query.Options{query.DefaultOptions(), all} {
				diff, err := query.Compare(ctx, p.left, p.right, opts)
				require.NoError(t, err)
				assert.True(t, diff.Equal(), "seed %d %s vs %s: %+v", seed, p.left.Name(), p.right.Name(), diff.Mismatches)
			}
		}
	}
}

func TestSQLExecutors_EmptySnapshot(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	load(t, s, "empty", oltp.Dataset{})

	res, err := query.RunAll(ctx, s.StarExecutor(), query.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.MonthlyEncounters)
	assert.Empty(t, res.DiagnosisPairs)
	assert.Empty(t, res.Readmissions)
	assert.Empty(t, res.Revenue)
}

func TestSQLExecutors_Cancelled(t *testing.T) {
	s := newStorage(t)
	load(t, s, "fixture", testutil.Fixture(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.OLTPExecutor().MonthlyEncounters(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
