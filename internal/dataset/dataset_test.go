package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
)

func smallOptions() GenerateOptions {
	opts := DefaultGenerateOptions()
	opts.Patients = 30
	opts.Providers = 6
	opts.Encounters = 150
	opts.Days = 90
	return opts
}

// normalized round-trips ds through the entity store, which sorts every
// table, so datasets can be compared regardless of input order.
func normalized(t *testing.T, ds oltp.Dataset) oltp.Dataset {
	t.Helper()
	store, err := oltp.Load(ds)
	require.NoError(t, err)
	return store.Dataset()
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(smallOptions())
	require.NoError(t, err)
	b, err := Generate(smallOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := smallOptions()
	other.Seed = 99
	c, err := Generate(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Encounters, c.Encounters)
}

func TestGenerate_Loadable(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)
	assert.Len(t, ds.Encounters, 150)

	store, err := oltp.Load(ds)
	require.NoError(t, err)

	st, err := star.Materialize(store)
	require.NoError(t, err)
	assert.Equal(t, 150, st.Counts()["fact_encounters"])

	var discharges, history int
	for _, e := range ds.Encounters {
		if e.IsDischarge() {
			discharges++
		}
	}
	history = len(ds.ProviderHistory)
	assert.Positive(t, discharges)
	assert.Positive(t, history)
	assert.NotEmpty(t, ds.Billing)
}

func TestGenerate_RejectsNegativeEncounters(t *testing.T) {
	opts := smallOptions()
	opts.Encounters = -1
	_, err := Generate(opts)
	assert.Error(t, err)
}

func TestJSON_RoundTrip(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, ds))
	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, normalized(t, ds), normalized(t, got))
}

func TestJSONFile_Gzip(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dataset.json.gz")
	require.NoError(t, WriteJSONFile(path, ds))

	src, err := Open(path)
	require.NoError(t, err)
	require.IsType(t, &JSONFile{}, src)

	got, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, normalized(t, ds), normalized(t, got))
}

func TestReadJSON_RejectsUnknownKeys(t *testing.T) {
	_, err := ReadJSON(bytes.NewBufferString(`{"patients": [], "patiens": []}`))
	assert.Error(t, err)
}

func TestReadJSON_MoneyForms(t *testing.T) {
	doc := `{
		"billing": [
			{"id": 1, "encounter_id": 1, "claim_date": "2024-01-05", "claim_amount": 125.5, "allowed_amount": "99.99"}
		]
	}`
	ds, err := ReadJSON(bytes.NewBufferString(doc))
	require.NoError(t, err)
	require.Len(t, ds.Billing, 1)
	assert.Equal(t, oltp.Money(12550), ds.Billing[0].ClaimAmount)
	assert.Equal(t, oltp.Money(9999), ds.Billing[0].AllowedAmount)
}

func TestParquet_RoundTrip(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteParquetDir(dir, ds))

	src, err := Open(dir)
	require.NoError(t, err)
	require.IsType(t, &ParquetDir{}, src)

	got, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, normalized(t, ds), normalized(t, got))
}

func TestParquet_HistoryOptional(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteParquetDir(dir, ds))
	require.NoError(t, os.Remove(filepath.Join(dir, providerHistoryFile)))

	got, err := (&ParquetDir{Dir: dir}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.ProviderHistory)
	assert.Len(t, got.Encounters, len(ds.Encounters))
}

func TestParquet_MissingTable(t *testing.T) {
	_, err := (&ParquetDir{Dir: t.TempDir()}).Load(context.Background())
	assert.Error(t, err)
}

func TestExportStar(t *testing.T) {
	ds, err := Generate(smallOptions())
	require.NoError(t, err)
	store, err := oltp.Load(ds)
	require.NoError(t, err)
	st, err := star.Materialize(store)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, ExportStar(dir, st))

	for _, table := range StarTables {
		assert.FileExists(t, filepath.Join(dir, table+".parquet"))
	}

	facts, err := readParquet[factEncounterRow](filepath.Join(dir, "fact_encounters.parquet"))
	require.NoError(t, err)
	require.Len(t, facts, len(st.Facts()))
	for i, f := range st.Facts() {
		assert.Equal(t, f.EncounterKey, facts[i].EncounterKey)
		assert.Equal(t, f.TotalAllowedAmount.Cents(), facts[i].TotalAllowedAmountCents)
		assert.Equal(t, f.DischargeDateKey, facts[i].DischargeDateKey)
	}

	dates, err := readParquet[dimDateRow](filepath.Join(dir, "dim_date.parquet"))
	require.NoError(t, err)
	assert.Len(t, dates, st.Counts()["dim_date"])
}

func TestOpen_Postgres(t *testing.T) {
	src, err := Open("postgres://u:p@localhost:5432/db")
	require.NoError(t, err)
	assert.IsType(t, &Postgres{}, src)

	_, err = Open(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGenerated_Source(t *testing.T) {
	src := &Generated{Options: smallOptions()}
	assert.Equal(t, "generated:seed=1", src.String())

	a, err := src.Load(context.Background())
	require.NoError(t, err)
	b, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
