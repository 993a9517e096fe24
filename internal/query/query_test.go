package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/dataset"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/testutil"
)

func executors(t *testing.T, ds oltp.Dataset) []query.Executor {
	t.Helper()
	store, err := oltp.Load(ds)
	require.NoError(t, err)
	st, err := star.Materialize(store)
	require.NoError(t, err)
	return []query.Executor{query.NewEntityExecutor(store), query.NewStarExecutor(st)}
}

func pct(t *testing.T, v int64) *query.Percent {
	t.Helper()
	p := query.Percent(v)
	return &p
}

func TestMonthlyEncounters(t *testing.T) {
	want := []query.MonthlyEncountersRow{
		{YearMonth: "2024-01", Specialty: "Cardiology", EncounterType: "Inpatient", Encounters: 1, DistinctPatients: 1},
		{YearMonth: "2024-01", Specialty: "Cardiology", EncounterType: "Outpatient", Encounters: 2, DistinctPatients: 1},
		{YearMonth: "2024-01", Specialty: "Neurology", EncounterType: "Inpatient", Encounters: 1, DistinctPatients: 1},
		{YearMonth: "2024-02", Specialty: "Cardiology", EncounterType: "Inpatient", Encounters: 1, DistinctPatients: 1},
		{YearMonth: "2024-02", Specialty: "Neurology", EncounterType: "Inpatient", Encounters: 1, DistinctPatients: 1},
		{YearMonth: "2024-02", Specialty: "Neurology", EncounterType: "Outpatient", Encounters: 1, DistinctPatients: 1},
		{YearMonth: "2024-03", Specialty: "Neurology", EncounterType: "Emergency", Encounters: 1, DistinctPatients: 1},
	}
	for _, x := range executors(t, testutil.Fixture(t)) {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := x.MonthlyEncounters(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTopDiagnosisProcedurePairs(t *testing.T) {
	for _, x := range executors(t, testutil.Fixture(t)) {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := x.TopDiagnosisProcedurePairs(context.Background(), query.DefaultPairOptions())
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "I10", got[0].ICD10Code)
			assert.Equal(t, "93000", got[0].CPTCode)
			assert.Equal(t, "Electrocardiogram", got[0].ProcedureDescription)
			assert.EqualValues(t, 3, got[0].Encounters)
			assert.Equal(t, "E11.9", got[1].ICD10Code)
			assert.Equal(t, "99213", got[1].CPTCode)
			assert.EqualValues(t, 2, got[1].Encounters)
			for _, r := range got {
				assert.GreaterOrEqual(t, r.Encounters, int64(2))
			}

			got, err = x.TopDiagnosisProcedurePairs(context.Background(), query.PairOptions{MinEncounters: 1, Limit: 3})
			require.NoError(t, err)
			require.Len(t, got, 3)
			// Ties on count break on icd10 then cpt.
			assert.Equal(t, "E11.9", got[2].ICD10Code)
			assert.Equal(t, "93000", got[2].CPTCode)
		})
	}
}

func TestTopDiagnosisProcedurePairs_LimitOnLargeDataset(t *testing.T) {
	ds, err := dataset.Generate(dataset.DefaultGenerateOptions())
	require.NoError(t, err)
	for _, x := range executors(t, ds) {
		got, err := x.TopDiagnosisProcedurePairs(context.Background(), query.DefaultPairOptions())
		require.NoError(t, err)
		assert.Len(t, got, 20, x.Name())
		for i, r := range got {
			assert.GreaterOrEqual(t, r.Encounters, int64(2))
			if i > 0 {
				assert.LessOrEqual(t, r.Encounters, got[i-1].Encounters)
			}
		}
	}
}

func TestReadmissionRates(t *testing.T) {
	want := []query.ReadmissionRow{
		{Specialty: "Cardiology", TotalDischarges: 2, ReadmittedDischarges: 1, Rate: pct(t, 5000)},
		{Specialty: "Neurology", TotalDischarges: 1, ReadmittedDischarges: 0, Rate: pct(t, 0)},
	}
	for _, x := range executors(t, testutil.Fixture(t)) {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := x.ReadmissionRates(context.Background(), query.DefaultReadmissionOptions())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

// A discharge on day D is readmitted by an admission on D+30 but not D+31.
func TestReadmissionRates_WindowBoundary(t *testing.T) {
	for _, offset := range []int{1, 29, 30, 31, 45} {
		ds := oltp.Dataset{
			Specialties: []oltp.Specialty{{ID: 1, Name: "Cardiology"}},
			Providers:   []oltp.Provider{{ID: 1, SpecialtyID: 1}},
			Patients:    []oltp.Patient{{ID: 1}},
			Diagnoses:   []oltp.Diagnosis{},
			Procedures:  []oltp.Procedure{},
		}
		discharge := testutil.Day(10)
		ds.Encounters = []oltp.Encounter{
			{ID: 1, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: testutil.Day(3), DischargeDate: &discharge},
			{ID: 2, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: discharge.AddDays(offset)},
		}
		wantReadmitted := int64(0)
		if offset <= 30 {
			wantReadmitted = 1
		}

		for _, x := range executors(t, ds) {
			got, err := x.ReadmissionRates(context.Background(), query.DefaultReadmissionOptions())
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.EqualValues(t, 1, got[0].TotalDischarges, "%s offset %d", x.Name(), offset)
			assert.Equal(t, wantReadmitted, got[0].ReadmittedDischarges, "%s offset %d", x.Name(), offset)
		}
	}
}

func TestReadmissionRates_SameDayAdmissionIsNotReadmission(t *testing.T) {
	discharge := testutil.Day(10)
	ds := oltp.Dataset{
		Specialties: []oltp.Specialty{{ID: 1, Name: "Cardiology"}},
		Providers:   []oltp.Provider{{ID: 1, SpecialtyID: 1}},
		Patients:    []oltp.Patient{{ID: 1}},
		Encounters: []oltp.Encounter{
			{ID: 1, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: testutil.Day(3), DischargeDate: &discharge},
			{ID: 2, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: discharge},
			{ID: 3, PatientID: 1, ProviderID: 1, Type: "Outpatient", Date: discharge.AddDays(5)},
		},
	}
	for _, x := range executors(t, ds) {
		got, err := x.ReadmissionRates(context.Background(), query.DefaultReadmissionOptions())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.EqualValues(t, 0, got[0].ReadmittedDischarges, x.Name())
	}
}

func TestReadmissionRates_ZeroDischargePolicies(t *testing.T) {
	tests := []struct {
		policy query.ZeroDischargePolicy
		want   []query.ReadmissionRow
		err    error
	}{
		{
			policy: query.ZeroDischargeZero,
			want: []query.ReadmissionRow{
				{Specialty: "Cardiology", TotalDischarges: 2, ReadmittedDischarges: 1, Rate: pct(t, 5000)},
				{Specialty: "Neurology", TotalDischarges: 1, Rate: pct(t, 0)},
				{Specialty: "Pediatrics", Rate: pct(t, 0)},
			},
		},
		{
			policy: query.ZeroDischargeNull,
			want: []query.ReadmissionRow{
				{Specialty: "Cardiology", TotalDischarges: 2, ReadmittedDischarges: 1, Rate: pct(t, 5000)},
				{Specialty: "Neurology", TotalDischarges: 1, Rate: pct(t, 0)},
				{Specialty: "Pediatrics"},
			},
		},
		{policy: query.ZeroDischargeError, err: query.ErrDivideByZero},
	}

	for _, tt := range tests {
		for _, x := range executors(t, testutil.Fixture(t)) {
			t.Run(string(tt.policy)+"/"+x.Name(), func(t *testing.T) {
				opts := query.DefaultReadmissionOptions()
				opts.ZeroDischarges = tt.policy
				got, err := x.ReadmissionRates(context.Background(), opts)
				if tt.err != nil {
					require.Error(t, err)
					assert.ErrorIs(t, err, tt.err)
					var dz *query.DivideByZeroError
					require.True(t, errors.As(err, &dz))
					assert.Equal(t, "Pediatrics", dz.Specialty)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestReadmissionRates_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts query.ReadmissionOptions
	}{
		{"unknown policy", query.ReadmissionOptions{ZeroDischarges: "skip"}},
		{"negative window", query.ReadmissionOptions{WindowDays: -1}},
		{"window over a century", query.ReadmissionOptions{WindowDays: query.MaxWindowDays + 1}},
	}
	for _, x := range executors(t, testutil.Fixture(t)) {
		for _, tt := range tests {
			t.Run(x.Name()+"/"+tt.name, func(t *testing.T) {
				_, err := x.ReadmissionRates(context.Background(), tt.opts)
				assert.ErrorIs(t, err, query.ErrInvalidOptions)
			})
		}
	}
}

func TestReadmissionOptions_WithDefaults(t *testing.T) {
	assert.Equal(t, query.DefaultReadmissionOptions(), query.ReadmissionOptions{}.WithDefaults())

	opts := query.ReadmissionOptions{WindowDays: -5}.WithDefaults()
	assert.Equal(t, -5, opts.WindowDays)
	assert.Error(t, opts.Validate())

	assert.NoError(t, query.ReadmissionOptions{WindowDays: query.MaxWindowDays}.WithDefaults().Validate())
}

func TestRevenueBySpecialtyMonth(t *testing.T) {
	want := []query.RevenueRow{
		{YearMonth: "2024-01", Specialty: "Cardiology", ClaimCount: 3, TotalClaimed: 130000, TotalAllowed: 101667, AvgAllowed: 33889},
		{YearMonth: "2024-01", Specialty: "Neurology", ClaimCount: 1, TotalClaimed: 50000, TotalAllowed: 33333, AvgAllowed: 33333},
		{YearMonth: "2024-02", Specialty: "Neurology", ClaimCount: 2, TotalClaimed: 30000, TotalAllowed: 10001, AvgAllowed: 5001},
	}
	for _, x := range executors(t, testutil.Fixture(t)) {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := x.RevenueBySpecialtyMonth(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

// An encounter's claims are all billed in the month of its earliest claim,
// even when later claims fall in the next month.
func TestRevenueBySpecialtyMonth_SplitMonthEncounter(t *testing.T) {
	for _, x := range executors(t, splitMonthDataset(t)) {
		t.Run(x.Name(), func(t *testing.T) {
			got, err := x.RevenueBySpecialtyMonth(context.Background())
			require.NoError(t, err)
			assert.Equal(t, splitMonthRevenue, got)
		})
	}

	// Fixture encounter 1 bills on 2024-01-12 and 2024-02-03: both claims
	// land in January and Cardiology has no February row.
	for _, x := range executors(t, testutil.Fixture(t)) {
		got, err := x.RevenueBySpecialtyMonth(context.Background())
		require.NoError(t, err)
		for _, row := range got {
			if row.Specialty == "Cardiology" {
				assert.Equal(t, "2024-01", row.YearMonth, x.Name())
			}
		}
	}
}

var splitMonthRevenue = []query.RevenueRow{
	{YearMonth: "2024-01", Specialty: "Cardiology", ClaimCount: 2, TotalClaimed: 120000, TotalAllowed: 95000, AvgAllowed: 47500},
}

func splitMonthDataset(t *testing.T) oltp.Dataset {
	t.Helper()
	return oltp.Dataset{
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
}

func TestExecutors_AgreeOnGeneratedData(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42} {
		opts := dataset.DefaultGenerateOptions()
		opts.Seed = seed
		ds, err := dataset.Generate(opts)
		require.NoError(t, err)

		xs := executors(t, ds)
		for _, policy := range []query.ZeroDischargePolicy{query.ZeroDischargeOmit, query.ZeroDischargeZero, query.ZeroDischargeNull} {
			qopts := query.DefaultOptions()
			qopts.Readmission.ZeroDischarges = policy
			diff, err := query.Compare(context.Background(), xs[0], xs[1], qopts)
			require.NoError(t, err)
			assert.True(t, diff.Equal(), "seed %d policy %s: %+v", seed, policy, diff.Mismatches)
		}
	}
}

func TestRunAll(t *testing.T) {
	x := executors(t, testutil.Fixture(t))[1]
	res, err := query.RunAll(context.Background(), x, query.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "star", res.Executor)
	assert.Len(t, res.MonthlyEncounters, 7)
	assert.Len(t, res.DiagnosisPairs, 2)
	assert.Len(t, res.Readmissions, 2)
	assert.Len(t, res.Revenue, 3)
}

func TestRunAll_PropagatesErrors(t *testing.T) {
	x := executors(t, testutil.Fixture(t))[0]
	opts := query.DefaultOptions()
	opts.Readmission.ZeroDischarges = query.ZeroDischargeError
	_, err := query.RunAll(context.Background(), x, opts)
	assert.ErrorIs(t, err, query.ErrDivideByZero)
}

func TestExecutors_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, x := range executors(t, testutil.Fixture(t)) {
		_, err := x.MonthlyEncounters(ctx)
		assert.ErrorIs(t, err, context.Canceled, x.Name())
		_, err = x.RevenueBySpecialtyMonth(ctx)
		assert.ErrorIs(t, err, context.Canceled, x.Name())
	}
}

func TestCompare_ReportsMismatch(t *testing.T) {
	base := testutil.Fixture(t)
	changed := testutil.Fixture(t)
	changed.Encounters[6].Date = testutil.Day(92) // 2024-04-01

	left := executors(t, base)[0]
	right := executors(t, changed)[1]

	diff, err := query.Compare(context.Background(), left, right, query.DefaultOptions())
	require.NoError(t, err)
	require.False(t, diff.Equal())
	assert.Equal(t, query.MonthlyEncounters, diff.Mismatches[0].Query)
	assert.Equal(t, 6, diff.Mismatches[0].Row)
	assert.Contains(t, diff.Mismatches[0].Left, "2024-03")
	assert.Contains(t, diff.Mismatches[0].Right, "2024-04")
}

func TestParseName(t *testing.T) {
	for in, want := range map[string]query.Name{
		"q1":                        query.MonthlyEncounters,
		"Q2":                        query.DiagnosisPairs,
		"readmissions":              query.Readmissions,
		" revenue ":                 query.Revenue,
		"diagnosis-procedure-pairs": query.DiagnosisPairs,
	} {
		got, err := query.ParseName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := query.ParseName("q5")
	assert.Error(t, err)
}

func TestRatePercent(t *testing.T) {
	tests := []struct {
		part, total int64
		want        string
	}{
		{1, 2, "50.00"},
		{1, 3, "33.33"},
		{2, 3, "66.67"},
		{1, 8, "12.50"},
		{1, 16, "6.25"},
		{1, 32, "3.13"}, // 3.125 rounds half away from zero
		{0, 5, "0.00"},
		{7, 7, "100.00"},
	}
	for _, tt := range tests {
		got, err := query.RatePercent("x", tt.part, tt.total)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "%d/%d", tt.part, tt.total)
	}

	_, err := query.RatePercent("Pediatrics", 0, 0)
	assert.ErrorIs(t, err, query.ErrDivideByZero)
}

func TestAverageMoney(t *testing.T) {
	assert.Equal(t, oltp.Money(5001), query.AverageMoney(10001, 2))
	assert.Equal(t, oltp.Money(-5001), query.AverageMoney(-10001, 2))
	assert.Equal(t, oltp.Money(33333), query.AverageMoney(100000, 3))
	assert.Equal(t, oltp.Money(0), query.AverageMoney(100, 0))
}

func TestPercent_JSON(t *testing.T) {
	b, err := query.Percent(1234).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "12.34", string(b))
	assert.InDelta(t, 12.34, query.Percent(1234).Float64(), 1e-9)
}

func TestDates_AreCalendarDays(t *testing.T) {
	d := testutil.Day(10)
	assert.Equal(t, oltp.NewDate(2024, time.February, 9), d.AddDays(30))
}
