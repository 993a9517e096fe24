package oltp_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/testutil"
)

func TestLoad_Fixture(t *testing.T) {
	s := testutil.Store(t)

	p, err := s.Patient(1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)

	spec, err := s.ProviderSpecialty(1)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", spec.Name)

	encs, err := s.EncountersByPatient(1)
	require.NoError(t, err)
	ids := make([]int64, 0, len(encs))
	for _, e := range encs {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{1, 2, 7}, ids)

	encs, err = s.EncountersByProvider(3)
	require.NoError(t, err)
	assert.Empty(t, encs)

	diags, err := s.DiagnosesForEncounter(1)
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Equal(t, "I10", diags[0].ICD10Code)
	assert.Equal(t, "E11.9", diags[1].ICD10Code)

	procs, err := s.ProceduresForEncounter(6)
	require.NoError(t, err)
	assert.Empty(t, procs)

	claims, err := s.BillingForEncounter(1)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, oltp.Money(80000), claims[0].AllowedAmount)

	history, err := s.ProviderHistory(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 2, history[0].SpecialtyID)
}

func TestLoad_SortsByPrimaryKey(t *testing.T) {
	ds := testutil.Fixture(t)
	ds.Encounters[0], ds.Encounters[7] = ds.Encounters[7], ds.Encounters[0]

	s, err := oltp.Load(ds)
	require.NoError(t, err)
	encs := s.Encounters()
	for i := 1; i < len(encs); i++ {
		assert.Less(t, encs[i-1].ID, encs[i].ID)
	}
}

func TestLookups_NotFound(t *testing.T) {
	s := testutil.Store(t)

	_, err := s.Patient(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
	var nf *oltp.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "patient", nf.Entity)
	assert.EqualValues(t, 99, nf.ID)

	_, err = s.Encounter(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
	_, err = s.Billing(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
	_, err = s.DiagnosesForEncounter(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
	_, err = s.EncountersByPatient(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
	_, err = s.ProviderHistory(99)
	assert.ErrorIs(t, err, oltp.ErrNotFound)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ds *oltp.Dataset)
		want   error
	}{
		{
			name:   "encounter references missing patient",
			mutate: func(ds *oltp.Dataset) { ds.Encounters[0].PatientID = 42 },
			want:   oltp.ErrReferentialIntegrity,
		},
		{
			name:   "encounter references missing provider",
			mutate: func(ds *oltp.Dataset) { ds.Encounters[0].ProviderID = 42 },
			want:   oltp.ErrReferentialIntegrity,
		},
		{
			name:   "provider references missing specialty",
			mutate: func(ds *oltp.Dataset) { ds.Providers[0].SpecialtyID = 42 },
			want:   oltp.ErrReferentialIntegrity,
		},
		{
			name: "diagnosis link references missing encounter",
			mutate: func(ds *oltp.Dataset) {
				ds.EncounterDiagnoses = append(ds.EncounterDiagnoses, oltp.EncounterDiagnosis{EncounterID: 42, DiagnosisID: 1})
			},
			want: oltp.ErrReferentialIntegrity,
		},
		{
			name: "procedure link references missing procedure",
			mutate: func(ds *oltp.Dataset) {
				ds.EncounterProcedures = append(ds.EncounterProcedures, oltp.EncounterProcedure{EncounterID: 1, ProcedureID: 42})
			},
			want: oltp.ErrReferentialIntegrity,
		},
		{
			name:   "billing references missing encounter",
			mutate: func(ds *oltp.Dataset) { ds.Billing[0].EncounterID = 42 },
			want:   oltp.ErrReferentialIntegrity,
		},
		{
			name:   "history references missing specialty",
			mutate: func(ds *oltp.Dataset) { ds.ProviderHistory[0].SpecialtyID = 42 },
			want:   oltp.ErrReferentialIntegrity,
		},
		{
			name:   "duplicate patient id",
			mutate: func(ds *oltp.Dataset) { ds.Patients = append(ds.Patients, oltp.Patient{ID: 1}) },
			want:   oltp.ErrDuplicateKey,
		},
		{
			name: "duplicate icd10 code",
			mutate: func(ds *oltp.Dataset) {
				ds.Diagnoses = append(ds.Diagnoses, oltp.Diagnosis{ID: 9, ICD10Code: "I10"})
			},
			want: oltp.ErrDuplicateKey,
		},
		{
			name: "duplicate diagnosis link",
			mutate: func(ds *oltp.Dataset) {
				ds.EncounterDiagnoses = append(ds.EncounterDiagnoses, oltp.EncounterDiagnosis{EncounterID: 1, DiagnosisID: 1})
			},
			want: oltp.ErrDuplicateKey,
		},
		{
			name: "discharge before admission",
			mutate: func(ds *oltp.Dataset) {
				d := ds.Encounters[0].Date.AddDays(-1)
				ds.Encounters[0].DischargeDate = &d
			},
			want: oltp.ErrInvalidRecord,
		},
		{
			name:   "negative claim",
			mutate: func(ds *oltp.Dataset) { ds.Billing[0].ClaimAmount = -1 },
			want:   oltp.ErrInvalidRecord,
		},
		{
			name:   "empty encounter type",
			mutate: func(ds *oltp.Dataset) { ds.Encounters[0].Type = "" },
			want:   oltp.ErrInvalidRecord,
		},
		{
			name:   "empty cpt code",
			mutate: func(ds *oltp.Dataset) { ds.Procedures[0].CPTCode = "" },
			want:   oltp.ErrInvalidRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := testutil.Fixture(t)
			tt.mutate(&ds)
			_, err := oltp.Load(ds)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReferentialIntegrityError_Message(t *testing.T) {
	ds := testutil.Fixture(t)
	ds.Encounters[0].PatientID = 42
	_, err := oltp.Load(ds)

	var ri *oltp.ReferentialIntegrityError
	require.True(t, errors.As(err, &ri))
	assert.Equal(t, "encounter", ri.Entity)
	assert.Equal(t, "patient_id", ri.Field)
	assert.EqualValues(t, 42, ri.RefID)
	assert.Contains(t, err.Error(), "references missing patient")
}

func TestStore_IsImmutable(t *testing.T) {
	ds := testutil.Fixture(t)
	s, err := oltp.Load(ds)
	require.NoError(t, err)

	ds.Encounters[0].Type = "Changed"
	encs := s.Encounters()
	encs[0].Type = "Changed too"

	e, err := s.Encounter(1)
	require.NoError(t, err)
	assert.Equal(t, oltp.EncounterTypeInpatient, e.Type)
}

func TestDataset_Counts(t *testing.T) {
	ds := testutil.Store(t).Dataset()
	counts := ds.Counts()
	assert.Equal(t, 8, counts["encounters"])
	assert.Equal(t, 6, counts["billing"])
	assert.Equal(t, 1, counts["provider_history"])
}

func TestDate(t *testing.T) {
	d, err := oltp.ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, "2024-02", d.YearMonth())
	assert.Equal(t, d, oltp.DateFromEpochDays(d.EpochDays()))
	assert.Equal(t, 30, d.AddDays(30).EpochDays()-d.EpochDays())

	local := time.Date(2024, time.February, 28, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, d, oltp.DateOf(local))

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-02-28"`, string(b))

	var back oltp.Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	_, err = oltp.ParseDate("28/02/2024")
	assert.Error(t, err)
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want oltp.Money
	}{
		{"12.34", 1234},
		{"12.3", 1230},
		{"12", 1200},
		{".5", 50},
		{"-1.05", -105},
		{"+0.01", 1},
	}
	for _, tt := range tests {
		got, err := oltp.ParseMoney(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "1.234", "abc", "1.x", "--5", "+-5", "1.-5", "1.+5", "-", "+", ".", "-.", "1 000"} {
		_, err := oltp.ParseMoney(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "-1.05", oltp.Money(-105).String())
	assert.Equal(t, "0.07", oltp.Money(7).String())

	var m oltp.Money
	require.NoError(t, json.Unmarshal([]byte(`"99.99"`), &m))
	assert.Equal(t, oltp.Money(9999), m)
	require.NoError(t, json.Unmarshal([]byte(`100.5`), &m))
	assert.Equal(t, oltp.Money(10050), m)
}
