package star

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/testutil"
)

func materialize(t *testing.T) (*oltp.Store, *Store) {
	t.Helper()
	src := testutil.Store(t)
	st, err := Materialize(src)
	require.NoError(t, err)
	return src, st
}

func TestMaterialize_Idempotent(t *testing.T) {
	src, a := materialize(t)
	b, err := Materialize(src)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	again, err := oltp.Load(src.Dataset())
	require.NoError(t, err)
	c, err := Materialize(again)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestMaterialize_Counts(t *testing.T) {
	_, st := materialize(t)
	assert.Equal(t, map[string]int{
		"dim_date":                    61,
		"dim_patient":                 3,
		"dim_provider":                4,
		"dim_encounter_type":          3,
		"dim_diagnosis":               3,
		"dim_procedure":               2,
		"fact_encounters":             8,
		"bridge_encounter_diagnoses":  6,
		"bridge_encounter_procedures": 5,
	}, st.Counts())
}

func TestMaterialize_ProviderHistory(t *testing.T) {
	_, st := materialize(t)

	rows := st.Providers()
	require.Len(t, rows, 4)

	old := rows[0]
	assert.EqualValues(t, 1, old.ProviderID)
	assert.Equal(t, "Neurology", old.SpecialtyName)
	assert.False(t, old.CurrentFlag)
	require.NotNil(t, old.ValidTo)
	assert.Equal(t, "2023-12-31", old.ValidTo.String())

	cur, err := st.CurrentProvider(1)
	require.NoError(t, err)
	assert.True(t, cur.CurrentFlag)
	assert.Equal(t, "Cardiology", cur.SpecialtyName)
	require.NotNil(t, cur.ValidFrom)
	assert.Equal(t, "2024-01-01", cur.ValidFrom.String())
	assert.Nil(t, cur.ValidTo)

	// Facts always point at the current row, never at history.
	for _, f := range st.Facts() {
		p, err := st.Provider(f.ProviderKey)
		require.NoError(t, err)
		assert.True(t, p.CurrentFlag, "encounter %d", f.EncounterID)
	}

	_, err = st.CurrentProvider(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaterialize_FactAggregates(t *testing.T) {
	src, st := materialize(t)

	for _, e := range src.Encounters() {
		f, err := st.FactByEncounterID(e.ID)
		require.NoError(t, err)

		claims, err := src.BillingForEncounter(e.ID)
		require.NoError(t, err)
		var claimed, allowed oltp.Money
		for _, b := range claims {
			claimed += b.ClaimAmount
			allowed += b.AllowedAmount
		}
		assert.Equal(t, claimed, f.TotalClaimAmount, "encounter %d", e.ID)
		assert.Equal(t, allowed, f.TotalAllowedAmount, "encounter %d", e.ID)
		assert.Equal(t, len(claims), f.ClaimCount)
		assert.Equal(t, len(claims) > 0, f.HasBilling)

		diags, err := src.DiagnosesForEncounter(e.ID)
		require.NoError(t, err)
		assert.Equal(t, len(diags), f.DiagnosisCount)

		bridged, err := st.DiagnosesForEncounter(f.EncounterKey)
		require.NoError(t, err)
		assert.Len(t, bridged, len(diags))
	}

	f, err := st.FactByEncounterID(1)
	require.NoError(t, err)
	require.NotNil(t, f.BillingDateKey)
	d, err := st.Date(*f.BillingDateKey)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-12", d.Date.String())

	f, err = st.FactByEncounterID(4)
	require.NoError(t, err)
	assert.True(t, f.IsAdmitted)
	assert.Nil(t, f.DischargeDateKey)
	assert.False(t, f.HasBilling)
	assert.Nil(t, f.BillingDateKey)
}

func TestDateKeys_AreDense(t *testing.T) {
	_, st := materialize(t)

	dates := st.Dates()
	for i := 1; i < len(dates); i++ {
		assert.Equal(t, dates[i-1].DateKey+1, dates[i].DateKey)
	}

	discharge := testutil.Day(10)
	k := DateKey(discharge)
	d, err := st.Date(k + 30)
	require.NoError(t, err)
	assert.Equal(t, discharge.AddDays(30), d.Date)
	assert.Equal(t, "2024-02", d.YearMonth)
	assert.Equal(t, 2, d.Month)

	_, err = st.Date(dates[0].DateKey - 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetails(t *testing.T) {
	_, st := materialize(t)

	details := st.Details()
	require.Len(t, details, 8)
	d := details[0]
	assert.EqualValues(t, 1, d.EncounterID)
	assert.Equal(t, "2024-01", d.YearMonth)
	assert.Equal(t, "Cardiology", d.SpecialtyName)
	assert.Equal(t, oltp.EncounterTypeInpatient, d.EncounterType)
	require.NotNil(t, d.DischargeDate)
	assert.Equal(t, testutil.Day(10), *d.DischargeDate)
}

func TestLookups_NotFound(t *testing.T) {
	_, st := materialize(t)

	_, err := st.Fact(0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Fact(9)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.FactByEncounterID(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Patient(4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.DiagnosesForEncounter(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_DetectsTamperedFact(t *testing.T) {
	src, st := materialize(t)
	require.NoError(t, Verify(src, st))

	st.facts[0].TotalAllowedAmount += 1
	st.facts[2].DiagnosisCount = 7

	err := Verify(src, st)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	var iv *InvariantViolationError
	require.True(t, errors.As(err, &iv))
	require.Len(t, iv.Violations, 2)
	assert.Equal(t, "total_allowed_amount", iv.Violations[0].Field)
	assert.EqualValues(t, 1, iv.Violations[0].EncounterID)
	assert.Equal(t, "diagnosis_count", iv.Violations[1].Field)
	assert.Contains(t, err.Error(), "2 violations")
}

func TestVerify_DetectsHistoricalProviderReference(t *testing.T) {
	src, st := materialize(t)

	// Point encounter 1 at provider 1's closed history row.
	st.facts[0].ProviderKey = 1

	err := Verify(src, st)
	var iv *InvariantViolationError
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, "provider_key", iv.Violations[0].Field)
}

func TestVerify_DetectsDuplicateBridgeRow(t *testing.T) {
	src, st := materialize(t)
	st.bridgeDiag = append(st.bridgeDiag, st.bridgeDiag[0])

	err := Verify(src, st)
	var iv *InvariantViolationError
	require.True(t, errors.As(err, &iv))
	last := iv.Violations[len(iv.Violations)-1]
	assert.Equal(t, "bridge_encounter_diagnoses", last.Table)
	assert.Equal(t, "duplicate", last.Got)
}

func TestVerify_DetectsMissingCurrentRow(t *testing.T) {
	src, st := materialize(t)
	st.providers[3].CurrentFlag = false

	err := Verify(src, st)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestMaterialize_Empty(t *testing.T) {
	src, err := oltp.Load(oltp.Dataset{})
	require.NoError(t, err)
	st, err := Materialize(src)
	require.NoError(t, err)
	assert.Empty(t, st.Facts())
	assert.Empty(t, st.Dates())
}
