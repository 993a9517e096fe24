// Package testutil holds a small hand-checked dataset shared by the package
// tests. Every expected query answer below was worked out by hand.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Day returns 2024-01-<n>, overflowing into later months.
func Day(n int) oltp.Date {
	return oltp.NewDate(2024, time.January, 1).AddDays(n - 1)
}

func datePtr(d oltp.Date) *oltp.Date { return &d }

func money(t testing.TB, s string) oltp.Money {
	m, err := oltp.ParseMoney(s)
	require.NoError(t, err)
	return m
}

// Fixture returns the reference dataset:
//
//   - Provider 1 is Cardiology today and was Neurology through 2023.
//     Provider 2 is Neurology, provider 3 is Pediatrics with no encounters.
//   - Patient 1 is discharged on day 10 and readmitted on day 40 (window
//     boundary, counts). Patient 2 is discharged on day 10 and readmitted on
//     day 41 (outside the window).
//   - Encounter 1 has two claims in different months; encounter 6 has a zero
//     claim so its average lands on half a cent.
func Fixture(t testing.TB) oltp.Dataset {
	return oltp.Dataset{
		Specialties: []oltp.Specialty{
			{ID: 1, Name: "Cardiology"},
			{ID: 2, Name: "Neurology"},
			{ID: 3, Name: "Pediatrics"},
		},
		Providers: []oltp.Provider{
			{ID: 1, Name: "Dr. Adams", SpecialtyID: 1},
			{ID: 2, Name: "Dr. Baker", SpecialtyID: 2},
			{ID: 3, Name: "Dr. Cruz", SpecialtyID: 3},
		},
		ProviderHistory: []oltp.ProviderSpecialtyHistory{
			{ProviderID: 1, SpecialtyID: 2, ValidFrom: oltp.NewDate(2020, time.January, 1), ValidTo: oltp.NewDate(2023, time.December, 31)},
		},
		Patients: []oltp.Patient{
			{ID: 1, FirstName: "Ada", LastName: "Evans", Gender: "F", BirthDate: datePtr(oltp.NewDate(1950, time.March, 4))},
			{ID: 2, FirstName: "Ben", LastName: "Fischer", Gender: "M"},
			{ID: 3, FirstName: "Chloe", LastName: "Garcia", Gender: "F"},
		},
		Encounters: []oltp.Encounter{
			{ID: 1, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: Day(5), DischargeDate: datePtr(Day(10))},
			{ID: 2, PatientID: 1, ProviderID: 1, Type: oltp.EncounterTypeInpatient, Date: Day(40), DischargeDate: datePtr(Day(43))},
			{ID: 3, PatientID: 2, ProviderID: 2, Type: oltp.EncounterTypeInpatient, Date: Day(1), DischargeDate: datePtr(Day(10))},
			{ID: 4, PatientID: 2, ProviderID: 2, Type: oltp.EncounterTypeInpatient, Date: Day(41)},
			{ID: 5, PatientID: 3, ProviderID: 1, Type: "Outpatient", Date: Day(15)},
			{ID: 6, PatientID: 3, ProviderID: 2, Type: "Outpatient", Date: Day(51)},
			{ID: 7, PatientID: 1, ProviderID: 2, Type: "Emergency", Date: Day(61)},
			{ID: 8, PatientID: 3, ProviderID: 1, Type: "Outpatient", Date: Day(25)},
		},
		Diagnoses: []oltp.Diagnosis{
			{ID: 1, ICD10Code: "I10", Description: "Essential (primary) hypertension"},
			{ID: 2, ICD10Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
			{ID: 3, ICD10Code: "J18.9", Description: "Pneumonia, unspecified organism"},
		},
		Procedures: []oltp.Procedure{
			{ID: 1, CPTCode: "99213", Description: "Office visit, established patient"},
			{ID: 2, CPTCode: "93000", Description: "Electrocardiogram"},
		},
		EncounterDiagnoses: []oltp.EncounterDiagnosis{
			{EncounterID: 1, DiagnosisID: 1},
			{EncounterID: 1, DiagnosisID: 2},
			{EncounterID: 2, DiagnosisID: 1},
			{EncounterID: 3, DiagnosisID: 1},
			{EncounterID: 5, DiagnosisID: 2},
			{EncounterID: 6, DiagnosisID: 3},
		},
		EncounterProcedures: []oltp.EncounterProcedure{
			{EncounterID: 1, ProcedureID: 1},
			{EncounterID: 1, ProcedureID: 2},
			{EncounterID: 2, ProcedureID: 2},
			{EncounterID: 3, ProcedureID: 2},
			{EncounterID: 5, ProcedureID: 1},
		},
		Billing: []oltp.Billing{
			{ID: 1, EncounterID: 1, ClaimDate: Day(12), ClaimAmount: money(t, "1000.00"), AllowedAmount: money(t, "800.00")},
			{ID: 2, EncounterID: 1, ClaimDate: Day(34), ClaimAmount: money(t, "200.00"), AllowedAmount: money(t, "150.00")},
			{ID: 3, EncounterID: 3, ClaimDate: Day(11), ClaimAmount: money(t, "500.00"), AllowedAmount: money(t, "333.33")},
			{ID: 4, EncounterID: 5, ClaimDate: Day(20), ClaimAmount: money(t, "100.00"), AllowedAmount: money(t, "66.67")},
			{ID: 5, EncounterID: 6, ClaimDate: Day(56), ClaimAmount: money(t, "300.00"), AllowedAmount: money(t, "100.01")},
			{ID: 6, EncounterID: 6, ClaimDate: Day(57), ClaimAmount: money(t, "0.00"), AllowedAmount: money(t, "0.00")},
		},
	}
}

// Store loads Fixture into an entity store.
func Store(t testing.TB) *oltp.Store {
	t.Helper()
	s, err := oltp.Load(Fixture(t))
	require.NoError(t, err)
	return s
}
