// Package star holds the dimensional (star schema) model derived from the
// normalized records: dimensions, the encounter fact table, bridge tables
// and a pre-joined encounter detail view.
package star

import (
	"slices"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Store is an immutable materialized star schema. Surrogate keys are dense
// and start at 1, except date keys which are epoch days.
type Store struct {
	dates          []DimDate
	minDateKey     int64
	patients       []DimPatient
	providers      []DimProvider
	encounterTypes []DimEncounterType
	diagnoses      []DimDiagnosis
	procedures     []DimProcedure
	facts          []FactEncounter
	bridgeDiag     []BridgeEncounterDiagnosis
	bridgeProc     []BridgeEncounterProcedure
	details        []EncounterDetail

	patientKeyByID      map[int64]int64
	currentProviderKey  map[int64]int64
	typeKeyByName       map[string]int64
	diagnosisKeyByID    map[int64]int64
	procedureKeyByID    map[int64]int64
	factKeyByEncounter  map[int64]int64
	diagnosisKeysByFact map[int64][]int64
	procedureKeysByFact map[int64][]int64
}

func byKey[T any](table string, rows []T, key int64) (T, error) {
	if key < 1 || key > int64(len(rows)) {
		var zero T
		return zero, &NotFoundError{Table: table, Key: key}
	}
	return rows[key-1], nil
}

// Date returns the dim_date row for a date key.
func (s *Store) Date(key int64) (DimDate, error) {
	i := key - s.minDateKey
	if len(s.dates) == 0 || i < 0 || i >= int64(len(s.dates)) {
		return DimDate{}, &NotFoundError{Table: "dim_date", Key: key}
	}
	return s.dates[i], nil
}

// DateKey returns the key of d. It does not check that d is inside the
// materialized date range; use Date for that.
func DateKey(d oltp.Date) int64 {
	return int64(d.EpochDays())
}

func (s *Store) Patient(key int64) (DimPatient, error) {
	return byKey("dim_patient", s.patients, key)
}

func (s *Store) Provider(key int64) (DimProvider, error) {
	return byKey("dim_provider", s.providers, key)
}

// CurrentProvider returns the current dimension row of a provider id.
func (s *Store) CurrentProvider(providerID int64) (DimProvider, error) {
	key, ok := s.currentProviderKey[providerID]
	if !ok {
		return DimProvider{}, &NotFoundError{Table: "dim_provider", Key: providerID}
	}
	return s.providers[key-1], nil
}

func (s *Store) EncounterType(key int64) (DimEncounterType, error) {
	return byKey("dim_encounter_type", s.encounterTypes, key)
}

func (s *Store) Diagnosis(key int64) (DimDiagnosis, error) {
	return byKey("dim_diagnosis", s.diagnoses, key)
}

func (s *Store) Procedure(key int64) (DimProcedure, error) {
	return byKey("dim_procedure", s.procedures, key)
}

func (s *Store) Fact(key int64) (FactEncounter, error) {
	return byKey("fact_encounters", s.facts, key)
}

// FactByEncounterID finds the fact row of a normalized encounter id.
func (s *Store) FactByEncounterID(encounterID int64) (FactEncounter, error) {
	key, ok := s.factKeyByEncounter[encounterID]
	if !ok {
		return FactEncounter{}, &NotFoundError{Table: "fact_encounters", Key: encounterID}
	}
	return s.facts[key-1], nil
}

// DiagnosesForEncounter resolves the diagnosis bridge of a fact row.
func (s *Store) DiagnosesForEncounter(encounterKey int64) ([]DimDiagnosis, error) {
	if _, err := s.Fact(encounterKey); err != nil {
		return nil, err
	}
	keys := s.diagnosisKeysByFact[encounterKey]
	out := make([]DimDiagnosis, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.diagnoses[k-1])
	}
	return out, nil
}

// ProceduresForEncounter resolves the procedure bridge of a fact row.
func (s *Store) ProceduresForEncounter(encounterKey int64) ([]DimProcedure, error) {
	if _, err := s.Fact(encounterKey); err != nil {
		return nil, err
	}
	keys := s.procedureKeysByFact[encounterKey]
	out := make([]DimProcedure, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.procedures[k-1])
	}
	return out, nil
}

func (s *Store) Dates() []DimDate { return slices.Clone(s.dates) }
func (s *Store) Patients() []DimPatient { return slices.Clone(s.patients) }
func (s *Store) Providers() []DimProvider { return slices.Clone(s.providers) }
func (s *Store) EncounterTypes() []DimEncounterType { return slices.Clone(s.encounterTypes) }
func (s *Store) Diagnoses() []DimDiagnosis { return slices.Clone(s.diagnoses) }
func (s *Store) Procedures() []DimProcedure { return slices.Clone(s.procedures) }
func (s *Store) Facts() []FactEncounter { return slices.Clone(s.facts) }
func (s *Store) Details() []EncounterDetail { return slices.Clone(s.details) }
func (s *Store) BridgeDiagnoses() []BridgeEncounterDiagnosis {
	return slices.Clone(s.bridgeDiag)
}
func (s *Store) BridgeProcedures() []BridgeEncounterProcedure {
	return slices.Clone(s.bridgeProc)
}

// Counts returns the number of rows per table.
func (s *Store) Counts() map[string]int {
	return map[string]int{
		"dim_date":                    len(s.dates),
		"dim_patient":                 len(s.patients),
		"dim_provider":                len(s.providers),
		"dim_encounter_type":          len(s.encounterTypes),
		"dim_diagnosis":               len(s.diagnoses),
		"dim_procedure":               len(s.procedures),
		"fact_encounters":             len(s.facts),
		"bridge_encounter_diagnoses":  len(s.bridgeDiag),
		"bridge_encounter_procedures": len(s.bridgeProc),
	}
}
