// Package oltp holds the normalized (third normal form) encounter records.
// It is the source of truth the dimensional model is derived from.
package oltp

import (
	"cmp"
	"fmt"
	"slices"
)

// Store is an immutable, bulk-loaded set of normalized records indexed by
// primary and foreign key. It is safe for concurrent readers.
type Store struct {
	patients    []Patient
	specialties []Specialty
	providers   []Provider
	history     []ProviderSpecialtyHistory
	encounters  []Encounter
	diagnoses   []Diagnosis
	procedures  []Procedure
	encDiag     []EncounterDiagnosis
	encProc     []EncounterProcedure
	billing     []Billing

	patientIdx   map[int64]int
	specialtyIdx map[int64]int
	providerIdx  map[int64]int
	encounterIdx map[int64]int
	diagnosisIdx map[int64]int
	procedureIdx map[int64]int
	billingIdx   map[int64]int

	encountersByPatient   map[int64][]int64
	encountersByProvider  map[int64][]int64
	diagnosesByEncounter  map[int64][]int64
	proceduresByEncounter map[int64][]int64
	billingByEncounter    map[int64][]int64
	historyByProvider     map[int64][]ProviderSpecialtyHistory
}

// Load validates ds and builds a Store from it. ds is copied; later changes
// to it are not observed. Rows are kept in primary key order so that every
// iteration over the store is deterministic.
func Load(ds Dataset) (*Store, error) {
	s := &Store{
		patients:    sortedBy(ds.Patients, func(p Patient) int64 { return p.ID }),
		specialties: sortedBy(ds.Specialties, func(p Specialty) int64 { return p.ID }),
		providers:   sortedBy(ds.Providers, func(p Provider) int64 { return p.ID }),
		encounters:  sortedBy(ds.Encounters, func(e Encounter) int64 { return e.ID }),
		diagnoses:   sortedBy(ds.Diagnoses, func(d Diagnosis) int64 { return d.ID }),
		procedures:  sortedBy(ds.Procedures, func(p Procedure) int64 { return p.ID }),
		billing:     sortedBy(ds.Billing, func(b Billing) int64 { return b.ID }),
	}
	s.history = slices.Clone(ds.ProviderHistory)
	slices.SortStableFunc(s.history, func(a, b ProviderSpecialtyHistory) int {
		return cmp.Or(cmp.Compare(a.ProviderID, b.ProviderID), a.ValidFrom.Compare(b.ValidFrom.Time))
	})
	s.encDiag = slices.Clone(ds.EncounterDiagnoses)
	slices.SortFunc(s.encDiag, func(a, b EncounterDiagnosis) int {
		return cmp.Or(cmp.Compare(a.EncounterID, b.EncounterID), cmp.Compare(a.DiagnosisID, b.DiagnosisID))
	})
	s.encProc = slices.Clone(ds.EncounterProcedures)
	slices.SortFunc(s.encProc, func(a, b EncounterProcedure) int {
		return cmp.Or(cmp.Compare(a.EncounterID, b.EncounterID), cmp.Compare(a.ProcedureID, b.ProcedureID))
	})

	var err error
	if s.patientIdx, err = index("patient", s.patients, func(p Patient) int64 { return p.ID }); err != nil {
		return nil, err
	}
	if s.specialtyIdx, err = index("specialty", s.specialties, func(p Specialty) int64 { return p.ID }); err != nil {
		return nil, err
	}
	if s.providerIdx, err = index("provider", s.providers, func(p Provider) int64 { return p.ID }); err != nil {
		return nil, err
	}
	if s.encounterIdx, err = index("encounter", s.encounters, func(e Encounter) int64 { return e.ID }); err != nil {
		return nil, err
	}
	if s.diagnosisIdx, err = index("diagnosis", s.diagnoses, func(d Diagnosis) int64 { return d.ID }); err != nil {
		return nil, err
	}
	if s.procedureIdx, err = index("procedure", s.procedures, func(p Procedure) int64 { return p.ID }); err != nil {
		return nil, err
	}
	if s.billingIdx, err = index("billing", s.billing, func(b Billing) int64 { return b.ID }); err != nil {
		return nil, err
	}

	if err := s.checkCodes(); err != nil {
		return nil, err
	}
	if err := s.linkProviders(); err != nil {
		return nil, err
	}
	if err := s.linkEncounters(); err != nil {
		return nil, err
	}
	if err := s.linkChildren(); err != nil {
		return nil, err
	}
	return s, nil
}

func sortedBy[T any](rows []T, key func(T) int64) []T {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b T) int { return cmp.Compare(key(a), key(b)) })
	return out
}

func index[T any](entity string, rows []T, key func(T) int64) (map[int64]int, error) {
	idx := make(map[int64]int, len(rows))
	for i, r := range rows {
		id := key(r)
		if _, dup := idx[id]; dup {
			return nil, &DuplicateKeyError{Entity: entity, Key: fmt.Sprintf("id=%d", id)}
		}
		idx[id] = i
	}
	return idx, nil
}

// checkCodes enforces unique business codes. Query results are keyed and
// ordered by code, so two rows sharing a code would make them ambiguous.
func (s *Store) checkCodes() error {
	seen := make(map[string]bool, len(s.diagnoses))
	for _, d := range s.diagnoses {
		if d.ICD10Code == "" {
			return &InvalidRecordError{Entity: "diagnosis", ID: d.ID, Reason: "empty icd10_code"}
		}
		if seen[d.ICD10Code] {
			return &DuplicateKeyError{Entity: "diagnosis", Key: "icd10_code=" + d.ICD10Code}
		}
		seen[d.ICD10Code] = true
	}
	clear(seen)
	for _, p := range s.procedures {
		if p.CPTCode == "" {
			return &InvalidRecordError{Entity: "procedure", ID: p.ID, Reason: "empty cpt_code"}
		}
		if seen[p.CPTCode] {
			return &DuplicateKeyError{Entity: "procedure", Key: "cpt_code=" + p.CPTCode}
		}
		seen[p.CPTCode] = true
	}
	return nil
}

func (s *Store) linkProviders() error {
	for _, p := range s.providers {
		if _, ok := s.specialtyIdx[p.SpecialtyID]; !ok {
			return &ReferentialIntegrityError{Entity: "provider", ID: p.ID, Field: "specialty_id", Ref: "specialty", RefID: p.SpecialtyID}
		}
	}
	s.historyByProvider = make(map[int64][]ProviderSpecialtyHistory)
	for _, h := range s.history {
		if _, ok := s.providerIdx[h.ProviderID]; !ok {
			return &ReferentialIntegrityError{Entity: "provider_history", ID: h.ProviderID, Field: "provider_id", Ref: "provider", RefID: h.ProviderID}
		}
		if _, ok := s.specialtyIdx[h.SpecialtyID]; !ok {
			return &ReferentialIntegrityError{Entity: "provider_history", ID: h.ProviderID, Field: "specialty_id", Ref: "specialty", RefID: h.SpecialtyID}
		}
		if h.ValidTo.Before(h.ValidFrom.Time) {
			return &InvalidRecordError{Entity: "provider_history", ID: h.ProviderID, Reason: "valid_to before valid_from"}
		}
		s.historyByProvider[h.ProviderID] = append(s.historyByProvider[h.ProviderID], h)
	}
	return nil
}

func (s *Store) linkEncounters() error {
	s.encountersByPatient = make(map[int64][]int64)
	s.encountersByProvider = make(map[int64][]int64)
	for _, e := range s.encounters {
		if _, ok := s.patientIdx[e.PatientID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter", ID: e.ID, Field: "patient_id", Ref: "patient", RefID: e.PatientID}
		}
		if _, ok := s.providerIdx[e.ProviderID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter", ID: e.ID, Field: "provider_id", Ref: "provider", RefID: e.ProviderID}
		}
		if e.Type == "" {
			return &InvalidRecordError{Entity: "encounter", ID: e.ID, Reason: "empty encounter type"}
		}
		if e.DischargeDate != nil && e.DischargeDate.Before(e.Date.Time) {
			return &InvalidRecordError{Entity: "encounter", ID: e.ID, Reason: "discharge_date before encounter date"}
		}
		s.encountersByPatient[e.PatientID] = append(s.encountersByPatient[e.PatientID], e.ID)
		s.encountersByProvider[e.ProviderID] = append(s.encountersByProvider[e.ProviderID], e.ID)
	}
	return nil
}

func (s *Store) linkChildren() error {
	s.diagnosesByEncounter = make(map[int64][]int64)
	for i, l := range s.encDiag {
		if _, ok := s.encounterIdx[l.EncounterID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter_diagnosis", ID: l.EncounterID, Field: "encounter_id", Ref: "encounter", RefID: l.EncounterID}
		}
		if _, ok := s.diagnosisIdx[l.DiagnosisID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter_diagnosis", ID: l.EncounterID, Field: "diagnosis_id", Ref: "diagnosis", RefID: l.DiagnosisID}
		}
		if i > 0 && s.encDiag[i-1] == l {
			return &DuplicateKeyError{Entity: "encounter_diagnosis", Key: fmt.Sprintf("(%d,%d)", l.EncounterID, l.DiagnosisID)}
		}
		s.diagnosesByEncounter[l.EncounterID] = append(s.diagnosesByEncounter[l.EncounterID], l.DiagnosisID)
	}

	s.proceduresByEncounter = make(map[int64][]int64)
	for i, l := range s.encProc {
		if _, ok := s.encounterIdx[l.EncounterID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter_procedure", ID: l.EncounterID, Field: "encounter_id", Ref: "encounter", RefID: l.EncounterID}
		}
		if _, ok := s.procedureIdx[l.ProcedureID]; !ok {
			return &ReferentialIntegrityError{Entity: "encounter_procedure", ID: l.EncounterID, Field: "procedure_id", Ref: "procedure", RefID: l.ProcedureID}
		}
		if i > 0 && s.encProc[i-1] == l {
			return &DuplicateKeyError{Entity: "encounter_procedure", Key: fmt.Sprintf("(%d,%d)", l.EncounterID, l.ProcedureID)}
		}
		s.proceduresByEncounter[l.EncounterID] = append(s.proceduresByEncounter[l.EncounterID], l.ProcedureID)
	}

	s.billingByEncounter = make(map[int64][]int64)
	for _, b := range s.billing {
		if _, ok := s.encounterIdx[b.EncounterID]; !ok {
			return &ReferentialIntegrityError{Entity: "billing", ID: b.ID, Field: "encounter_id", Ref: "encounter", RefID: b.EncounterID}
		}
		if b.ClaimAmount < 0 || b.AllowedAmount < 0 {
			return &InvalidRecordError{Entity: "billing", ID: b.ID, Reason: "negative amount"}
		}
		s.billingByEncounter[b.EncounterID] = append(s.billingByEncounter[b.EncounterID], b.ID)
	}
	return nil
}

func lookup[T any](entity string, rows []T, idx map[int64]int, id int64) (T, error) {
	i, ok := idx[id]
	if !ok {
		var zero T
		return zero, &NotFoundError{Entity: entity, ID: id}
	}
	return rows[i], nil
}

func (s *Store) Patient(id int64) (Patient, error) {
	return lookup("patient", s.patients, s.patientIdx, id)
}

func (s *Store) Specialty(id int64) (Specialty, error) {
	return lookup("specialty", s.specialties, s.specialtyIdx, id)
}

func (s *Store) Provider(id int64) (Provider, error) {
	return lookup("provider", s.providers, s.providerIdx, id)
}

func (s *Store) Encounter(id int64) (Encounter, error) {
	return lookup("encounter", s.encounters, s.encounterIdx, id)
}

func (s *Store) Diagnosis(id int64) (Diagnosis, error) {
	return lookup("diagnosis", s.diagnoses, s.diagnosisIdx, id)
}

func (s *Store) Procedure(id int64) (Procedure, error) {
	return lookup("procedure", s.procedures, s.procedureIdx, id)
}

func (s *Store) Billing(id int64) (Billing, error) {
	return lookup("billing", s.billing, s.billingIdx, id)
}

// ProviderSpecialty resolves the provider's current specialty.
func (s *Store) ProviderSpecialty(providerID int64) (Specialty, error) {
	p, err := s.Provider(providerID)
	if err != nil {
		return Specialty{}, err
	}
	return s.Specialty(p.SpecialtyID)
}

// EncountersByPatient returns the patient's encounters in id order.
func (s *Store) EncountersByPatient(patientID int64) ([]Encounter, error) {
	if _, ok := s.patientIdx[patientID]; !ok {
		return nil, &NotFoundError{Entity: "patient", ID: patientID}
	}
	return s.resolveEncounters(s.encountersByPatient[patientID]), nil
}

// EncountersByProvider returns the provider's encounters in id order.
func (s *Store) EncountersByProvider(providerID int64) ([]Encounter, error) {
	if _, ok := s.providerIdx[providerID]; !ok {
		return nil, &NotFoundError{Entity: "provider", ID: providerID}
	}
	return s.resolveEncounters(s.encountersByProvider[providerID]), nil
}

func (s *Store) resolveEncounters(ids []int64) []Encounter {
	out := make([]Encounter, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.encounters[s.encounterIdx[id]])
	}
	return out
}

// DiagnosesForEncounter returns the diagnoses linked to an encounter,
// ordered by diagnosis id.
func (s *Store) DiagnosesForEncounter(encounterID int64) ([]Diagnosis, error) {
	if _, ok := s.encounterIdx[encounterID]; !ok {
		return nil, &NotFoundError{Entity: "encounter", ID: encounterID}
	}
	ids := s.diagnosesByEncounter[encounterID]
	out := make([]Diagnosis, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.diagnoses[s.diagnosisIdx[id]])
	}
	return out, nil
}

// ProceduresForEncounter returns the procedures linked to an encounter,
// ordered by procedure id.
func (s *Store) ProceduresForEncounter(encounterID int64) ([]Procedure, error) {
	if _, ok := s.encounterIdx[encounterID]; !ok {
		return nil, &NotFoundError{Entity: "encounter", ID: encounterID}
	}
	ids := s.proceduresByEncounter[encounterID]
	out := make([]Procedure, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.procedures[s.procedureIdx[id]])
	}
	return out, nil
}

// BillingForEncounter returns the claims of an encounter in id order.
func (s *Store) BillingForEncounter(encounterID int64) ([]Billing, error) {
	if _, ok := s.encounterIdx[encounterID]; !ok {
		return nil, &NotFoundError{Entity: "encounter", ID: encounterID}
	}
	ids := s.billingByEncounter[encounterID]
	out := make([]Billing, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.billing[s.billingIdx[id]])
	}
	return out, nil
}

// ProviderHistory returns past specialty assignments ordered by valid_from.
func (s *Store) ProviderHistory(providerID int64) ([]ProviderSpecialtyHistory, error) {
	if _, ok := s.providerIdx[providerID]; !ok {
		return nil, &NotFoundError{Entity: "provider", ID: providerID}
	}
	return slices.Clone(s.historyByProvider[providerID]), nil
}

// The iteration accessors below return copies in primary key order.

func (s *Store) Patients() []Patient { return slices.Clone(s.patients) }
func (s *Store) Specialties() []Specialty { return slices.Clone(s.specialties) }
func (s *Store) Providers() []Provider { return slices.Clone(s.providers) }
func (s *Store) Encounters() []Encounter { return slices.Clone(s.encounters) }
func (s *Store) Diagnoses() []Diagnosis { return slices.Clone(s.diagnoses) }
func (s *Store) Procedures() []Procedure { return slices.Clone(s.procedures) }
func (s *Store) AllBilling() []Billing { return slices.Clone(s.billing) }
func (s *Store) EncounterDiagnoses() []EncounterDiagnosis {
	return slices.Clone(s.encDiag)
}
func (s *Store) EncounterProcedures() []EncounterProcedure {
	return slices.Clone(s.encProc)
}

// Dataset exports the loaded records, sorted, in bulk-load form.
func (s *Store) Dataset() Dataset {
	return Dataset{
		Patients:            s.Patients(),
		Specialties:         s.Specialties(),
		Providers:           s.Providers(),
		ProviderHistory:     slices.Clone(s.history),
		Encounters:          s.Encounters(),
		Diagnoses:           s.Diagnoses(),
		Procedures:          s.Procedures(),
		EncounterDiagnoses:  s.EncounterDiagnoses(),
		EncounterProcedures: s.EncounterProcedures(),
		Billing:             s.AllBilling(),
	}
}
