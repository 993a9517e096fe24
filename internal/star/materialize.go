package star

import (
	"fmt"
	"slices"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Materialize derives the full star schema from the normalized store. It is
// a full recompute: the same entity store always yields an identical Store.
// The result is checked with Verify before it is returned.
func Materialize(src *oltp.Store) (*Store, error) {
	s := &Store{
		patientKeyByID:      make(map[int64]int64),
		currentProviderKey:  make(map[int64]int64),
		typeKeyByName:       make(map[string]int64),
		diagnosisKeyByID:    make(map[int64]int64),
		procedureKeyByID:    make(map[int64]int64),
		factKeyByEncounter:  make(map[int64]int64),
		diagnosisKeysByFact: make(map[int64][]int64),
		procedureKeysByFact: make(map[int64][]int64),
	}

	encounters := src.Encounters()

	s.buildDates(src, encounters)
	s.buildPatients(src)
	if err := s.buildProviders(src); err != nil {
		return nil, err
	}
	s.buildEncounterTypes(encounters)
	s.buildCodes(src)
	if err := s.buildFacts(src, encounters); err != nil {
		return nil, err
	}
	if err := s.buildDetails(); err != nil {
		return nil, err
	}

	if err := Verify(src, s); err != nil {
		return nil, err
	}
	return s, nil
}

// buildDates emits one row per day between the earliest and the latest date
// any fact references, with no gaps.
func (s *Store) buildDates(src *oltp.Store, encounters []oltp.Encounter) {
	var lo, hi int64
	seen := false
	observe := func(d oltp.Date) {
		k := DateKey(d)
		if !seen || k < lo {
			lo = k
		}
		if !seen || k > hi {
			hi = k
		}
		seen = true
	}
	for _, e := range encounters {
		observe(e.Date)
		if e.DischargeDate != nil {
			observe(*e.DischargeDate)
		}
	}
	for _, b := range src.AllBilling() {
		observe(b.ClaimDate)
	}
	if !seen {
		return
	}

	s.minDateKey = lo
	s.dates = make([]DimDate, 0, hi-lo+1)
	for k := lo; k <= hi; k++ {
		d := oltp.DateFromEpochDays(int(k))
		s.dates = append(s.dates, DimDate{
			DateKey:   k,
			Date:      d,
			Year:      d.Year(),
			Month:     int(d.Month()),
			YearMonth: d.YearMonth(),
		})
	}
}

func (s *Store) buildPatients(src *oltp.Store) {
	for _, p := range src.Patients() {
		key := int64(len(s.patients) + 1)
		s.patients = append(s.patients, DimPatient{
			PatientKey: key,
			PatientID:  p.ID,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Gender:     p.Gender,
			BirthDate:  p.BirthDate,
		})
		s.patientKeyByID[p.ID] = key
	}
}

// buildProviders emits the provider history as closed, non-current rows
// followed by one current row per provider.
func (s *Store) buildProviders(src *oltp.Store) error {
	for _, p := range src.Providers() {
		history, err := src.ProviderHistory(p.ID)
		if err != nil {
			return err
		}
		var currentFrom *oltp.Date
		for _, h := range history {
			spec, err := src.Specialty(h.SpecialtyID)
			if err != nil {
				return err
			}
			from, to := h.ValidFrom, h.ValidTo
			s.providers = append(s.providers, DimProvider{
				ProviderKey:   int64(len(s.providers) + 1),
				ProviderID:    p.ID,
				ProviderName:  p.Name,
				SpecialtyID:   spec.ID,
				SpecialtyName: spec.Name,
				ValidFrom:     &from,
				ValidTo:       &to,
			})
			next := to.AddDays(1)
			currentFrom = &next
		}

		spec, err := src.Specialty(p.SpecialtyID)
		if err != nil {
			return err
		}
		key := int64(len(s.providers) + 1)
		s.providers = append(s.providers, DimProvider{
			ProviderKey:   key,
			ProviderID:    p.ID,
			ProviderName:  p.Name,
			SpecialtyID:   spec.ID,
			SpecialtyName: spec.Name,
			ValidFrom:     currentFrom,
			CurrentFlag:   true,
		})
		s.currentProviderKey[p.ID] = key
	}
	return nil
}

func (s *Store) buildEncounterTypes(encounters []oltp.Encounter) {
	var names []string
	for _, e := range encounters {
		names = append(names, e.Type)
	}
	slices.Sort(names)
	names = slices.Compact(names)
	for _, name := range names {
		key := int64(len(s.encounterTypes) + 1)
		s.encounterTypes = append(s.encounterTypes, DimEncounterType{
			EncounterTypeKey: key,
			Name:             name,
			IsAdmitted:       name == oltp.EncounterTypeInpatient,
		})
		s.typeKeyByName[name] = key
	}
}

func (s *Store) buildCodes(src *oltp.Store) {
	for _, d := range src.Diagnoses() {
		key := int64(len(s.diagnoses) + 1)
		s.diagnoses = append(s.diagnoses, DimDiagnosis{
			DiagnosisKey: key,
			DiagnosisID:  d.ID,
			ICD10Code:    d.ICD10Code,
			Description:  d.Description,
		})
		s.diagnosisKeyByID[d.ID] = key
	}
	for _, p := range src.Procedures() {
		key := int64(len(s.procedures) + 1)
		s.procedures = append(s.procedures, DimProcedure{
			ProcedureKey: key,
			ProcedureID:  p.ID,
			CPTCode:      p.CPTCode,
			Description:  p.Description,
		})
		s.procedureKeyByID[p.ID] = key
	}
}

func (s *Store) buildFacts(src *oltp.Store, encounters []oltp.Encounter) error {
	for _, e := range encounters {
		key := int64(len(s.facts) + 1)
		f := FactEncounter{
			EncounterKey:     key,
			EncounterID:      e.ID,
			DateKey:          DateKey(e.Date),
			ProviderKey:      s.currentProviderKey[e.ProviderID],
			EncounterTypeKey: s.typeKeyByName[e.Type],
			PatientKey:       s.patientKeyByID[e.PatientID],
			IsAdmitted:       e.IsAdmitted(),
		}
		if e.DischargeDate != nil {
			k := DateKey(*e.DischargeDate)
			f.DischargeDateKey = &k
		}

		diags, err := src.DiagnosesForEncounter(e.ID)
		if err != nil {
			return fmt.Errorf("materialize encounter %d: %w", e.ID, err)
		}
		for _, d := range diags {
			dk := s.diagnosisKeyByID[d.ID]
			s.bridgeDiag = append(s.bridgeDiag, BridgeEncounterDiagnosis{EncounterKey: key, DiagnosisKey: dk})
			s.diagnosisKeysByFact[key] = append(s.diagnosisKeysByFact[key], dk)
		}
		f.DiagnosisCount = len(diags)
		f.HasDiagnoses = len(diags) > 0

		procs, err := src.ProceduresForEncounter(e.ID)
		if err != nil {
			return fmt.Errorf("materialize encounter %d: %w", e.ID, err)
		}
		for _, p := range procs {
			pk := s.procedureKeyByID[p.ID]
			s.bridgeProc = append(s.bridgeProc, BridgeEncounterProcedure{EncounterKey: key, ProcedureKey: pk})
			s.procedureKeysByFact[key] = append(s.procedureKeysByFact[key], pk)
		}
		f.ProcedureCount = len(procs)
		f.HasProcedures = len(procs) > 0

		claims, err := src.BillingForEncounter(e.ID)
		if err != nil {
			return fmt.Errorf("materialize encounter %d: %w", e.ID, err)
		}
		f.applyClaims(claims)

		s.facts = append(s.facts, f)
		s.factKeyByEncounter[e.ID] = key
	}
	return nil
}

// applyClaims rolls the encounter's claims up into the fact row.
func (f *FactEncounter) applyClaims(claims []oltp.Billing) {
	f.ClaimCount = len(claims)
	f.HasBilling = len(claims) > 0
	f.TotalClaimAmount, f.TotalAllowedAmount = 0, 0
	f.BillingDateKey = nil
	for _, b := range claims {
		f.TotalClaimAmount += b.ClaimAmount
		f.TotalAllowedAmount += b.AllowedAmount
		k := DateKey(b.ClaimDate)
		if f.BillingDateKey == nil || k < *f.BillingDateKey {
			f.BillingDateKey = &k
		}
	}
}

func (s *Store) buildDetails() error {
	s.details = make([]EncounterDetail, 0, len(s.facts))
	for _, f := range s.facts {
		date, err := s.Date(f.DateKey)
		if err != nil {
			return err
		}
		prov, err := s.Provider(f.ProviderKey)
		if err != nil {
			return err
		}
		typ, err := s.EncounterType(f.EncounterTypeKey)
		if err != nil {
			return err
		}
		pat, err := s.Patient(f.PatientKey)
		if err != nil {
			return err
		}
		d := EncounterDetail{
			EncounterKey:       f.EncounterKey,
			EncounterID:        f.EncounterID,
			Date:               date.Date,
			YearMonth:          date.YearMonth,
			PatientKey:         pat.PatientKey,
			PatientID:          pat.PatientID,
			ProviderKey:        prov.ProviderKey,
			ProviderID:         prov.ProviderID,
			SpecialtyName:      prov.SpecialtyName,
			EncounterType:      typ.Name,
			IsAdmitted:         f.IsAdmitted,
			DiagnosisCount:     f.DiagnosisCount,
			ProcedureCount:     f.ProcedureCount,
			ClaimCount:         f.ClaimCount,
			TotalClaimAmount:   f.TotalClaimAmount,
			TotalAllowedAmount: f.TotalAllowedAmount,
		}
		if f.DischargeDateKey != nil {
			dd, err := s.Date(*f.DischargeDateKey)
			if err != nil {
				return err
			}
			d.DischargeDate = &dd.Date
		}
		s.details = append(s.details, d)
	}
	return nil
}
