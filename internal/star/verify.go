package star

import (
	"fmt"
	"strconv"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

const maxViolations = 100

// Verify recomputes every derived value of st from src and reports each
// disagreement in an *InvariantViolationError. It checks the pre-aggregated
// fact columns, the current-provider reference of every fact, bridge
// uniqueness and the density of the date dimension.
func Verify(src *oltp.Store, st *Store) error {
	v := &verifier{}

	encounters := src.Encounters()
	if len(st.facts) != len(encounters) {
		v.add(Violation{Table: "fact_encounters", Field: "row_count",
			Want: strconv.Itoa(len(encounters)), Got: strconv.Itoa(len(st.facts))})
	}

	current := make(map[int64]int)
	for _, p := range st.providers {
		if p.CurrentFlag {
			current[p.ProviderID]++
		}
	}
	for _, p := range src.Providers() {
		if n := current[p.ID]; n != 1 {
			v.add(Violation{Table: "dim_provider", Field: fmt.Sprintf("current rows of provider %d", p.ID),
				Want: "1", Got: strconv.Itoa(n)})
		}
	}

	for i, d := range st.dates {
		if want := st.minDateKey + int64(i); d.DateKey != want || DateKey(d.Date) != want {
			v.add(Violation{Table: "dim_date", Field: "date_key",
				Want: strconv.FormatInt(want, 10), Got: strconv.FormatInt(d.DateKey, 10)})
			break
		}
	}

	for _, e := range encounters {
		if v.full() {
			break
		}
		f, err := st.FactByEncounterID(e.ID)
		if err != nil {
			v.add(Violation{Table: "fact_encounters", EncounterID: e.ID, Field: "row", Want: "present", Got: "missing"})
			continue
		}
		if err := v.checkFact(src, st, e, f); err != nil {
			return err
		}
	}

	checkBridge(v, "bridge_encounter_diagnoses", st.bridgeDiag, func(b BridgeEncounterDiagnosis) [2]int64 {
		return [2]int64{b.EncounterKey, b.DiagnosisKey}
	})
	checkBridge(v, "bridge_encounter_procedures", st.bridgeProc, func(b BridgeEncounterProcedure) [2]int64 {
		return [2]int64{b.EncounterKey, b.ProcedureKey}
	})

	if len(v.violations) > 0 {
		return &InvariantViolationError{Violations: v.violations}
	}
	return nil
}

type verifier struct {
	violations []Violation
}

func (v *verifier) add(x Violation) {
	if !v.full() {
		v.violations = append(v.violations, x)
	}
}

func (v *verifier) full() bool { return len(v.violations) >= maxViolations }

func (v *verifier) expect(e oltp.Encounter, field string, want, got any) {
	ws, gs := fmt.Sprint(want), fmt.Sprint(got)
	if ws != gs {
		v.add(Violation{Table: "fact_encounters", EncounterID: e.ID, Field: field, Want: ws, Got: gs})
	}
}

func (v *verifier) checkFact(src *oltp.Store, st *Store, e oltp.Encounter, f FactEncounter) error {
	diags, err := src.DiagnosesForEncounter(e.ID)
	if err != nil {
		return err
	}
	procs, err := src.ProceduresForEncounter(e.ID)
	if err != nil {
		return err
	}
	claims, err := src.BillingForEncounter(e.ID)
	if err != nil {
		return err
	}

	var want FactEncounter
	want.applyClaims(claims)

	v.expect(e, "diagnosis_count", len(diags), f.DiagnosisCount)
	v.expect(e, "has_diagnoses", len(diags) > 0, f.HasDiagnoses)
	v.expect(e, "procedure_count", len(procs), f.ProcedureCount)
	v.expect(e, "has_procedures", len(procs) > 0, f.HasProcedures)
	v.expect(e, "claim_count", want.ClaimCount, f.ClaimCount)
	v.expect(e, "has_billing", want.HasBilling, f.HasBilling)
	v.expect(e, "total_claim_amount", want.TotalClaimAmount, f.TotalClaimAmount)
	v.expect(e, "total_allowed_amount", want.TotalAllowedAmount, f.TotalAllowedAmount)
	v.expect(e, "billing_date_key", optKey(want.BillingDateKey), optKey(f.BillingDateKey))
	v.expect(e, "date_key", DateKey(e.Date), f.DateKey)
	v.expect(e, "is_admitted", e.IsAdmitted(), f.IsAdmitted)

	var wantDischarge *int64
	if e.DischargeDate != nil {
		k := DateKey(*e.DischargeDate)
		wantDischarge = &k
	}
	v.expect(e, "discharge_date_key", optKey(wantDischarge), optKey(f.DischargeDateKey))

	prov, err := st.Provider(f.ProviderKey)
	switch {
	case err != nil:
		v.expect(e, "provider_key", "existing row", err)
	case !prov.CurrentFlag || prov.ProviderID != e.ProviderID:
		v.expect(e, "provider_key", fmt.Sprintf("current row of provider %d", e.ProviderID),
			fmt.Sprintf("provider %d current=%t", prov.ProviderID, prov.CurrentFlag))
	}

	if pat, err := st.Patient(f.PatientKey); err != nil || pat.PatientID != e.PatientID {
		v.expect(e, "patient_key", fmt.Sprintf("patient %d", e.PatientID), fmt.Sprintf("key %d", f.PatientKey))
	}
	if typ, err := st.EncounterType(f.EncounterTypeKey); err != nil || typ.Name != e.Type {
		v.expect(e, "encounter_type_key", e.Type, fmt.Sprintf("key %d", f.EncounterTypeKey))
	}

	bridged := st.diagnosisKeysByFact[f.EncounterKey]
	v.expect(e, "bridge_encounter_diagnoses rows", len(diags), len(bridged))
	for i, d := range diags {
		if i < len(bridged) {
			v.expect(e, "bridge_encounter_diagnoses key", st.diagnosisKeyByID[d.ID], bridged[i])
		}
	}
	bridgedProcs := st.procedureKeysByFact[f.EncounterKey]
	v.expect(e, "bridge_encounter_procedures rows", len(procs), len(bridgedProcs))
	for i, p := range procs {
		if i < len(bridgedProcs) {
			v.expect(e, "bridge_encounter_procedures key", st.procedureKeyByID[p.ID], bridgedProcs[i])
		}
	}
	return nil
}

func optKey(k *int64) string {
	if k == nil {
		return "null"
	}
	return strconv.FormatInt(*k, 10)
}

func checkBridge[T any](v *verifier, table string, rows []T, key func(T) [2]int64) {
	seen := make(map[[2]int64]bool, len(rows))
	for _, r := range rows {
		k := key(r)
		if seen[k] {
			v.add(Violation{Table: table, Field: fmt.Sprintf("(%d,%d)", k[0], k[1]), Want: "unique", Got: "duplicate"})
		}
		seen[k] = true
	}
}
