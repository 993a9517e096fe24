package star

import "github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"

// DimDate is one calendar day. DateKey is the number of days since
// 1970-01-01, so keys are dense and key arithmetic is day arithmetic.
type DimDate struct {
	DateKey   int64     `json:"date_key"`
	Date      oltp.Date `json:"date"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	YearMonth string    `json:"year_month"`
}

type DimPatient struct {
	PatientKey int64      `json:"patient_key"`
	PatientID  int64      `json:"patient_id"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	Gender     string     `json:"gender,omitempty"`
	BirthDate  *oltp.Date `json:"birth_date,omitempty"`
}

// DimProvider is a type 2 slowly changing dimension row. Exactly one row per
// provider has CurrentFlag set; facts always reference that row.
type DimProvider struct {
	ProviderKey   int64      `json:"provider_key"`
	ProviderID    int64      `json:"provider_id"`
	ProviderName  string     `json:"provider_name,omitempty"`
	SpecialtyID   int64      `json:"specialty_id"`
	SpecialtyName string     `json:"specialty_name"`
	ValidFrom     *oltp.Date `json:"valid_from,omitempty"`
	ValidTo       *oltp.Date `json:"valid_to,omitempty"`
	CurrentFlag   bool       `json:"current_flag"`
}

type DimEncounterType struct {
	EncounterTypeKey int64  `json:"encounter_type_key"`
	Name             string `json:"name"`
	IsAdmitted       bool   `json:"is_admitted"`
}

type DimDiagnosis struct {
	DiagnosisKey int64  `json:"diagnosis_key"`
	DiagnosisID  int64  `json:"diagnosis_id"`
	ICD10Code    string `json:"icd10_code"`
	Description  string `json:"description"`
}

type DimProcedure struct {
	ProcedureKey int64  `json:"procedure_key"`
	ProcedureID  int64  `json:"procedure_id"`
	CPTCode      string `json:"cpt_code"`
	Description  string `json:"description"`
}

// FactEncounter is one row of fact_encounters, one per encounter. The
// count and amount columns are pre-aggregated from the normalized children
// and must always agree with them (see Verify).
type FactEncounter struct {
	EncounterKey       int64      `json:"encounter_key"`
	EncounterID        int64      `json:"encounter_id"`
	DateKey            int64      `json:"date_key"`
	ProviderKey        int64      `json:"provider_key"`
	EncounterTypeKey   int64      `json:"encounter_type_key"`
	PatientKey         int64      `json:"patient_key"`
	IsAdmitted         bool       `json:"is_admitted"`
	DischargeDateKey   *int64     `json:"discharge_date_key,omitempty"`
	HasDiagnoses       bool       `json:"has_diagnoses"`
	HasProcedures      bool       `json:"has_procedures"`
	DiagnosisCount     int        `json:"diagnosis_count"`
	ProcedureCount     int        `json:"procedure_count"`
	HasBilling         bool       `json:"has_billing"`
	ClaimCount         int        `json:"claim_count"`
	BillingDateKey     *int64     `json:"billing_date_key,omitempty"`
	TotalClaimAmount   oltp.Money `json:"total_claim_amount"`
	TotalAllowedAmount oltp.Money `json:"total_allowed_amount"`
}

type BridgeEncounterDiagnosis struct {
	EncounterKey int64 `json:"encounter_key"`
	DiagnosisKey int64 `json:"diagnosis_key"`
}

type BridgeEncounterProcedure struct {
	EncounterKey int64 `json:"encounter_key"`
	ProcedureKey int64 `json:"procedure_key"`
}

// EncounterDetail is the pre-joined projection of a fact row with its date,
// provider, type and patient dimensions.
type EncounterDetail struct {
	EncounterKey       int64      `json:"encounter_key"`
	EncounterID        int64      `json:"encounter_id"`
	Date               oltp.Date  `json:"date"`
	YearMonth          string     `json:"year_month"`
	PatientKey         int64      `json:"patient_key"`
	PatientID          int64      `json:"patient_id"`
	ProviderKey        int64      `json:"provider_key"`
	ProviderID         int64      `json:"provider_id"`
	SpecialtyName      string     `json:"specialty_name"`
	EncounterType      string     `json:"encounter_type"`
	IsAdmitted         bool       `json:"is_admitted"`
	DischargeDate      *oltp.Date `json:"discharge_date,omitempty"`
	DiagnosisCount     int        `json:"diagnosis_count"`
	ProcedureCount     int        `json:"procedure_count"`
	ClaimCount         int        `json:"claim_count"`
	TotalClaimAmount   oltp.Money `json:"total_claim_amount"`
	TotalAllowedAmount oltp.Money `json:"total_allowed_amount"`
}
