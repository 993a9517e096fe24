package oltp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. The wrapped time is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate returns the calendar day y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// DateFromEpochDays is the inverse of EpochDays.
func DateFromEpochDays(n int) Date {
	return Date{time.Unix(int64(n)*86400, 0).UTC()}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

// EpochDays returns the number of days since 1970-01-01.
func (d Date) EpochDays() int {
	return int(d.Unix() / 86400)
}

// AddDays returns the day n days after d.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// YearMonth formats the day as YYYY-MM.
func (d Date) YearMonth() string {
	return d.Format("2006-01")
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Money is an amount in cents. Integer cents keep sums exact, so totals
// computed from claims and from pre-aggregated facts agree to the cent.
type Money int64

// ParseMoney parses a decimal amount with at most two fraction digits.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("amount %q has no digits", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("amount %q is not a decimal number", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	m := Money(w*100 + f)
	if neg {
		m = -m
	}
	return m, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Cents returns the raw number of cents.
func (m Money) Cents() int64 { return int64(m) }

// Float64 is for display and export only.
func (m Money) Float64() float64 { return float64(m) / 100 }

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both 12.5 and "12.50".
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// EncounterTypeInpatient marks an admitted encounter.
const EncounterTypeInpatient = "Inpatient"

type Patient struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Gender    string `json:"gender,omitempty"`
	BirthDate *Date  `json:"birth_date,omitempty"`
}

type Specialty struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Provider struct {
	ID          int64  `json:"id"`
	Name        string `json:"name,omitempty"`
	SpecialtyID int64  `json:"specialty_id"`
}

// ProviderSpecialtyHistory is a past specialty assignment. The provider's
// current assignment is Provider.SpecialtyID.
type ProviderSpecialtyHistory struct {
	ProviderID  int64 `json:"provider_id"`
	SpecialtyID int64 `json:"specialty_id"`
	ValidFrom   Date  `json:"valid_from"`
	ValidTo     Date  `json:"valid_to"`
}

type Encounter struct {
	ID            int64  `json:"id"`
	PatientID     int64  `json:"patient_id"`
	ProviderID    int64  `json:"provider_id"`
	Type          string `json:"type"`
	Date          Date   `json:"date"`
	DischargeDate *Date  `json:"discharge_date,omitempty"`
}

// IsAdmitted reports whether the encounter is an inpatient admission.
func (e Encounter) IsAdmitted() bool {
	return e.Type == EncounterTypeInpatient
}

// IsDischarge reports whether the encounter ended in a recorded discharge.
func (e Encounter) IsDischarge() bool {
	return e.IsAdmitted() && e.DischargeDate != nil
}

type Diagnosis struct {
	ID          int64  `json:"id"`
	ICD10Code   string `json:"icd10_code"`
	Description string `json:"description"`
}

type Procedure struct {
	ID          int64  `json:"id"`
	CPTCode     string `json:"cpt_code"`
	Description string `json:"description"`
}

type EncounterDiagnosis struct {
	EncounterID int64 `json:"encounter_id"`
	DiagnosisID int64 `json:"diagnosis_id"`
}

type EncounterProcedure struct {
	EncounterID int64 `json:"encounter_id"`
	ProcedureID int64 `json:"procedure_id"`
}

type Billing struct {
	ID            int64 `json:"id"`
	EncounterID   int64 `json:"encounter_id"`
	ClaimDate     Date  `json:"claim_date"`
	ClaimAmount   Money `json:"claim_amount"`
	AllowedAmount Money `json:"allowed_amount"`
}

// Dataset is the bulk-load boundary: every entity type mapped to its
// collection of records.
type Dataset struct {
	Patients            []Patient                  `json:"patients"`
	Specialties         []Specialty                `json:"specialties"`
	Providers           []Provider                 `json:"providers"`
	ProviderHistory     []ProviderSpecialtyHistory `json:"provider_history,omitempty"`
	Encounters          []Encounter                `json:"encounters"`
	Diagnoses           []Diagnosis                `json:"diagnoses"`
	Procedures          []Procedure                `json:"procedures"`
	EncounterDiagnoses  []EncounterDiagnosis       `json:"encounter_diagnoses"`
	EncounterProcedures []EncounterProcedure       `json:"encounter_procedures"`
	Billing             []Billing                  `json:"billing"`
}

// Counts returns the number of records per entity type.
func (d *Dataset) Counts() map[string]int {
	return map[string]int{
		"patients":             len(d.Patients),
		"specialties":          len(d.Specialties),
		"providers":            len(d.Providers),
		"provider_history":     len(d.ProviderHistory),
		"encounters":           len(d.Encounters),
		"diagnoses":            len(d.Diagnoses),
		"procedures":           len(d.Procedures),
		"encounter_diagnoses":  len(d.EncounterDiagnoses),
		"encounter_procedures": len(d.EncounterProcedures),
		"billing":              len(d.Billing),
	}
}
