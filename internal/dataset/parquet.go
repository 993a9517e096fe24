package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
)

// Parquet row layouts. Dates are ISO strings and amounts are integer cents so
// a round trip is lossless.

type patientRow struct {
	ID        int64   `parquet:"id"`
	FirstName string  `parquet:"first_name"`
	LastName  string  `parquet:"last_name"`
	Gender    string  `parquet:"gender"`
	BirthDate *string `parquet:"birth_date,optional"`
}

type specialtyRow struct {
	ID   int64  `parquet:"id"`
	Name string `parquet:"name"`
}

type providerRow struct {
	ID          int64  `parquet:"id"`
	Name        string `parquet:"name"`
	SpecialtyID int64  `parquet:"specialty_id"`
}

type providerHistoryRow struct {
	ProviderID  int64  `parquet:"provider_id"`
	SpecialtyID int64  `parquet:"specialty_id"`
	ValidFrom   string `parquet:"valid_from"`
	ValidTo     string `parquet:"valid_to"`
}

type encounterRow struct {
	ID            int64   `parquet:"id"`
	PatientID     int64   `parquet:"patient_id"`
	ProviderID    int64   `parquet:"provider_id"`
	Type          string  `parquet:"encounter_type"`
	Date          string  `parquet:"encounter_date"`
	DischargeDate *string `parquet:"discharge_date,optional"`
}

type diagnosisRow struct {
	ID          int64  `parquet:"id"`
	ICD10Code   string `parquet:"icd10_code"`
	Description string `parquet:"description"`
}

type procedureRow struct {
	ID          int64  `parquet:"id"`
	CPTCode     string `parquet:"cpt_code"`
	Description string `parquet:"description"`
}

type encounterDiagnosisRow struct {
	EncounterID int64 `parquet:"encounter_id"`
	DiagnosisID int64 `parquet:"diagnosis_id"`
}

type encounterProcedureRow struct {
	EncounterID int64 `parquet:"encounter_id"`
	ProcedureID int64 `parquet:"procedure_id"`
}

type billingRow struct {
	ID                 int64  `parquet:"id"`
	EncounterID        int64  `parquet:"encounter_id"`
	ClaimDate          string `parquet:"claim_date"`
	ClaimAmountCents   int64  `parquet:"claim_amount_cents"`
	AllowedAmountCents int64  `parquet:"allowed_amount_cents"`
}

// File names of the normalized tables inside a Parquet directory.
const (
	patientsFile            = "patients.parquet"
	specialtiesFile         = "specialties.parquet"
	providersFile           = "providers.parquet"
	providerHistoryFile     = "provider_history.parquet"
	encountersFile          = "encounters.parquet"
	diagnosesFile           = "diagnoses.parquet"
	proceduresFile          = "procedures.parquet"
	encounterDiagnosesFile  = "encounter_diagnoses.parquet"
	encounterProceduresFile = "encounter_procedures.parquet"
	billingFile             = "billing.parquet"
)

const readBatch = 8192

func writeParquet[T any](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	w := parquet.NewGenericWriter[T](file,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("healthstar", "1.0", ""),
	)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			file.Close()
			return fmt.Errorf("write parquet rows %s: %w", filepath.Base(path), err)
		}
	}
	if err := w.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return file.Close()
}

func readParquet[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	out := make([]T, 0, reader.NumRows())
	buf := make([]T, readBatch)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read parquet %s: %w", filepath.Base(path), err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// readOptional is readParquet for tables that may be absent.
func readOptional[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return readParquet[T](path)
}

func dateString(d *oltp.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptDate(s *string) (*oltp.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := oltp.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// WriteParquetDir writes one zstd-compressed Parquet file per entity type
// into dir, creating it if needed.
func WriteParquetDir(dir string, ds oltp.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}

	patients := make([]patientRow, len(ds.Patients))
	for i, p := range ds.Patients {
		patients[i] = patientRow{p.ID, p.FirstName, p.LastName, p.Gender, dateString(p.BirthDate)}
	}
	specialties := make([]specialtyRow, len(ds.Specialties))
	for i, s := range ds.Specialties {
		specialties[i] = specialtyRow{s.ID, s.Name}
	}
	providers := make([]providerRow, len(ds.Providers))
	for i, p := range ds.Providers {
		providers[i] = providerRow{p.ID, p.Name, p.SpecialtyID}
	}
	history := make([]providerHistoryRow, len(ds.ProviderHistory))
	for i, h := range ds.ProviderHistory {
		history[i] = providerHistoryRow{h.ProviderID, h.SpecialtyID, h.ValidFrom.String(), h.ValidTo.String()}
	}
	encounters := make([]encounterRow, len(ds.Encounters))
	for i, e := range ds.Encounters {
		encounters[i] = encounterRow{e.ID, e.PatientID, e.ProviderID, e.Type, e.Date.String(), dateString(e.DischargeDate)}
	}
	diagnoses := make([]diagnosisRow, len(ds.Diagnoses))
	for i, d := range ds.Diagnoses {
		diagnoses[i] = diagnosisRow{d.ID, d.ICD10Code, d.Description}
	}
	procedures := make([]procedureRow, len(ds.Procedures))
	for i, p := range ds.Procedures {
		procedures[i] = procedureRow{p.ID, p.CPTCode, p.Description}
	}
	encDiag := make([]encounterDiagnosisRow, len(ds.EncounterDiagnoses))
	for i, l := range ds.EncounterDiagnoses {
		encDiag[i] = encounterDiagnosisRow{l.EncounterID, l.DiagnosisID}
	}
	encProc := make([]encounterProcedureRow, len(ds.EncounterProcedures))
	for i, l := range ds.EncounterProcedures {
		encProc[i] = encounterProcedureRow{l.EncounterID, l.ProcedureID}
	}
	billing := make([]billingRow, len(ds.Billing))
	for i, b := range ds.Billing {
		billing[i] = billingRow{b.ID, b.EncounterID, b.ClaimDate.String(), b.ClaimAmount.Cents(), b.AllowedAmount.Cents()}
	}

	writes := []func() error{
		func() error { return writeParquet(filepath.Join(dir, patientsFile), patients) },
		func() error { return writeParquet(filepath.Join(dir, specialtiesFile), specialties) },
		func() error { return writeParquet(filepath.Join(dir, providersFile), providers) },
		func() error { return writeParquet(filepath.Join(dir, providerHistoryFile), history) },
		func() error { return writeParquet(filepath.Join(dir, encountersFile), encounters) },
		func() error { return writeParquet(filepath.Join(dir, diagnosesFile), diagnoses) },
		func() error { return writeParquet(filepath.Join(dir, proceduresFile), procedures) },
		func() error { return writeParquet(filepath.Join(dir, encounterDiagnosesFile), encDiag) },
		func() error { return writeParquet(filepath.Join(dir, encounterProceduresFile), encProc) },
		func() error { return writeParquet(filepath.Join(dir, billingFile), billing) },
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

// ParquetDir reads a directory written by WriteParquetDir. The provider
// history file is optional.
type ParquetDir struct {
	Dir string
}

func (p *ParquetDir) String() string { return "parquet:" + p.Dir }

func (p *ParquetDir) Load(ctx context.Context) (oltp.Dataset, error) {
	var ds oltp.Dataset
	path := func(name string) string { return filepath.Join(p.Dir, name) }

	patients, err := readParquet[patientRow](path(patientsFile))
	if err != nil {
		return ds, err
	}
	for _, r := range patients {
		birth, err := parseOptDate(r.BirthDate)
		if err != nil {
			return ds, fmt.Errorf("patient %d: %w", r.ID, err)
		}
		ds.Patients = append(ds.Patients, oltp.Patient{ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, Gender: r.Gender, BirthDate: birth})
	}

	specialties, err := readParquet[specialtyRow](path(specialtiesFile))
	if err != nil {
		return ds, err
	}
	for _, r := range specialties {
		ds.Specialties = append(ds.Specialties, oltp.Specialty{ID: r.ID, Name: r.Name})
	}

	providers, err := readParquet[providerRow](path(providersFile))
	if err != nil {
		return ds, err
	}
	for _, r := range providers {
		ds.Providers = append(ds.Providers, oltp.Provider{ID: r.ID, Name: r.Name, SpecialtyID: r.SpecialtyID})
	}

	history, err := readOptional[providerHistoryRow](path(providerHistoryFile))
	if err != nil {
		return ds, err
	}
	for _, r := range history {
		from, err := oltp.ParseDate(r.ValidFrom)
		if err != nil {
			return ds, fmt.Errorf("provider history %d: %w", r.ProviderID, err)
		}
		to, err := oltp.ParseDate(r.ValidTo)
		if err != nil {
			return ds, fmt.Errorf("provider history %d: %w", r.ProviderID, err)
		}
		ds.ProviderHistory = append(ds.ProviderHistory, oltp.ProviderSpecialtyHistory{ProviderID: r.ProviderID, SpecialtyID: r.SpecialtyID, ValidFrom: from, ValidTo: to})
	}

	if err := ctx.Err(); err != nil {
		return ds, err
	}

	encounters, err := readParquet[encounterRow](path(encountersFile))
	if err != nil {
		return ds, err
	}
	for _, r := range encounters {
		date, err := oltp.ParseDate(r.Date)
		if err != nil {
			return ds, fmt.Errorf("encounter %d: %w", r.ID, err)
		}
		discharge, err := parseOptDate(r.DischargeDate)
		if err != nil {
			return ds, fmt.Errorf("encounter %d: %w", r.ID, err)
		}
		ds.Encounters = append(ds.Encounters, oltp.Encounter{
			ID: r.ID, PatientID: r.PatientID, ProviderID: r.ProviderID, Type: r.Type, Date: date, DischargeDate: discharge,
		})
	}

	diagnoses, err := readParquet[diagnosisRow](path(diagnosesFile))
	if err != nil {
		return ds, err
	}
	for _, r := range diagnoses {
		ds.Diagnoses = append(ds.Diagnoses, oltp.Diagnosis{ID: r.ID, ICD10Code: r.ICD10Code, Description: r.Description})
	}

	procedures, err := readParquet[procedureRow](path(proceduresFile))
	if err != nil {
		return ds, err
	}
	for _, r := range procedures {
		ds.Procedures = append(ds.Procedures, oltp.Procedure{ID: r.ID, CPTCode: r.CPTCode, Description: r.Description})
	}

	encDiag, err := readParquet[encounterDiagnosisRow](path(encounterDiagnosesFile))
	if err != nil {
		return ds, err
	}
	for _, r := range encDiag {
		ds.EncounterDiagnoses = append(ds.EncounterDiagnoses, oltp.EncounterDiagnosis{EncounterID: r.EncounterID, DiagnosisID: r.DiagnosisID})
	}

	encProc, err := readParquet[encounterProcedureRow](path(encounterProceduresFile))
	if err != nil {
		return ds, err
	}
	for _, r := range encProc {
		ds.EncounterProcedures = append(ds.EncounterProcedures, oltp.EncounterProcedure{EncounterID: r.EncounterID, ProcedureID: r.ProcedureID})
	}

	billing, err := readParquet[billingRow](path(billingFile))
	if err != nil {
		return ds, err
	}
	for _, r := range billing {
		claimDate, err := oltp.ParseDate(r.ClaimDate)
		if err != nil {
			return ds, fmt.Errorf("billing %d: %w", r.ID, err)
		}
		ds.Billing = append(ds.Billing, oltp.Billing{
			ID: r.ID, EncounterID: r.EncounterID, ClaimDate: claimDate,
			ClaimAmount: oltp.Money(r.ClaimAmountCents), AllowedAmount: oltp.Money(r.AllowedAmountCents),
		})
	}
	return ds, nil
}

type dimProviderRow struct {
	ProviderKey   int64   `parquet:"provider_key"`
	ProviderID    int64   `parquet:"provider_id"`
	ProviderName  string  `parquet:"provider_name"`
	SpecialtyID   int64   `parquet:"specialty_id"`
	SpecialtyName string  `parquet:"specialty_name"`
	ValidFrom     *string `parquet:"valid_from,optional"`
	ValidTo       *string `parquet:"valid_to,optional"`
	CurrentFlag   bool    `parquet:"current_flag"`
}

type dimDateRow struct {
	DateKey   int64  `parquet:"date_key"`
	Date      string `parquet:"full_date"`
	Year      int32  `parquet:"year"`
	Month     int32  `parquet:"month"`
	YearMonth string `parquet:"year_month"`
}

type dimPatientRow struct {
	PatientKey int64   `parquet:"patient_key"`
	PatientID  int64   `parquet:"patient_id"`
	FirstName  string  `parquet:"first_name"`
	LastName   string  `parquet:"last_name"`
	Gender     string  `parquet:"gender"`
	BirthDate  *string `parquet:"birth_date,optional"`
}

type dimEncounterTypeRow struct {
	EncounterTypeKey int64  `parquet:"encounter_type_key"`
	Name             string `parquet:"encounter_type_name"`
	IsAdmitted       bool   `parquet:"is_admitted"`
}

type dimDiagnosisRow struct {
	DiagnosisKey int64  `parquet:"diagnosis_key"`
	DiagnosisID  int64  `parquet:"diagnosis_id"`
	ICD10Code    string `parquet:"icd10_code"`
	Description  string `parquet:"description"`
}

type dimProcedureRow struct {
	ProcedureKey int64  `parquet:"procedure_key"`
	ProcedureID  int64  `parquet:"procedure_id"`
	CPTCode      string `parquet:"cpt_code"`
	Description  string `parquet:"description"`
}

type factEncounterRow struct {
	EncounterKey            int64  `parquet:"encounter_key"`
	EncounterID             int64  `parquet:"encounter_id"`
	DateKey                 int64  `parquet:"date_key"`
	ProviderKey             int64  `parquet:"provider_key"`
	EncounterTypeKey        int64  `parquet:"encounter_type_key"`
	PatientKey              int64  `parquet:"patient_key"`
	IsAdmitted              bool   `parquet:"is_admitted"`
	DischargeDateKey        *int64 `parquet:"discharge_date_key,optional"`
	HasDiagnoses            bool   `parquet:"has_diagnoses"`
	HasProcedures           bool   `parquet:"has_procedures"`
	DiagnosisCount          int32  `parquet:"diagnosis_count"`
	ProcedureCount          int32  `parquet:"procedure_count"`
	HasBilling              bool   `parquet:"has_billing"`
	ClaimCount              int32  `parquet:"claim_count"`
	BillingDateKey          *int64 `parquet:"billing_date_key,optional"`
	TotalClaimAmountCents   int64  `parquet:"total_claim_amount_cents"`
	TotalAllowedAmountCents int64  `parquet:"total_allowed_amount_cents"`
}

type bridgeDiagnosisRow struct {
	EncounterKey int64 `parquet:"encounter_key"`
	DiagnosisKey int64 `parquet:"diagnosis_key"`
}

type bridgeProcedureRow struct {
	EncounterKey int64 `parquet:"encounter_key"`
	ProcedureKey int64 `parquet:"procedure_key"`
}

// StarTables lists the files ExportStar writes, in dependency order.
var StarTables = []string{
	"dim_date", "dim_patient", "dim_provider", "dim_encounter_type",
	"dim_diagnosis", "dim_procedure", "fact_encounters",
	"bridge_encounter_diagnoses", "bridge_encounter_procedures",
}

// ExportStar writes every table of st as <table>.parquet into dir.
func ExportStar(dir string, st *star.Store) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := func(table string) string { return filepath.Join(dir, table+".parquet") }

	var dates []dimDateRow
	for _, d := range st.Dates() {
		dates = append(dates, dimDateRow{d.DateKey, d.Date.String(), int32(d.Year), int32(d.Month), d.YearMonth})
	}
	var patients []dimPatientRow
	for _, p := range st.Patients() {
		patients = append(patients, dimPatientRow{p.PatientKey, p.PatientID, p.FirstName, p.LastName, p.Gender, dateString(p.BirthDate)})
	}
	var providers []dimProviderRow
	for _, p := range st.Providers() {
		providers = append(providers, dimProviderRow{
			p.ProviderKey, p.ProviderID, p.ProviderName, p.SpecialtyID, p.SpecialtyName,
			dateString(p.ValidFrom), dateString(p.ValidTo), p.CurrentFlag,
		})
	}
	var types []dimEncounterTypeRow
	for _, t := range st.EncounterTypes() {
		types = append(types, dimEncounterTypeRow{t.EncounterTypeKey, t.Name, t.IsAdmitted})
	}
	var diagnoses []dimDiagnosisRow
	for _, d := range st.Diagnoses() {
		diagnoses = append(diagnoses, dimDiagnosisRow{d.DiagnosisKey, d.DiagnosisID, d.ICD10Code, d.Description})
	}
	var procedures []dimProcedureRow
	for _, p := range st.Procedures() {
		procedures = append(procedures, dimProcedureRow{p.ProcedureKey, p.ProcedureID, p.CPTCode, p.Description})
	}
	var facts []factEncounterRow
	for _, f := range st.Facts() {
		facts = append(facts, factEncounterRow{
			EncounterKey:            f.EncounterKey,
			EncounterID:             f.EncounterID,
			DateKey:                 f.DateKey,
			ProviderKey:             f.ProviderKey,
			EncounterTypeKey:        f.EncounterTypeKey,
			PatientKey:              f.PatientKey,
			IsAdmitted:              f.IsAdmitted,
			DischargeDateKey:        f.DischargeDateKey,
			HasDiagnoses:            f.HasDiagnoses,
			HasProcedures:           f.HasProcedures,
			DiagnosisCount:          int32(f.DiagnosisCount),
			ProcedureCount:          int32(f.ProcedureCount),
			HasBilling:              f.HasBilling,
			ClaimCount:              int32(f.ClaimCount),
			BillingDateKey:          f.BillingDateKey,
			TotalClaimAmountCents:   f.TotalClaimAmount.Cents(),
			TotalAllowedAmountCents: f.TotalAllowedAmount.Cents(),
		})
	}
	var bridgeDiag []bridgeDiagnosisRow
	for _, b := range st.BridgeDiagnoses() {
		bridgeDiag = append(bridgeDiag, bridgeDiagnosisRow{b.EncounterKey, b.DiagnosisKey})
	}
	var bridgeProc []bridgeProcedureRow
	for _, b := range st.BridgeProcedures() {
		bridgeProc = append(bridgeProc, bridgeProcedureRow{b.EncounterKey, b.ProcedureKey})
	}

	writes := []func() error{
		func() error { return writeParquet(path("dim_date"), dates) },
		func() error { return writeParquet(path("dim_patient"), patients) },
		func() error { return writeParquet(path("dim_provider"), providers) },
		func() error { return writeParquet(path("dim_encounter_type"), types) },
		func() error { return writeParquet(path("dim_diagnosis"), diagnoses) },
		func() error { return writeParquet(path("dim_procedure"), procedures) },
		func() error { return writeParquet(path("fact_encounters"), facts) },
		func() error { return writeParquet(path("bridge_encounter_diagnoses"), bridgeDiag) },
		func() error { return writeParquet(path("bridge_encounter_procedures"), bridgeProc) },
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}
