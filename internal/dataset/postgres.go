package dataset

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Schema is the DDL of the normalized PostgreSQL schema.
//
//go:embed schema.sql
var Schema string

// NewPool opens a pgx pool and checks connectivity.
func NewPool(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the normalized tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Postgres reads the normalized tables of a PostgreSQL database. The pool
// is opened on every Load and closed before it returns, unless Pool is set.
type Postgres struct {
	ConnString string
	Pool       *pgxpool.Pool
}

func (p *Postgres) String() string { return "postgres" }

func (p *Postgres) Load(ctx context.Context) (oltp.Dataset, error) {
	pool := p.Pool
	if pool == nil {
		var err error
		if pool, err = NewPool(ctx, p.ConnString, 4); err != nil {
			return oltp.Dataset{}, err
		}
		defer pool.Close()
	}

	// One repeatable-read transaction, so all tables come from the same
	// snapshot of the database.
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return oltp.Dataset{}, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback(ctx)

	var ds oltp.Dataset
	if ds.Specialties, err = collect(ctx, tx,
		`SELECT specialty_id, specialty_name FROM specialties ORDER BY specialty_id`,
		func(row pgx.CollectableRow) (s oltp.Specialty, err error) {
			err = row.Scan(&s.ID, &s.Name)
			return s, err
		}); err != nil {
		return ds, err
	}
	if ds.Patients, err = collect(ctx, tx,
		`SELECT patient_id, first_name, last_name, gender, birth_date FROM patients ORDER BY patient_id`,
		func(row pgx.CollectableRow) (p oltp.Patient, err error) {
			var birth pgtype.Date
			if err = row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Gender, &birth); err != nil {
				return p, err
			}
			p.BirthDate = optDate(birth)
			return p, nil
		}); err != nil {
		return ds, err
	}
	if ds.Providers, err = collect(ctx, tx,
		`SELECT provider_id, provider_name, specialty_id FROM providers ORDER BY provider_id`,
		func(row pgx.CollectableRow) (p oltp.Provider, err error) {
			err = row.Scan(&p.ID, &p.Name, &p.SpecialtyID)
			return p, err
		}); err != nil {
		return ds, err
	}
	if ds.ProviderHistory, err = collect(ctx, tx,
		`SELECT provider_id, specialty_id, valid_from, valid_to
		 FROM provider_specialty_history ORDER BY provider_id, valid_from`,
		func(row pgx.CollectableRow) (h oltp.ProviderSpecialtyHistory, err error) {
			var from, to time.Time
			if err = row.Scan(&h.ProviderID, &h.SpecialtyID, &from, &to); err != nil {
				return h, err
			}
			h.ValidFrom, h.ValidTo = oltp.DateOf(from), oltp.DateOf(to)
			return h, nil
		}); err != nil {
		return ds, err
	}
	if ds.Encounters, err = collect(ctx, tx,
		`SELECT encounter_id, patient_id, provider_id, encounter_type, encounter_date, discharge_date
		 FROM encounters ORDER BY encounter_id`,
		func(row pgx.CollectableRow) (e oltp.Encounter, err error) {
			var date time.Time
			var discharge pgtype.Date
			if err = row.Scan(&e.ID, &e.PatientID, &e.ProviderID, &e.Type, &date, &discharge); err != nil {
				return e, err
			}
			e.Date = oltp.DateOf(date)
			e.DischargeDate = optDate(discharge)
			return e, nil
		}); err != nil {
		return ds, err
	}
	if ds.Diagnoses, err = collect(ctx, tx,
		`SELECT diagnosis_id, icd10_code, description FROM diagnoses ORDER BY diagnosis_id`,
		func(row pgx.CollectableRow) (d oltp.Diagnosis, err error) {
			err = row.Scan(&d.ID, &d.ICD10Code, &d.Description)
			return d, err
		}); err != nil {
		return ds, err
	}
	if ds.Procedures, err = collect(ctx, tx,
		`SELECT procedure_id, cpt_code, description FROM procedures ORDER BY procedure_id`,
		func(row pgx.CollectableRow) (p oltp.Procedure, err error) {
			err = row.Scan(&p.ID, &p.CPTCode, &p.Description)
			return p, err
		}); err != nil {
		return ds, err
	}
	if ds.EncounterDiagnoses, err = collect(ctx, tx,
		`SELECT encounter_id, diagnosis_id FROM encounter_diagnoses ORDER BY encounter_id, diagnosis_id`,
		func(row pgx.CollectableRow) (l oltp.EncounterDiagnosis, err error) {
			err = row.Scan(&l.EncounterID, &l.DiagnosisID)
			return l, err
		}); err != nil {
		return ds, err
	}
	if ds.EncounterProcedures, err = collect(ctx, tx,
		`SELECT encounter_id, procedure_id FROM encounter_procedures ORDER BY encounter_id, procedure_id`,
		func(row pgx.CollectableRow) (l oltp.EncounterProcedure, err error) {
			err = row.Scan(&l.EncounterID, &l.ProcedureID)
			return l, err
		}); err != nil {
		return ds, err
	}
	if ds.Billing, err = collect(ctx, tx,
		`SELECT billing_id, encounter_id, claim_date,
		        (claim_amount * 100)::BIGINT, (allowed_amount * 100)::BIGINT
		 FROM billing ORDER BY billing_id`,
		func(row pgx.CollectableRow) (b oltp.Billing, err error) {
			var claimDate time.Time
			var claimed, allowed int64
			if err = row.Scan(&b.ID, &b.EncounterID, &claimDate, &claimed, &allowed); err != nil {
				return b, err
			}
			b.ClaimDate = oltp.DateOf(claimDate)
			b.ClaimAmount, b.AllowedAmount = oltp.Money(claimed), oltp.Money(allowed)
			return b, nil
		}); err != nil {
		return ds, err
	}
	return ds, nil
}

func collect[T any](ctx context.Context, tx pgx.Tx, sql string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return out, nil
}

func optDate(d pgtype.Date) *oltp.Date {
	if !d.Valid {
		return nil
	}
	v := oltp.DateOf(d.Time)
	return &v
}

func pgDate(d *oltp.Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func moneyNumeric(m oltp.Money) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(m.Cents()), Exp: -2, Valid: true}
}

// Seed replaces the contents of the normalized tables with ds using COPY,
// all in one transaction.
func Seed(ctx context.Context, pool *pgxpool.Pool, ds oltp.Dataset) (int64, error) {
	if err := EnsureSchema(ctx, pool); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE billing, encounter_procedures, encounter_diagnoses,
		procedures, diagnoses, encounters, provider_specialty_history, providers, patients, specialties`); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	type table struct {
		name string
		cols []string
		rows [][]any
	}
	var tables []table

	t := table{name: "specialties", cols: []string{"specialty_id", "specialty_name"}}
	for _, s := range ds.Specialties {
		t.rows = append(t.rows, []any{s.ID, s.Name})
	}
	tables = append(tables, t)

	t = table{name: "patients", cols: []string{"patient_id", "first_name", "last_name", "gender", "birth_date"}}
	for _, p := range ds.Patients {
		t.rows = append(t.rows, []any{p.ID, p.FirstName, p.LastName, p.Gender, pgDate(p.BirthDate)})
	}
	tables = append(tables, t)

	t = table{name: "providers", cols: []string{"provider_id", "provider_name", "specialty_id"}}
	for _, p := range ds.Providers {
		t.rows = append(t.rows, []any{p.ID, p.Name, p.SpecialtyID})
	}
	tables = append(tables, t)

	t = table{name: "provider_specialty_history", cols: []string{"provider_id", "specialty_id", "valid_from", "valid_to"}}
	for _, h := range ds.ProviderHistory {
		t.rows = append(t.rows, []any{h.ProviderID, h.SpecialtyID, h.ValidFrom.Time, h.ValidTo.Time})
	}
	tables = append(tables, t)

	t = table{name: "encounters", cols: []string{"encounter_id", "patient_id", "provider_id", "encounter_type", "encounter_date", "discharge_date"}}
	for _, e := range ds.Encounters {
		t.rows = append(t.rows, []any{e.ID, e.PatientID, e.ProviderID, e.Type, e.Date.Time, pgDate(e.DischargeDate)})
	}
	tables = append(tables, t)

	t = table{name: "diagnoses", cols: []string{"diagnosis_id", "icd10_code", "description"}}
	for _, d := range ds.Diagnoses {
		t.rows = append(t.rows, []any{d.ID, d.ICD10Code, d.Description})
	}
	tables = append(tables, t)

	t = table{name: "procedures", cols: []string{"procedure_id", "cpt_code", "description"}}
	for _, p := range ds.Procedures {
		t.rows = append(t.rows, []any{p.ID, p.CPTCode, p.Description})
	}
	tables = append(tables, t)

	t = table{name: "encounter_diagnoses", cols: []string{"encounter_id", "diagnosis_id"}}
	for _, l := range ds.EncounterDiagnoses {
		t.rows = append(t.rows, []any{l.EncounterID, l.DiagnosisID})
	}
	tables = append(tables, t)

	t = table{name: "encounter_procedures", cols: []string{"encounter_id", "procedure_id"}}
	for _, l := range ds.EncounterProcedures {
		t.rows = append(t.rows, []any{l.EncounterID, l.ProcedureID})
	}
	tables = append(tables, t)

	t = table{name: "billing", cols: []string{"billing_id", "encounter_id", "claim_date", "claim_amount", "allowed_amount"}}
	for _, b := range ds.Billing {
		t.rows = append(t.rows, []any{b.ID, b.EncounterID, b.ClaimDate.Time, moneyNumeric(b.ClaimAmount), moneyNumeric(b.AllowedAmount)})
	}
	tables = append(tables, t)

	var total int64
	for _, t := range tables {
		if len(t.rows) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.cols, pgx.CopyFromRows(t.rows))
		if err != nil {
			return total, fmt.Errorf("copy %s: %w", t.name, err)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return total, nil
}
