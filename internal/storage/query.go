package storage

import (
	"context"
	"database/sql"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
)

// sqlQueries holds one model's SQL for the canonical queries. Every query
// returns integer components only; rates, averages and final ordering are
// derived with the same helpers the in-memory executors use.
type sqlQueries struct {
	monthly     string
	pairs       string // $1 min encounters, $2 limit
	readmission string // $1 window days
	specialties string
	revenue     string
}

var oltpQueries = sqlQueries{
	monthly: `
SELECT strftime(e.encounter_date, '%Y-%m') AS year_month,
       s.specialty_name,
       e.encounter_type,
       COUNT(*) AS encounter_count,
       COUNT(DISTINCT e.patient_id) AS distinct_patients
FROM encounters e
JOIN providers p ON p.provider_id = e.provider_id
JOIN specialties s ON s.specialty_id = p.specialty_id
GROUP BY 1, 2, 3
ORDER BY 1, 2, 3`,

	pairs: `
SELECT dx.icd10_code, dx.description, px.cpt_code, px.description,
       COUNT(DISTINCT e.encounter_id) AS encounter_count
FROM encounters e
JOIN encounter_diagnoses ed ON ed.encounter_id = e.encounter_id
JOIN diagnoses dx ON dx.diagnosis_id = ed.diagnosis_id
JOIN encounter_procedures ep ON ep.encounter_id = e.encounter_id
JOIN procedures px ON px.procedure_id = ep.procedure_id
GROUP BY 1, 2, 3, 4
HAVING COUNT(DISTINCT e.encounter_id) >= $1
ORDER BY encounter_count DESC, 1, 3
LIMIT $2`,

	readmission: `
WITH discharges AS (
    SELECT e.patient_id, e.discharge_date, s.specialty_name
    FROM encounters e
    JOIN providers p ON p.provider_id = e.provider_id
    JOIN specialties s ON s.specialty_id = p.specialty_id
    WHERE e.encounter_type = '` + oltp.EncounterTypeInpatient + `'
      AND e.discharge_date IS NOT NULL
),
flagged AS (
    SELECT d.specialty_name,
           EXISTS (
               SELECT 1 FROM encounters r
               WHERE r.patient_id = d.patient_id
                 AND r.encounter_type = '` + oltp.EncounterTypeInpatient + `'
                 AND r.encounter_date > d.discharge_date
                 AND r.encounter_date - d.discharge_date <= CAST($1 AS BIGINT)
           ) AS readmitted
    FROM discharges d
)
SELECT specialty_name,
       COUNT(*) AS total_discharges,
       CAST(SUM(CASE WHEN readmitted THEN 1 ELSE 0 END) AS BIGINT) AS readmitted_discharges
FROM flagged
GROUP BY 1`,

	specialties: `
SELECT DISTINCT s.specialty_name
FROM providers p
JOIN specialties s ON s.specialty_id = p.specialty_id`,

	revenue: `
WITH per_encounter AS (
    SELECT encounter_id,
           MIN(claim_date) AS first_claim,
           COUNT(*) AS claims,
           SUM(claim_amount_cents) AS claimed,
           SUM(allowed_amount_cents) AS allowed
    FROM billing
    GROUP BY encounter_id
)
SELECT strftime(b.first_claim, '%Y-%m') AS year_month,
       s.specialty_name,
       CAST(SUM(b.claims) AS BIGINT),
       CAST(SUM(b.claimed) AS BIGINT),
       CAST(SUM(b.allowed) AS BIGINT)
FROM per_encounter b
JOIN encounters e ON e.encounter_id = b.encounter_id
JOIN providers p ON p.provider_id = e.provider_id
JOIN specialties s ON s.specialty_id = p.specialty_id
GROUP BY 1, 2`,
}

var starQueries = sqlQueries{
	monthly: `
SELECT d.year_month,
       p.specialty_name,
       t.encounter_type_name,
       COUNT(*) AS encounter_count,
       COUNT(DISTINCT f.patient_key) AS distinct_patients
FROM fact_encounters f
JOIN dim_date d ON d.date_key = f.date_key
JOIN dim_provider p ON p.provider_key = f.provider_key
JOIN dim_encounter_type t ON t.encounter_type_key = f.encounter_type_key
GROUP BY 1, 2, 3
ORDER BY 1, 2, 3`,

	pairs: `
SELECT dx.icd10_code, dx.description, px.cpt_code, px.description,
       COUNT(DISTINCT f.encounter_key) AS encounter_count
FROM fact_encounters f
JOIN bridge_encounter_diagnoses bd ON bd.encounter_key = f.encounter_key
JOIN dim_diagnosis dx ON dx.diagnosis_key = bd.diagnosis_key
JOIN bridge_encounter_procedures bp ON bp.encounter_key = f.encounter_key
JOIN dim_procedure px ON px.procedure_key = bp.procedure_key
WHERE f.has_diagnoses AND f.has_procedures
GROUP BY 1, 2, 3, 4
HAVING COUNT(DISTINCT f.encounter_key) >= $1
ORDER BY encounter_count DESC, 1, 3
LIMIT $2`,

	readmission: `
WITH discharges AS (
    SELECT f.patient_key, f.discharge_date_key, p.specialty_name
    FROM fact_encounters f
    JOIN dim_provider p ON p.provider_key = f.provider_key
    WHERE f.is_admitted AND f.discharge_date_key IS NOT NULL
),
flagged AS (
    SELECT d.specialty_name,
           EXISTS (
               SELECT 1 FROM fact_encounters r
               WHERE r.patient_key = d.patient_key
                 AND r.is_admitted
                 AND r.date_key > d.discharge_date_key
                 AND r.date_key <= d.discharge_date_key + CAST($1 AS BIGINT)
           ) AS readmitted
    FROM discharges d
)
SELECT specialty_name,
       COUNT(*) AS total_discharges,
       CAST(SUM(CASE WHEN readmitted THEN 1 ELSE 0 END) AS BIGINT) AS readmitted_discharges
FROM flagged
GROUP BY 1`,

	specialties: `
SELECT DISTINCT specialty_name
FROM dim_provider
WHERE current_flag`,

	revenue: `
SELECT d.year_month,
       p.specialty_name,
       CAST(SUM(f.claim_count) AS BIGINT),
       CAST(SUM(f.total_claim_amount_cents) AS BIGINT),
       CAST(SUM(f.total_allowed_amount_cents) AS BIGINT)
FROM fact_encounters f
JOIN dim_date d ON d.date_key = f.billing_date_key
JOIN dim_provider p ON p.provider_key = f.provider_key
WHERE f.has_billing
GROUP BY 1, 2`,
}

// Executor answers the canonical queries in SQL against one mirrored model.
type Executor struct {
	db   *sql.DB
	name string
	q    sqlQueries
}

// OLTPExecutor queries the normalized tables.
func (s *Storage) OLTPExecutor() *Executor {
	return &Executor{db: s.db, name: "sql-oltp", q: oltpQueries}
}

// StarExecutor queries the star schema.
func (s *Storage) StarExecutor() *Executor {
	return &Executor{db: s.db, name: "sql-star", q: starQueries}
}

func (x *Executor) Name() string { return x.name }

// scanAll runs stmt and scans every row with scan.
func scanAll[T any](ctx context.Context, db *sql.DB, stmt string, scan func(*sql.Rows) (T, error), args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, NewInfrastructureError("query failed", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, NewInfrastructureError("failed to scan row", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, NewInfrastructureError("row iteration failed", err)
	}
	return out, nil
}

func (x *Executor) MonthlyEncounters(ctx context.Context) ([]query.MonthlyEncountersRow, error) {
	rows, err := scanAll(ctx, x.db, x.q.monthly, func(r *sql.Rows) (query.MonthlyEncountersRow, error) {
		var row query.MonthlyEncountersRow
		err := r.Scan(&row.YearMonth, &row.Specialty, &row.EncounterType, &row.Encounters, &row.DistinctPatients)
		return row, err
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []query.MonthlyEncountersRow{}
	}
	query.SortMonthlyEncounters(rows)
	return rows, nil
}

func (x *Executor) TopDiagnosisProcedurePairs(ctx context.Context, opts query.PairOptions) ([]query.DiagnosisProcedurePairRow, error) {
	opts = opts.WithDefaults()
	rows, err := scanAll(ctx, x.db, x.q.pairs, func(r *sql.Rows) (query.DiagnosisProcedurePairRow, error) {
		var row query.DiagnosisProcedurePairRow
		err := r.Scan(&row.ICD10Code, &row.DiagnosisDescription, &row.CPTCode, &row.ProcedureDescription, &row.Encounters)
		return row, err
	}, opts.MinEncounters, int64(opts.Limit))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []query.DiagnosisProcedurePairRow{}
	}
	return query.FinishPairs(rows, opts), nil
}

func (x *Executor) ReadmissionRates(ctx context.Context, opts query.ReadmissionOptions) ([]query.ReadmissionRow, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	counts, err := scanAll(ctx, x.db, x.q.readmission, func(r *sql.Rows) (query.DischargeCounts, error) {
		var c query.DischargeCounts
		err := r.Scan(&c.Specialty, &c.Total, &c.Readmitted)
		return c, err
	}, int64(opts.WindowDays))
	if err != nil {
		return nil, err
	}

	var specialties []string
	if opts.ZeroDischarges != query.ZeroDischargeOmit {
		specialties, err = scanAll(ctx, x.db, x.q.specialties, func(r *sql.Rows) (string, error) {
			var name string
			err := r.Scan(&name)
			return name, err
		})
		if err != nil {
			return nil, err
		}
	}
	return query.FinishReadmissions(counts, specialties, opts)
}

func (x *Executor) RevenueBySpecialtyMonth(ctx context.Context) ([]query.RevenueRow, error) {
	rows, err := scanAll(ctx, x.db, x.q.revenue, func(r *sql.Rows) (query.RevenueRow, error) {
		var (
			row              query.RevenueRow
			claimed, allowed int64
		)
		if err := r.Scan(&row.YearMonth, &row.Specialty, &row.ClaimCount, &claimed, &allowed); err != nil {
			return row, err
		}
		row.TotalClaimed = oltp.Money(claimed)
		row.TotalAllowed = oltp.Money(allowed)
		row.AvgAllowed = query.AverageMoney(row.TotalAllowed, row.ClaimCount)
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []query.RevenueRow{}
	}
	query.SortRevenue(rows)
	return rows, nil
}

var _ query.Executor = (*Executor)(nil)
