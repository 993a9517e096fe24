package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
)

// ErrNoSnapshot is returned when nothing has been loaded yet.
var ErrNoSnapshot = errors.New("storage: no snapshot loaded")

// tableLoad feeds one table's rows to an appender.
type tableLoad struct {
	name string
	n    int
	row  func(i int) []driver.Value
}

// LoadSnapshot replaces the mirrored data with entities and st. All tables
// are rewritten in one transaction, so concurrent queries see either the
// previous snapshot or the new one.
func (s *Storage) LoadSnapshot(ctx context.Context, version string, entities *oltp.Store, st *star.Store) (*LoadResult, error) {
	if entities == nil || st == nil {
		return nil, NewInvalidDataError("snapshot needs both stores", nil)
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	start := time.Now()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, NewInfrastructureError("failed to get connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return nil, NewInfrastructureError("failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+tables[i]); err != nil {
			return nil, NewInfrastructureError("failed to clear "+tables[i], err)
		}
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM snapshot_meta"); err != nil {
		return nil, NewInfrastructureError("failed to clear snapshot_meta", err)
	}

	result := &LoadResult{Version: version, LoadedAt: start.UTC()}
	for _, t := range snapshotTables(entities, st) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := appendTable(conn, t); err != nil {
			return nil, NewInfrastructureError("failed to load "+t.name, err)
		}
		result.Add(t.name, int64(t.n))
	}

	if _, err := conn.ExecContext(ctx,
		"INSERT INTO snapshot_meta (version, loaded_at) VALUES (?, ?)",
		version, result.LoadedAt,
	); err != nil {
		return nil, NewInfrastructureError("failed to record snapshot", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, NewInfrastructureError("failed to commit snapshot", err)
	}
	committed = true

	result.Duration = time.Since(start)
	s.mu.Lock()
	s.lastLoad = result
	s.mu.Unlock()
	return result, nil
}

// appendTable writes t through a DuckDB appender on conn. The appender runs
// inside the connection's open transaction.
func appendTable(conn *sql.Conn, t tableLoad) error {
	if t.n == 0 {
		return nil
	}

	var appender *duckdb.Appender
	err := conn.Raw(func(driverConn any) error {
		duckConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected connection type: %T", driverConn)
		}
		var appErr error
		appender, appErr = duckdb.NewAppenderFromConn(duckConn, "", t.name)
		return appErr
	})
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	for i := 0; i < t.n; i++ {
		if err := appender.AppendRow(t.row(i)...); err != nil {
			appender.Close()
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return appender.Close()
}

func dateValue(d oltp.Date) driver.Value { return d.Time }

func nullDate(d *oltp.Date) driver.Value {
	if d == nil {
		return nil
	}
	return d.Time
}

func nullKey(k *int64) driver.Value {
	if k == nil {
		return nil
	}
	return *k
}

// snapshotTables lists the rows of every table in load order.
func snapshotTables(e *oltp.Store, st *star.Store) []tableLoad {
	ds := e.Dataset()
	specialties := ds.Specialties
	patients := ds.Patients
	providers := ds.Providers
	history := ds.ProviderHistory
	encounters := ds.Encounters
	diagnoses := ds.Diagnoses
	procedures := ds.Procedures
	encDiag := ds.EncounterDiagnoses
	encProc := ds.EncounterProcedures
	billing := ds.Billing

	dates := st.Dates()
	dimPatients := st.Patients()
	dimProviders := st.Providers()
	types := st.EncounterTypes()
	dimDiagnoses := st.Diagnoses()
	dimProcedures := st.Procedures()
	facts := st.Facts()
	bridgeDiag := st.BridgeDiagnoses()
	bridgeProc := st.BridgeProcedures()

	return []tableLoad{
		{"specialties", len(specialties), func(i int) []driver.Value {
			r := specialties[i]
			return []driver.Value{r.ID, r.Name}
		}},
		{"patients", len(patients), func(i int) []driver.Value {
			r := patients[i]
			return []driver.Value{r.ID, r.FirstName, r.LastName, r.Gender, nullDate(r.BirthDate)}
		}},
		{"providers", len(providers), func(i int) []driver.Value {
			r := providers[i]
			return []driver.Value{r.ID, r.Name, r.SpecialtyID}
		}},
		{"provider_specialty_history", len(history), func(i int) []driver.Value {
			r := history[i]
			return []driver.Value{r.ProviderID, r.SpecialtyID, dateValue(r.ValidFrom), dateValue(r.ValidTo)}
		}},
		{"encounters", len(encounters), func(i int) []driver.Value {
			r := encounters[i]
			return []driver.Value{r.ID, r.PatientID, r.ProviderID, r.Type, dateValue(r.Date), nullDate(r.DischargeDate)}
		}},
		{"diagnoses", len(diagnoses), func(i int) []driver.Value {
			r := diagnoses[i]
			return []driver.Value{r.ID, r.ICD10Code, r.Description}
		}},
		{"procedures", len(procedures), func(i int) []driver.Value {
			r := procedures[i]
			return []driver.Value{r.ID, r.CPTCode, r.Description}
		}},
		{"encounter_diagnoses", len(encDiag), func(i int) []driver.Value {
			r := encDiag[i]
			return []driver.Value{r.EncounterID, r.DiagnosisID}
		}},
		{"encounter_procedures", len(encProc), func(i int) []driver.Value {
			r := encProc[i]
			return []driver.Value{r.EncounterID, r.ProcedureID}
		}},
		{"billing", len(billing), func(i int) []driver.Value {
			r := billing[i]
			return []driver.Value{r.ID, r.EncounterID, dateValue(r.ClaimDate), r.ClaimAmount.Cents(), r.AllowedAmount.Cents()}
		}},
		{"dim_date", len(dates), func(i int) []driver.Value {
			r := dates[i]
			return []driver.Value{r.DateKey, dateValue(r.Date), int32(r.Year), int32(r.Month), r.YearMonth}
		}},
		{"dim_patient", len(dimPatients), func(i int) []driver.Value {
			r := dimPatients[i]
			return []driver.Value{r.PatientKey, r.PatientID, r.FirstName, r.LastName, r.Gender, nullDate(r.BirthDate)}
		}},
		{"dim_provider", len(dimProviders), func(i int) []driver.Value {
			r := dimProviders[i]
			return []driver.Value{
				r.ProviderKey, r.ProviderID, r.ProviderName, r.SpecialtyID, r.SpecialtyName,
				nullDate(r.ValidFrom), nullDate(r.ValidTo), r.CurrentFlag,
			}
		}},
		{"dim_encounter_type", len(types), func(i int) []driver.Value {
			r := types[i]
			return []driver.Value{r.EncounterTypeKey, r.Name, r.IsAdmitted}
		}},
		{"dim_diagnosis", len(dimDiagnoses), func(i int) []driver.Value {
			r := dimDiagnoses[i]
			return []driver.Value{r.DiagnosisKey, r.DiagnosisID, r.ICD10Code, r.Description}
		}},
		{"dim_procedure", len(dimProcedures), func(i int) []driver.Value {
			r := dimProcedures[i]
			return []driver.Value{r.ProcedureKey, r.ProcedureID, r.CPTCode, r.Description}
		}},
		{"fact_encounters", len(facts), func(i int) []driver.Value {
			r := facts[i]
			return []driver.Value{
				r.EncounterKey, r.EncounterID, r.DateKey, r.ProviderKey, r.EncounterTypeKey, r.PatientKey,
				r.IsAdmitted, nullKey(r.DischargeDateKey),
				r.HasDiagnoses, r.HasProcedures, int64(r.DiagnosisCount), int64(r.ProcedureCount),
				r.HasBilling, int64(r.ClaimCount), nullKey(r.BillingDateKey),
				r.TotalClaimAmount.Cents(), r.TotalAllowedAmount.Cents(),
			}
		}},
		{"bridge_encounter_diagnoses", len(bridgeDiag), func(i int) []driver.Value {
			r := bridgeDiag[i]
			return []driver.Value{r.EncounterKey, r.DiagnosisKey}
		}},
		{"bridge_encounter_procedures", len(bridgeProc), func(i int) []driver.Value {
			r := bridgeProc[i]
			return []driver.Value{r.EncounterKey, r.ProcedureKey}
		}},
	}
}

// Version returns the identity and load time of the mirrored snapshot.
func (s *Storage) Version(ctx context.Context) (string, time.Time, error) {
	var (
		version  string
		loadedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, "SELECT version, loaded_at FROM snapshot_meta LIMIT 1").Scan(&version, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return "", time.Time{}, NewInfrastructureError("failed to read snapshot version", err)
	}
	return version, loadedAt, nil
}

// Stats describes the mirrored snapshot.
type Stats struct {
	Version  string           `json:"version,omitempty"`
	LoadedAt *time.Time       `json:"loaded_at,omitempty"`
	Rows     map[string]int64 `json:"rows"`
	LastLoad *LoadResult      `json:"last_load,omitempty"`
}

// Stats counts the rows of every mirrored table.
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Rows: make(map[string]int64, len(tables))}

	version, loadedAt, err := s.Version(ctx)
	switch {
	case err == nil:
		stats.Version = version
		stats.LoadedAt = &loadedAt
	case !errors.Is(err, ErrNoSnapshot):
		return nil, err
	}

	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, NewInfrastructureError("failed to count "+table, err)
		}
		stats.Rows[table] = n
	}

	s.mu.Lock()
	stats.LastLoad = s.lastLoad
	s.mu.Unlock()
	return stats, nil
}
