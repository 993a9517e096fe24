// Package query implements the four canonical encounter analytics queries
// over any store that can answer them. Every Executor must return the same
// rows, in the same order, for the same underlying data.
package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// Name identifies one of the canonical queries.
type Name string

const (
	MonthlyEncounters = Name("monthly-encounters")
	DiagnosisPairs    = Name("diagnosis-procedure-pairs")
	Readmissions      = Name("readmissions")
	Revenue           = Name("revenue")
)

// Names lists the queries in canonical order.
var Names = []Name{MonthlyEncounters, DiagnosisPairs, Readmissions, Revenue}

// ParseName accepts a query name or its short alias q1..q4.
func ParseName(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q1", string(MonthlyEncounters):
		return MonthlyEncounters, nil
	case "q2", string(DiagnosisPairs):
		return DiagnosisPairs, nil
	case "q3", string(Readmissions):
		return Readmissions, nil
	case "q4", string(Revenue):
		return Revenue, nil
	}
	return "", fmt.Errorf("unknown query %q", s)
}

// Executor answers the canonical queries against one store.
type Executor interface {
	Name() string
	MonthlyEncounters(ctx context.Context) ([]MonthlyEncountersRow, error)
	TopDiagnosisProcedurePairs(ctx context.Context, opts PairOptions) ([]DiagnosisProcedurePairRow, error)
	ReadmissionRates(ctx context.Context, opts ReadmissionOptions) ([]ReadmissionRow, error)
	RevenueBySpecialtyMonth(ctx context.Context) ([]RevenueRow, error)
}

// MonthlyEncountersRow is a row of Q1.
type MonthlyEncountersRow struct {
	YearMonth        string `json:"year_month"`
	Specialty        string `json:"specialty"`
	EncounterType    string `json:"encounter_type"`
	Encounters       int64  `json:"encounter_count"`
	DistinctPatients int64  `json:"distinct_patients"`
}

// DiagnosisProcedurePairRow is a row of Q2.
type DiagnosisProcedurePairRow struct {
	ICD10Code            string `json:"icd10_code"`
	DiagnosisDescription string `json:"diagnosis_description"`
	CPTCode              string `json:"cpt_code"`
	ProcedureDescription string `json:"procedure_description"`
	Encounters           int64  `json:"encounter_count"`
}

// ReadmissionRow is a row of Q3. Rate is nil only under ZeroDischargeNull
// for a specialty without discharges.
type ReadmissionRow struct {
	Specialty            string   `json:"specialty"`
	TotalDischarges      int64    `json:"total_discharges"`
	ReadmittedDischarges int64    `json:"readmitted_discharges"`
	Rate                 *Percent `json:"readmission_rate"`
}

// RevenueRow is a row of Q4.
type RevenueRow struct {
	YearMonth    string     `json:"year_month"`
	Specialty    string     `json:"specialty"`
	ClaimCount   int64      `json:"claim_count"`
	TotalClaimed oltp.Money `json:"total_claimed"`
	TotalAllowed oltp.Money `json:"total_allowed"`
	AvgAllowed   oltp.Money `json:"avg_allowed"`
}

// PairOptions tunes Q2.
type PairOptions struct {
	MinEncounters int64
	Limit         int
}

// DefaultPairOptions keeps pairs seen on at least two encounters and returns
// the top 20.
func DefaultPairOptions() PairOptions {
	return PairOptions{MinEncounters: 2, Limit: 20}
}

// WithDefaults fills unset fields from DefaultPairOptions.
func (o PairOptions) WithDefaults() PairOptions {
	d := DefaultPairOptions()
	if o.MinEncounters < 1 {
		o.MinEncounters = d.MinEncounters
	}
	if o.Limit < 1 {
		o.Limit = d.Limit
	}
	return o
}

// ReadmissionOptions tunes Q3.
type ReadmissionOptions struct {
	WindowDays     int
	ZeroDischarges ZeroDischargePolicy
}

// DefaultReadmissionOptions uses the 30-day window and omits specialties
// without discharges.
func DefaultReadmissionOptions() ReadmissionOptions {
	return ReadmissionOptions{WindowDays: 30, ZeroDischarges: ZeroDischargeOmit}
}

// MaxWindowDays bounds the readmission window to a century.
const MaxWindowDays = 36500

// WithDefaults fills unset (zero) fields from DefaultReadmissionOptions.
// A negative window is kept so Validate can reject it.
func (o ReadmissionOptions) WithDefaults() ReadmissionOptions {
	d := DefaultReadmissionOptions()
	if o.WindowDays == 0 {
		o.WindowDays = d.WindowDays
	}
	if o.ZeroDischarges == "" {
		o.ZeroDischarges = d.ZeroDischarges
	}
	return o
}

// Validate rejects a window outside [1, MaxWindowDays] and unknown policies.
func (o ReadmissionOptions) Validate() error {
	if o.WindowDays < 1 || o.WindowDays > MaxWindowDays {
		return fmt.Errorf("%w: window of %d days is outside 1..%d", ErrInvalidOptions, o.WindowDays, MaxWindowDays)
	}
	if !o.ZeroDischarges.Valid() {
		return fmt.Errorf("%w: unknown zero-discharge policy %q", ErrInvalidOptions, o.ZeroDischarges)
	}
	return nil
}

// Percent is a percentage in hundredths, so 1234 is 12.34%.
type Percent int64

func (p Percent) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p Percent) Float64() float64 { return float64(p) / 100 }

// divRound returns num/den rounded half away from zero. den must be positive.
func divRound(num, den int64) int64 {
	if num >= 0 {
		return (2*num + den) / (2 * den)
	}
	return -((-2*num + den) / (2 * den))
}

// RatePercent returns 100*part/total rounded to two decimals.
func RatePercent(specialty string, part, total int64) (Percent, error) {
	if total <= 0 {
		return 0, &DivideByZeroError{Specialty: specialty}
	}
	return Percent(divRound(10000*part, total)), nil
}

// AverageMoney returns total/n rounded to the cent. n must be positive.
func AverageMoney(total oltp.Money, n int64) oltp.Money {
	if n <= 0 {
		return 0
	}
	return oltp.Money(divRound(int64(total), n))
}

// SortMonthlyEncounters orders Q1 rows by month, specialty and type.
func SortMonthlyEncounters(rows []MonthlyEncountersRow) {
	slices.SortFunc(rows, func(a, b MonthlyEncountersRow) int {
		return cmp.Or(
			strings.Compare(a.YearMonth, b.YearMonth),
			strings.Compare(a.Specialty, b.Specialty),
			strings.Compare(a.EncounterType, b.EncounterType),
		)
	})
}

// FinishPairs applies the Q2 threshold, ordering and limit.
func FinishPairs(rows []DiagnosisProcedurePairRow, opts PairOptions) []DiagnosisProcedurePairRow {
	opts = opts.WithDefaults()
	rows = slices.DeleteFunc(rows, func(r DiagnosisProcedurePairRow) bool {
		return r.Encounters < opts.MinEncounters
	})
	slices.SortFunc(rows, func(a, b DiagnosisProcedurePairRow) int {
		return cmp.Or(
			cmp.Compare(b.Encounters, a.Encounters),
			strings.Compare(a.ICD10Code, b.ICD10Code),
			strings.Compare(a.CPTCode, b.CPTCode),
		)
	})
	if len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

// DischargeCounts is the per-specialty input of Q3 before rates are derived.
type DischargeCounts struct {
	Specialty  string
	Total      int64
	Readmitted int64
}

// FinishReadmissions turns per-specialty counts into Q3 rows. counts holds
// specialties with at least one discharge; specialties lists every specialty
// eligible under a non-omit zero-discharge policy.
func FinishReadmissions(counts []DischargeCounts, specialties []string, opts ReadmissionOptions) ([]ReadmissionRow, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(counts))
	rows := make([]ReadmissionRow, 0, len(counts))
	for _, c := range counts {
		seen[c.Specialty] = true
		row := ReadmissionRow{Specialty: c.Specialty, TotalDischarges: c.Total, ReadmittedDischarges: c.Readmitted}
		if err := applyRate(&row, opts.ZeroDischarges); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if opts.ZeroDischarges != ZeroDischargeOmit {
		for _, name := range specialties {
			if seen[name] {
				continue
			}
			seen[name] = true
			row := ReadmissionRow{Specialty: name}
			if err := applyRate(&row, opts.ZeroDischarges); err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}

	slices.SortFunc(rows, func(a, b ReadmissionRow) int {
		switch {
		case a.Rate == nil && b.Rate != nil:
			return 1
		case a.Rate != nil && b.Rate == nil:
			return -1
		case a.Rate != nil && b.Rate != nil && *a.Rate != *b.Rate:
			return cmp.Compare(*b.Rate, *a.Rate)
		}
		return strings.Compare(a.Specialty, b.Specialty)
	})
	return rows, nil
}

func applyRate(row *ReadmissionRow, policy ZeroDischargePolicy) error {
	rate, err := RatePercent(row.Specialty, row.ReadmittedDischarges, row.TotalDischarges)
	if err == nil {
		row.Rate = &rate
		return nil
	}
	switch policy {
	case ZeroDischargeZero:
		var zero Percent
		row.Rate = &zero
		return nil
	case ZeroDischargeNull:
		row.Rate = nil
		return nil
	default:
		return err
	}
}

// SortRevenue orders Q4 rows by month, then total allowed descending.
func SortRevenue(rows []RevenueRow) {
	slices.SortFunc(rows, func(a, b RevenueRow) int {
		return cmp.Or(
			strings.Compare(a.YearMonth, b.YearMonth),
			cmp.Compare(b.TotalAllowed, a.TotalAllowed),
			strings.Compare(a.Specialty, b.Specialty),
		)
	})
}

const ctxCheckInterval = 1024

// checkCtx polls ctx every ctxCheckInterval iterations.
func checkCtx(ctx context.Context, i int) error {
	if i%ctxCheckInterval == 0 {
		return ctx.Err()
	}
	return nil
}
