package query

import (
	"context"
	"slices"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
)

// StarExecutor answers the queries from the fact table, its dimensions and
// the bridge tables, the way the star-schema query set does. It reads the
// pre-aggregated fact columns instead of the normalized children.
type StarExecutor struct {
	store *star.Store
}

func NewStarExecutor(store *star.Store) *StarExecutor {
	return &StarExecutor{store: store}
}

func (x *StarExecutor) Name() string { return "star" }

func (x *StarExecutor) MonthlyEncounters(ctx context.Context) ([]MonthlyEncountersRow, error) {
	counts := make(map[monthlyKey]int64)
	patients := make(map[monthlyKey]map[int64]struct{})

	for i, d := range x.store.Details() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		k := monthlyKey{d.YearMonth, d.SpecialtyName, d.EncounterType}
		counts[k]++
		if patients[k] == nil {
			patients[k] = make(map[int64]struct{})
		}
		patients[k][d.PatientKey] = struct{}{}
	}

	rows := make([]MonthlyEncountersRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, MonthlyEncountersRow{
			YearMonth:        k.yearMonth,
			Specialty:        k.specialty,
			EncounterType:    k.encounterType,
			Encounters:       n,
			DistinctPatients: int64(len(patients[k])),
		})
	}
	SortMonthlyEncounters(rows)
	return rows, nil
}

func (x *StarExecutor) TopDiagnosisProcedurePairs(ctx context.Context, opts PairOptions) ([]DiagnosisProcedurePairRow, error) {
	type pair struct{ diag, proc int64 }
	encounters := make(map[pair]map[int64]struct{})

	for i, f := range x.store.Facts() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if !f.HasDiagnoses || !f.HasProcedures {
			continue
		}
		diags, err := x.store.DiagnosesForEncounter(f.EncounterKey)
		if err != nil {
			return nil, err
		}
		procs, err := x.store.ProceduresForEncounter(f.EncounterKey)
		if err != nil {
			return nil, err
		}
		for _, d := range diags {
			for _, p := range procs {
				k := pair{d.DiagnosisKey, p.ProcedureKey}
				if encounters[k] == nil {
					encounters[k] = make(map[int64]struct{})
				}
				encounters[k][f.EncounterKey] = struct{}{}
			}
		}
	}

	rows := make([]DiagnosisProcedurePairRow, 0, len(encounters))
	for k, set := range encounters {
		d, err := x.store.Diagnosis(k.diag)
		if err != nil {
			return nil, err
		}
		p, err := x.store.Procedure(k.proc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, DiagnosisProcedurePairRow{
			ICD10Code:            d.ICD10Code,
			DiagnosisDescription: d.Description,
			CPTCode:              p.CPTCode,
			ProcedureDescription: p.Description,
			Encounters:           int64(len(set)),
		})
	}
	return FinishPairs(rows, opts), nil
}

func (x *StarExecutor) ReadmissionRates(ctx context.Context, opts ReadmissionOptions) ([]ReadmissionRow, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	facts := x.store.Facts()

	// Admission date keys per patient key. Date keys are day numbers, so the
	// window is plain key arithmetic.
	admissions := make(map[int64][]int)
	for _, f := range facts {
		if f.IsAdmitted {
			admissions[f.PatientKey] = append(admissions[f.PatientKey], int(f.DateKey))
		}
	}
	for _, keys := range admissions {
		slices.Sort(keys)
	}

	bySpecialty := make(map[string]*DischargeCounts)
	var order []string
	for i, f := range facts {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if !f.IsAdmitted || f.DischargeDateKey == nil {
			continue
		}
		prov, err := x.store.Provider(f.ProviderKey)
		if err != nil {
			return nil, err
		}
		c := bySpecialty[prov.SpecialtyName]
		if c == nil {
			c = &DischargeCounts{Specialty: prov.SpecialtyName}
			bySpecialty[prov.SpecialtyName] = c
			order = append(order, prov.SpecialtyName)
		}
		c.Total++
		if readmittedWithin(admissions[f.PatientKey], int(*f.DischargeDateKey), opts.WindowDays) {
			c.Readmitted++
		}
	}

	counts := make([]DischargeCounts, 0, len(order))
	for _, name := range order {
		counts = append(counts, *bySpecialty[name])
	}

	var specialties []string
	for _, p := range x.store.Providers() {
		if p.CurrentFlag {
			specialties = append(specialties, p.SpecialtyName)
		}
	}
	return FinishReadmissions(counts, specialties, opts)
}

func (x *StarExecutor) RevenueBySpecialtyMonth(ctx context.Context) ([]RevenueRow, error) {
	groups := make(map[revenueKey]*RevenueRow)

	for i, f := range x.store.Facts() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if !f.HasBilling || f.BillingDateKey == nil {
			continue
		}
		date, err := x.store.Date(*f.BillingDateKey)
		if err != nil {
			return nil, err
		}
		prov, err := x.store.Provider(f.ProviderKey)
		if err != nil {
			return nil, err
		}

		k := revenueKey{date.YearMonth, prov.SpecialtyName}
		g := groups[k]
		if g == nil {
			g = &RevenueRow{YearMonth: k.yearMonth, Specialty: k.specialty}
			groups[k] = g
		}
		g.ClaimCount += int64(f.ClaimCount)
		g.TotalClaimed += f.TotalClaimAmount
		g.TotalAllowed += f.TotalAllowedAmount
	}

	rows := make([]RevenueRow, 0, len(groups))
	for _, g := range groups {
		g.AvgAllowed = AverageMoney(g.TotalAllowed, g.ClaimCount)
		rows = append(rows, *g)
	}
	SortRevenue(rows)
	return rows, nil
}
