package query

import (
	"context"
	"slices"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// EntityExecutor answers the queries by joining normalized records, the
// way the OLTP query set does.
type EntityExecutor struct {
	store *oltp.Store
}

func NewEntityExecutor(store *oltp.Store) *EntityExecutor {
	return &EntityExecutor{store: store}
}

func (x *EntityExecutor) Name() string { return "oltp" }

type monthlyKey struct {
	yearMonth, specialty, encounterType string
}

func (x *EntityExecutor) MonthlyEncounters(ctx context.Context) ([]MonthlyEncountersRow, error) {
	counts := make(map[monthlyKey]int64)
	patients := make(map[monthlyKey]map[int64]struct{})

	for i, e := range x.store.Encounters() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		sp, err := x.store.ProviderSpecialty(e.ProviderID)
		if err != nil {
			return nil, err
		}
		k := monthlyKey{e.Date.YearMonth(), sp.Name, e.Type}
		counts[k]++
		if patients[k] == nil {
			patients[k] = make(map[int64]struct{})
		}
		patients[k][e.PatientID] = struct{}{}
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

type pairKey struct {
	icd10, cpt string
}

func (x *EntityExecutor) TopDiagnosisProcedurePairs(ctx context.Context, opts PairOptions) ([]DiagnosisProcedurePairRow, error) {
	encounters := make(map[pairKey]map[int64]struct{})
	descriptions := make(map[pairKey][2]string)

	for i, e := range x.store.Encounters() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		diags, err := x.store.DiagnosesForEncounter(e.ID)
		if err != nil {
			return nil, err
		}
		procs, err := x.store.ProceduresForEncounter(e.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range diags {
			for _, p := range procs {
				k := pairKey{d.ICD10Code, p.CPTCode}
				if encounters[k] == nil {
					encounters[k] = make(map[int64]struct{})
					descriptions[k] = [2]string{d.Description, p.Description}
				}
				encounters[k][e.ID] = struct{}{}
			}
		}
	}

	rows := make([]DiagnosisProcedurePairRow, 0, len(encounters))
	for k, set := range encounters {
		desc := descriptions[k]
		rows = append(rows, DiagnosisProcedurePairRow{
			ICD10Code:            k.icd10,
			DiagnosisDescription: desc[0],
			CPTCode:              k.cpt,
			ProcedureDescription: desc[1],
			Encounters:           int64(len(set)),
		})
	}
	return FinishPairs(rows, opts), nil
}

func (x *EntityExecutor) ReadmissionRates(ctx context.Context, opts ReadmissionOptions) ([]ReadmissionRow, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	encounters := x.store.Encounters()

	// Admission days per patient, ascending, for the window search.
	admissions := make(map[int64][]int)
	for _, e := range encounters {
		if e.IsAdmitted() {
			admissions[e.PatientID] = append(admissions[e.PatientID], e.Date.EpochDays())
		}
	}
	for _, days := range admissions {
		slices.Sort(days)
	}

	bySpecialty := make(map[string]*DischargeCounts)
	var order []string
	for i, e := range encounters {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		if !e.IsDischarge() {
			continue
		}
		sp, err := x.store.ProviderSpecialty(e.ProviderID)
		if err != nil {
			return nil, err
		}
		c := bySpecialty[sp.Name]
		if c == nil {
			c = &DischargeCounts{Specialty: sp.Name}
			bySpecialty[sp.Name] = c
			order = append(order, sp.Name)
		}
		c.Total++
		if readmittedWithin(admissions[e.PatientID], e.DischargeDate.EpochDays(), opts.WindowDays) {
			c.Readmitted++
		}
	}

	counts := make([]DischargeCounts, 0, len(order))
	for _, name := range order {
		counts = append(counts, *bySpecialty[name])
	}

	var specialties []string
	for _, p := range x.store.Providers() {
		sp, err := x.store.Specialty(p.SpecialtyID)
		if err != nil {
			return nil, err
		}
		specialties = append(specialties, sp.Name)
	}
	return FinishReadmissions(counts, specialties, opts)
}

// readmittedWithin reports whether any admission day d in the sorted slice
// satisfies discharge < d <= discharge+window.
func readmittedWithin(admissionDays []int, discharge, window int) bool {
	i, _ := slices.BinarySearch(admissionDays, discharge+1)
	return i < len(admissionDays) && admissionDays[i] <= discharge+window
}

type revenueKey struct {
	yearMonth, specialty string
}

func (x *EntityExecutor) RevenueBySpecialtyMonth(ctx context.Context) ([]RevenueRow, error) {
	groups := make(map[revenueKey]*RevenueRow)

	for i, e := range x.store.Encounters() {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		claims, err := x.store.BillingForEncounter(e.ID)
		if err != nil {
			return nil, err
		}
		if len(claims) == 0 {
			continue
		}
		sp, err := x.store.ProviderSpecialty(e.ProviderID)
		if err != nil {
			return nil, err
		}

		first := claims[0].ClaimDate
		for _, b := range claims[1:] {
			if b.ClaimDate.Before(first.Time) {
				first = b.ClaimDate
			}
		}

		k := revenueKey{first.YearMonth(), sp.Name}
		g := groups[k]
		if g == nil {
			g = &RevenueRow{YearMonth: k.yearMonth, Specialty: k.specialty}
			groups[k] = g
		}
		for _, b := range claims {
			g.ClaimCount++
			g.TotalClaimed += b.ClaimAmount
			g.TotalAllowed += b.AllowedAmount
		}
	}

	rows := make([]RevenueRow, 0, len(groups))
	for _, g := range groups {
		g.AvgAllowed = AverageMoney(g.TotalAllowed, g.ClaimCount)
		rows = append(rows, *g)
	}
	SortRevenue(rows)
	return rows, nil
}
