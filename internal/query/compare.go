package query

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"
)

// Options bundles the tunables of the parameterized queries.
type Options struct {
	Pairs       PairOptions
	Readmission ReadmissionOptions
}

func DefaultOptions() Options {
	return Options{Pairs: DefaultPairOptions(), Readmission: DefaultReadmissionOptions()}
}

// Results holds the output of all four queries from one executor.
type Results struct {
	Executor          string                      `json:"executor"`
	MonthlyEncounters []MonthlyEncountersRow      `json:"monthly_encounters"`
	DiagnosisPairs    []DiagnosisProcedurePairRow `json:"diagnosis_procedure_pairs"`
	Readmissions      []ReadmissionRow            `json:"readmissions"`
	Revenue           []RevenueRow                `json:"revenue"`
}

// Rows returns the rows of one query as an untyped value.
func (r *Results) Rows(name Name) any {
	switch name {
	case MonthlyEncounters:
		return r.MonthlyEncounters
	case DiagnosisPairs:
		return r.DiagnosisPairs
	case Readmissions:
		return r.Readmissions
	case Revenue:
		return r.Revenue
	}
	return nil
}

// Run executes a single named query.
func Run(ctx context.Context, x Executor, name Name, opts Options) (any, error) {
	switch name {
	case MonthlyEncounters:
		return x.MonthlyEncounters(ctx)
	case DiagnosisPairs:
		return x.TopDiagnosisProcedurePairs(ctx, opts.Pairs)
	case Readmissions:
		return x.ReadmissionRates(ctx, opts.Readmission)
	case Revenue:
		return x.RevenueBySpecialtyMonth(ctx)
	}
	return nil, fmt.Errorf("unknown query %q", name)
}

// RunAll executes the four queries concurrently. The first failure cancels
// the rest.
func RunAll(ctx context.Context, x Executor, opts Options) (*Results, error) {
	res := &Results{Executor: x.Name()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		res.MonthlyEncounters, err = x.MonthlyEncounters(ctx)
		return wrapRun(x, MonthlyEncounters, err)
	})
	g.Go(func() (err error) {
		res.DiagnosisPairs, err = x.TopDiagnosisProcedurePairs(ctx, opts.Pairs)
		return wrapRun(x, DiagnosisPairs, err)
	})
	g.Go(func() (err error) {
		res.Readmissions, err = x.ReadmissionRates(ctx, opts.Readmission)
		return wrapRun(x, Readmissions, err)
	})
	g.Go(func() (err error) {
		res.Revenue, err = x.RevenueBySpecialtyMonth(ctx)
		return wrapRun(x, Revenue, err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func wrapRun(x Executor, name Name, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", x.Name(), name, err)
	}
	return nil
}

// Mismatch describes the first difference found in one query's output.
type Mismatch struct {
	Query     Name   `json:"query"`
	Row       int    `json:"row"`
	LeftRows  int    `json:"left_rows"`
	RightRows int    `json:"right_rows"`
	Left      string `json:"left,omitempty"`
	Right     string `json:"right,omitempty"`
}

// Diff is the outcome of comparing two executors.
type Diff struct {
	Left       string     `json:"left"`
	Right      string     `json:"right"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (d *Diff) Equal() bool { return len(d.Mismatches) == 0 }

// Compare runs every query on both executors and reports where the results
// differ row by row.
func Compare(ctx context.Context, left, right Executor, opts Options) (*Diff, error) {
	var l, r *Results
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		l, err = RunAll(ctx, left, opts)
		return err
	})
	g.Go(func() (err error) {
		r, err = RunAll(ctx, right, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Diff{Left: left.Name(), Right: right.Name(), Mismatches: []Mismatch{}}
	for _, name := range Names {
		if m, ok := firstMismatch(name, l.Rows(name), r.Rows(name)); ok {
			d.Mismatches = append(d.Mismatches, m)
		}
	}
	return d, nil
}

func firstMismatch(name Name, left, right any) (Mismatch, bool) {
	lv, rv := reflect.ValueOf(left), reflect.ValueOf(right)
	m := Mismatch{Query: name, Row: -1, LeftRows: lv.Len(), RightRows: rv.Len()}

	n := min(lv.Len(), rv.Len())
	for i := 0; i < n; i++ {
		a, b := lv.Index(i).Interface(), rv.Index(i).Interface()
		if !reflect.DeepEqual(a, b) {
			m.Row = i
			m.Left, m.Right = describe(a), describe(b)
			return m, true
		}
	}
	if lv.Len() != rv.Len() {
		m.Row = n
		return m, true
	}
	return m, false
}

func describe(row any) string {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%+v", row)
	}
	return string(b)
}
