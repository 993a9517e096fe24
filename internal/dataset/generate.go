package dataset

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
)

// GenerateOptions sizes a synthetic dataset. The same options always produce
// the same dataset.
type GenerateOptions struct {
	Seed       uint64
	Patients   int
	Providers  int
	Encounters int
	Start      oltp.Date
	Days       int
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Seed:       1,
		Patients:   200,
		Providers:  24,
		Encounters: 2000,
		Start:      oltp.NewDate(2024, time.January, 1),
		Days:       365,
	}
}

var specialtyNames = []string{
	"Cardiology", "Emergency Medicine", "Family Medicine", "Internal Medicine",
	"Neurology", "Oncology", "Orthopedics", "Pediatrics",
}

var encounterTypes = []string{"Outpatient", oltp.EncounterTypeInpatient, "Emergency", "Telehealth"}

var diagnosisCodes = []struct{ code, desc string }{
	{"E11.9", "Type 2 diabetes mellitus without complications"},
	{"I10", "Essential (primary) hypertension"},
	{"I50.9", "Heart failure, unspecified"},
	{"J18.9", "Pneumonia, unspecified organism"},
	{"J44.1", "Chronic obstructive pulmonary disease with exacerbation"},
	{"M54.5", "Low back pain"},
	{"N39.0", "Urinary tract infection, site not specified"},
	{"R07.9", "Chest pain, unspecified"},
	{"S72.001A", "Fracture of unspecified part of neck of right femur"},
	{"Z00.00", "Encounter for general adult medical examination"},
}

var procedureCodes = []struct{ code, desc string }{
	{"36415", "Collection of venous blood by venipuncture"},
	{"71046", "Radiologic examination, chest; 2 views"},
	{"80053", "Comprehensive metabolic panel"},
	{"85025", "Complete blood count with automated differential"},
	{"93000", "Electrocardiogram, routine, with interpretation"},
	{"93306", "Echocardiography, transthoracic, complete"},
	{"99213", "Office visit, established patient, low complexity"},
	{"99223", "Initial hospital care, high complexity"},
}

var (
	firstNames = []string{"Ada", "Ben", "Chloe", "Dev", "Elena", "Farid", "Grace", "Hiro", "Ines", "Jonah"}
	lastNames  = []string{"Adams", "Baker", "Cruz", "Diallo", "Evans", "Fischer", "Garcia", "Huang", "Ito", "Jensen"}
)

// Generate builds a referentially consistent synthetic dataset. Roughly a
// quarter of encounters are inpatient stays, some of them followed by a
// readmission of the same patient within a few weeks, and some encounters
// carry several claims on different dates. A third of the providers changed
// specialty in the past.
func Generate(opts GenerateOptions) (oltp.Dataset, error) {
	d := DefaultGenerateOptions()
	if opts.Patients < 1 {
		opts.Patients = d.Patients
	}
	if opts.Providers < 1 {
		opts.Providers = d.Providers
	}
	if opts.Encounters < 0 {
		return oltp.Dataset{}, fmt.Errorf("negative encounter count %d", opts.Encounters)
	}
	if opts.Start.IsZero() {
		opts.Start = d.Start
	}
	if opts.Days < 1 {
		opts.Days = d.Days
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var ds oltp.Dataset

	for i, name := range specialtyNames {
		ds.Specialties = append(ds.Specialties, oltp.Specialty{ID: int64(i + 1), Name: name})
	}
	for i, c := range diagnosisCodes {
		ds.Diagnoses = append(ds.Diagnoses, oltp.Diagnosis{ID: int64(i + 1), ICD10Code: c.code, Description: c.desc})
	}
	for i, c := range procedureCodes {
		ds.Procedures = append(ds.Procedures, oltp.Procedure{ID: int64(i + 1), CPTCode: c.code, Description: c.desc})
	}

	for i := 1; i <= opts.Patients; i++ {
		birth := oltp.NewDate(1940+rng.IntN(70), time.Month(1+rng.IntN(12)), 1+rng.IntN(28))
		ds.Patients = append(ds.Patients, oltp.Patient{
			ID:        int64(i),
			FirstName: firstNames[rng.IntN(len(firstNames))],
			LastName:  lastNames[rng.IntN(len(lastNames))],
			Gender:    []string{"F", "M"}[rng.IntN(2)],
			BirthDate: &birth,
		})
	}

	for i := 1; i <= opts.Providers; i++ {
		p := oltp.Provider{
			ID:          int64(i),
			Name:        fmt.Sprintf("Dr. %s", lastNames[(i-1)%len(lastNames)]),
			SpecialtyID: int64(1 + rng.IntN(len(specialtyNames))),
		}
		ds.Providers = append(ds.Providers, p)
		if i%3 == 0 {
			prev := 1 + (p.SpecialtyID % int64(len(specialtyNames)))
			to := opts.Start.AddDays(-1)
			ds.ProviderHistory = append(ds.ProviderHistory, oltp.ProviderSpecialtyHistory{
				ProviderID:  p.ID,
				SpecialtyID: prev,
				ValidFrom:   to.AddDays(-365 * (1 + rng.IntN(5))),
				ValidTo:     to,
			})
		}
	}

	g := &generator{rng: rng, opts: opts, ds: &ds}
	for len(ds.Encounters) < opts.Encounters {
		g.encounter(int64(1 + rng.IntN(opts.Patients)))
	}
	return ds, nil
}

type generator struct {
	rng       *rand.Rand
	opts      GenerateOptions
	ds        *oltp.Dataset
	billingID int64
}

func (g *generator) encounter(patientID int64) {
	typ := encounterTypes[g.rng.IntN(len(encounterTypes))]
	date := g.opts.Start.AddDays(g.rng.IntN(g.opts.Days))
	g.add(patientID, typ, date)

	// Follow some discharges with a readmission that lands on either side of
	// the 30 day window.
	if typ == oltp.EncounterTypeInpatient && g.rng.IntN(3) == 0 && len(g.ds.Encounters) < g.opts.Encounters {
		discharge := g.ds.Encounters[len(g.ds.Encounters)-1].DischargeDate
		if discharge != nil {
			g.add(patientID, oltp.EncounterTypeInpatient, discharge.AddDays(1+g.rng.IntN(45)))
		}
	}
}

func (g *generator) add(patientID int64, typ string, date oltp.Date) {
	id := int64(len(g.ds.Encounters) + 1)
	e := oltp.Encounter{
		ID:         id,
		PatientID:  patientID,
		ProviderID: int64(1 + g.rng.IntN(g.opts.Providers)),
		Type:       typ,
		Date:       date,
	}
	// A small share of inpatient stays are still open.
	if typ == oltp.EncounterTypeInpatient && g.rng.IntN(10) > 0 {
		dd := date.AddDays(g.rng.IntN(10))
		e.DischargeDate = &dd
	}
	g.ds.Encounters = append(g.ds.Encounters, e)

	for _, k := range g.pick(len(diagnosisCodes), 3) {
		g.ds.EncounterDiagnoses = append(g.ds.EncounterDiagnoses, oltp.EncounterDiagnosis{EncounterID: id, DiagnosisID: int64(k)})
	}
	for _, k := range g.pick(len(procedureCodes), 3) {
		g.ds.EncounterProcedures = append(g.ds.EncounterProcedures, oltp.EncounterProcedure{EncounterID: id, ProcedureID: int64(k)})
	}

	claims := g.rng.IntN(4) // 0..3, zero leaves the encounter unbilled
	for c := 0; c < claims; c++ {
		g.billingID++
		claimed := oltp.Money(5000 + g.rng.IntN(500000))
		g.ds.Billing = append(g.ds.Billing, oltp.Billing{
			ID:            g.billingID,
			EncounterID:   id,
			ClaimDate:     date.AddDays(g.rng.IntN(60)),
			ClaimAmount:   claimed,
			AllowedAmount: claimed * oltp.Money(40+g.rng.IntN(61)) / 100,
		})
	}
}

// pick returns up to limit distinct ids in [1, n], possibly none.
func (g *generator) pick(n, limit int) []int {
	k := g.rng.IntN(min(limit, n) + 1)
	perm := g.rng.Perm(n)[:k]
	out := make([]int, k)
	for i, v := range perm {
		out[i] = v + 1
	}
	return out
}
