package storage

// SQL schemas for the mirror database. Both models live side by side: the
// normalized tables of the entity store and the star schema derived from
// them. Amounts are BIGINT cents, date keys are days since 1970-01-01.
//
// Tables carry no key constraints. Rows come from already validated stores,
// and a reload deletes and re-inserts the same keys inside one transaction.

const oltpSchema = `
CREATE TABLE IF NOT EXISTS specialties (
    specialty_id BIGINT NOT NULL,
    specialty_name VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
    patient_id BIGINT NOT NULL,
    first_name VARCHAR,
    last_name VARCHAR,
    gender VARCHAR,
    birth_date DATE
);

CREATE TABLE IF NOT EXISTS providers (
    provider_id BIGINT NOT NULL,
    provider_name VARCHAR,
    specialty_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_specialty_history (
    provider_id BIGINT NOT NULL,
    specialty_id BIGINT NOT NULL,
    valid_from DATE NOT NULL,
    valid_to DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS encounters (
    encounter_id BIGINT NOT NULL,
    patient_id BIGINT NOT NULL,
    provider_id BIGINT NOT NULL,
    encounter_type VARCHAR NOT NULL,
    encounter_date DATE NOT NULL,
    discharge_date DATE
);

CREATE TABLE IF NOT EXISTS diagnoses (
    diagnosis_id BIGINT NOT NULL,
    icd10_code VARCHAR NOT NULL,
    description VARCHAR
);

CREATE TABLE IF NOT EXISTS procedures (
    procedure_id BIGINT NOT NULL,
    cpt_code VARCHAR NOT NULL,
    description VARCHAR
);

CREATE TABLE IF NOT EXISTS encounter_diagnoses (
    encounter_id BIGINT NOT NULL,
    diagnosis_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS encounter_procedures (
    encounter_id BIGINT NOT NULL,
    procedure_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS billing (
    billing_id BIGINT NOT NULL,
    encounter_id BIGINT NOT NULL,
    claim_date DATE NOT NULL,
    claim_amount_cents BIGINT NOT NULL,
    allowed_amount_cents BIGINT NOT NULL
);
`

const oltpIndexes = `
CREATE INDEX IF NOT EXISTS idx_encounters_patient ON encounters(patient_id);
CREATE INDEX IF NOT EXISTS idx_encounters_provider ON encounters(provider_id);
CREATE INDEX IF NOT EXISTS idx_encounter_diagnoses_encounter ON encounter_diagnoses(encounter_id);
CREATE INDEX IF NOT EXISTS idx_encounter_procedures_encounter ON encounter_procedures(encounter_id);
CREATE INDEX IF NOT EXISTS idx_billing_encounter ON billing(encounter_id);
`

const starSchema = `
CREATE TABLE IF NOT EXISTS dim_date (
    date_key BIGINT NOT NULL,
    full_date DATE NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    year_month VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_patient (
    patient_key BIGINT NOT NULL,
    patient_id BIGINT NOT NULL,
    first_name VARCHAR,
    last_name VARCHAR,
    gender VARCHAR,
    birth_date DATE
);

CREATE TABLE IF NOT EXISTS dim_provider (
    provider_key BIGINT NOT NULL,
    provider_id BIGINT NOT NULL,
    provider_name VARCHAR,
    specialty_id BIGINT NOT NULL,
    specialty_name VARCHAR NOT NULL,
    valid_from DATE,
    valid_to DATE,
    current_flag BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_encounter_type (
    encounter_type_key BIGINT NOT NULL,
    encounter_type_name VARCHAR NOT NULL,
    is_admitted BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_diagnosis (
    diagnosis_key BIGINT NOT NULL,
    diagnosis_id BIGINT NOT NULL,
    icd10_code VARCHAR NOT NULL,
    description VARCHAR
);

CREATE TABLE IF NOT EXISTS dim_procedure (
    procedure_key BIGINT NOT NULL,
    procedure_id BIGINT NOT NULL,
    cpt_code VARCHAR NOT NULL,
    description VARCHAR
);

CREATE TABLE IF NOT EXISTS fact_encounters (
    encounter_key BIGINT NOT NULL,
    encounter_id BIGINT NOT NULL,
    date_key BIGINT NOT NULL,
    provider_key BIGINT NOT NULL,
    encounter_type_key BIGINT NOT NULL,
    patient_key BIGINT NOT NULL,
    is_admitted BOOLEAN NOT NULL,
    discharge_date_key BIGINT,
    has_diagnoses BOOLEAN NOT NULL,
    has_procedures BOOLEAN NOT NULL,
    diagnosis_count BIGINT NOT NULL,
    procedure_count BIGINT NOT NULL,
    has_billing BOOLEAN NOT NULL,
    claim_count BIGINT NOT NULL,
    billing_date_key BIGINT,
    total_claim_amount_cents BIGINT NOT NULL,
    total_allowed_amount_cents BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS bridge_encounter_diagnoses (
    encounter_key BIGINT NOT NULL,
    diagnosis_key BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS bridge_encounter_procedures (
    encounter_key BIGINT NOT NULL,
    procedure_key BIGINT NOT NULL
);
`

const starIndexes = `
CREATE INDEX IF NOT EXISTS idx_fact_patient ON fact_encounters(patient_key);
CREATE INDEX IF NOT EXISTS idx_fact_date ON fact_encounters(date_key);
CREATE INDEX IF NOT EXISTS idx_bridge_diag_encounter ON bridge_encounter_diagnoses(encounter_key);
CREATE INDEX IF NOT EXISTS idx_bridge_proc_encounter ON bridge_encounter_procedures(encounter_key);
`

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
    version VARCHAR NOT NULL,
    loaded_at TIMESTAMP NOT NULL
);
`

// tables lists every data table in load order. Reloads delete in reverse.
var tables = []string{
	"specialties", "patients", "providers", "provider_specialty_history",
	"encounters", "diagnoses", "procedures", "encounter_diagnoses",
	"encounter_procedures", "billing",
	"dim_date", "dim_patient", "dim_provider", "dim_encounter_type",
	"dim_diagnosis", "dim_procedure", "fact_encounters",
	"bridge_encounter_diagnoses", "bridge_encounter_procedures",
}
