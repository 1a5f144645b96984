package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	published   TIMESTAMPTZ,
	source_url  TEXT NOT NULL DEFAULT '',
	pdf_url     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	raw_text    TEXT,
	chunk_count INT NOT NULL DEFAULT 0,
	parsed_at   TIMESTAMPTZ,
	embedded_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '1.0',
	section    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS diffs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	policy_id        TEXT NOT NULL REFERENCES policies(id),
	diff_type        TEXT NOT NULL,
	severity         TEXT NOT NULL,
	affected_section TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL,
	recommendation   TEXT NOT NULL DEFAULT '',
	review_status    TEXT NOT NULL DEFAULT 'pending',
	reviewed_by      TEXT,
	reviewed_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_diffs_severity ON diffs (severity);
CREATE INDEX IF NOT EXISTS idx_diffs_review ON diffs (review_status);

CREATE TABLE IF NOT EXISTS score_snapshots (
	id              TEXT PRIMARY KEY,
	score           DOUBLE PRECISION NOT NULL,
	total_issues    INT NOT NULL DEFAULT 0,
	pending_reviews INT NOT NULL DEFAULT 0,
	critical_issues INT NOT NULL DEFAULT 0,
	high_issues     INT NOT NULL DEFAULT 0,
	breakdown       JSONB,
	notes           TEXT,
	calculated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_calculated ON score_snapshots (calculated_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	alert_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	document_id     TEXT,
	diff_id         TEXT,
	delivered       BOOLEAN NOT NULL DEFAULT false,
	delivered_at    TIMESTAMPTZ,
	acknowledged    BOOLEAN NOT NULL DEFAULT false,
	acknowledged_by TEXT,
	acknowledged_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	action       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'in_progress',
	document_id  TEXT,
	input        JSONB,
	output       JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	duration_ms  BIGINT
);

CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_log (stage, started_at DESC);
`

// SeedPolicies is the starter policy set loaded into an empty store so the
// Compare stage has something to evaluate documents against.
var SeedPolicies = []model.Policy{
	{
		Name:    "Customer Due Diligence",
		Version: "2.1",
		Section: "KYC-4",
		Content: "All customer accounts must complete identity verification before " +
			"activation. Enhanced due diligence applies to accounts flagged as high " +
			"risk, with review renewal every 12 months.",
		Active: true,
	},
	{
		Name:    "Transaction Monitoring Thresholds",
		Version: "1.4",
		Section: "TM-2",
		Content: "Single transactions above 10,000 EUR and cumulative daily transfers " +
			"above 25,000 EUR require automated screening and analyst review within " +
			"24 hours of detection.",
		Active: true,
	},
	{
		Name:    "Data Retention",
		Version: "3.0",
		Section: "DR-1",
		Content: "Customer records and transaction logs are retained for seven years " +
			"after account closure. Deletion requests are honored only where no " +
			"regulatory hold applies.",
		Active: true,
	},
	{
		Name:    "Incident Reporting",
		Version: "1.2",
		Section: "IR-3",
		Content: "Operational incidents affecting payment availability must be " +
			"reported to the competent authority within 4 hours of classification " +
			"as major, with a full report within 72 hours.",
		Active: true,
	},
	{
		Name:    "Outsourcing Oversight",
		Version: "1.0",
		Section: "OS-5",
		Content: "Critical third-party providers require annual risk assessments and " +
			"contractual audit rights. Cloud concentration risk is reviewed " +
			"quarterly by the risk committee.",
		Active: true,
	},
}

// EnsureSeedPolicies inserts the seed policy set when the store holds no
// active policies. Safe to call on every startup.
func EnsureSeedPolicies(ctx context.Context, s Store) error {
	existing, err := s.ListActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("checking existing policies: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for i := range SeedPolicies {
		p := SeedPolicies[i]
		if err := s.CreatePolicy(ctx, &p); err != nil {
			return fmt.Errorf("seeding policy %q: %w", p.Name, err)
		}
	}
	return nil
}
