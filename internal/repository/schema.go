package repository

// Schema definitions, compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    detectors TEXT NOT NULL,
    signal_count INTEGER NOT NULL DEFAULT 0,
    alert_count INTEGER NOT NULL DEFAULT 0,
    entity_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    run_id TEXT NOT NULL,
    entity_key TEXT NOT NULL,
    account_id TEXT,
    user_id TEXT,
    member_number TEXT,
    score REAL NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    tier TEXT NOT NULL,
    detectors TEXT NOT NULL,
    fraud_types TEXT,
    alert_count INTEGER NOT NULL DEFAULT 0,
    evidence TEXT,
    PRIMARY KEY (run_id, entity_key)
);

CREATE INDEX IF NOT EXISTS idx_assessments_run ON assessments(run_id);
CREATE INDEX IF NOT EXISTS idx_assessments_tier ON assessments(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_assessments_score ON assessments(run_id, score);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    fraud_type TEXT,
    severity TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaAssessments,
		schemaRuleConfigs,
	}
}
