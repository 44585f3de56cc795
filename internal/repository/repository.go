// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/openfinsec/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// sqlitePragmas tune the embedded store for concurrent readers with a
// single writer.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openSQLite opens the embedded store, creating the parent directory
// on first use. modernc.org/sqlite keeps the build CGO-free.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path
	for i, pragma := range sqlitePragmas {
		if i == 0 {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dsn += "_pragma=" + pragma
	}
	return open("sqlite", dsn)
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host, port := cfg.PostgresHost, cfg.PostgresPort
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	name := cfg.PostgresDB
	if name == "" {
		name = "kestrel"
	}
	ssl := cfg.PostgresSSLMode
	if ssl == "" {
		ssl = "disable"
	}

	dsn := strings.Join([]string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"user=" + cfg.PostgresUser,
		"password=" + cfg.PostgresPassword,
		"dbname=" + name,
		"sslmode=" + ssl,
	}, " ")
	return open("postgres", dsn)
}

func open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a run header, replacing any previous record with the
// same id so reruns stay idempotent.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.AssessmentRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	detectors, _ := json.Marshal(run.Detectors)

	query := `
		INSERT INTO runs (
			id, mode, started_at, finished_at, detectors,
			signal_count, alert_count, entity_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			detectors = excluded.detectors,
			signal_count = excluded.signal_count,
			alert_count = excluded.alert_count,
			entity_count = excluded.entity_count
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.Mode), run.StartedAt, run.FinishedAt,
		string(detectors), run.SignalCount, run.AlertCount, run.EntityCount,
	)
	return err
}

// GetRun retrieves a run by id.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.AssessmentRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, mode, started_at, finished_at, detectors,
			   signal_count, alert_count, entity_count
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns retrieves the most recent runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.AssessmentRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, mode, started_at, finished_at, detectors,
			   signal_count, alert_count, entity_count
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.AssessmentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.AssessmentRun, error) {
	var run domain.AssessmentRun
	var mode, detectors string

	err := row.Scan(
		&run.ID, &mode, &run.StartedAt, &run.FinishedAt, &detectors,
		&run.SignalCount, &run.AlertCount, &run.EntityCount,
	)
	if err != nil {
		return nil, err
	}
	run.Mode = domain.AggregationMode(mode)
	json.Unmarshal([]byte(detectors), &run.Detectors)
	return &run, nil
}

// SaveAssessments stores a run's composite records in one
// transaction, replacing any records from an earlier save of the same
// run.
func (r *SQLRepository) SaveAssessments(ctx context.Context, runID string, records []domain.CompositeRecord) error {
	if runID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM assessments WHERE run_id = ?`), runID); err != nil {
		return err
	}

	query := `
		INSERT INTO assessments (
			run_id, entity_key, account_id, user_id, member_number,
			score, points, tier, detectors, fraud_types, alert_count, evidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		detectors, _ := json.Marshal(rec.Detectors)
		fraudTypes, _ := json.Marshal(rec.FraudTypes)
		if _, err := stmt.ExecContext(ctx,
			runID, rec.EntityKey, rec.AccountID, rec.UserID, rec.MemberNumber,
			rec.Score, rec.Points, string(rec.Tier),
			string(detectors), string(fraudTypes), rec.AlertCount, rec.Evidence,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListAssessments retrieves a run's records, worst first.
func (r *SQLRepository) ListAssessments(ctx context.Context, runID string) ([]domain.CompositeRecord, error) {
	return r.queryAssessments(ctx,
		`SELECT entity_key, account_id, user_id, member_number,
				score, points, tier, detectors, fraud_types, alert_count, evidence
		 FROM assessments
		 WHERE run_id = ?
		 ORDER BY score DESC, entity_key`,
		runID,
	)
}

// ListAssessmentsByTier retrieves a run's records for one tier.
func (r *SQLRepository) ListAssessmentsByTier(ctx context.Context, runID string, tier domain.Tier) ([]domain.CompositeRecord, error) {
	return r.queryAssessments(ctx,
		`SELECT entity_key, account_id, user_id, member_number,
				score, points, tier, detectors, fraud_types, alert_count, evidence
		 FROM assessments
		 WHERE run_id = ? AND tier = ?
		 ORDER BY score DESC, entity_key`,
		runID, string(tier),
	)
}

func (r *SQLRepository) queryAssessments(ctx context.Context, query string, args ...any) ([]domain.CompositeRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CompositeRecord
	for rows.Next() {
		var rec domain.CompositeRecord
		var tier, detectors, fraudTypes string

		if err := rows.Scan(
			&rec.EntityKey, &rec.AccountID, &rec.UserID, &rec.MemberNumber,
			&rec.Score, &rec.Points, &tier,
			&detectors, &fraudTypes, &rec.AlertCount, &rec.Evidence,
		); err != nil {
			return nil, err
		}
		rec.Tier = domain.Tier(tier)
		json.Unmarshal([]byte(detectors), &rec.Detectors)
		json.Unmarshal([]byte(fraudTypes), &rec.FraudTypes)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveRuleConfig stores a screening rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	version := rule.Version
	if version == "" {
		version = "1"
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, fraud_type, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			fraud_type = excluded.fraud_type,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, version,
		rule.Expression, rule.FraudType, string(rule.Severity), enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the newest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, version, expression, fraud_type, severity, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var severity string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
		&cfg.Expression, &cfg.FraudType, &severity, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Severity = domain.Severity(strings.ToUpper(severity))
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListRuleConfigs retrieves every enabled rule, newest version per id.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, fraud_type, severity, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var severity string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
			&cfg.Expression, &cfg.FraudType, &severity, &enabled,
		); err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			continue
		}
		seen[cfg.ID] = true

		cfg.Severity = domain.Severity(strings.ToUpper(severity))
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
