package domain

import (
	"context"
	"time"
)

// Repository defines the interface for persisting runs, per-entity
// assessments, and screening rule configurations.
type Repository interface {
	// Run lifecycle
	SaveRun(ctx context.Context, run *AssessmentRun) error
	GetRun(ctx context.Context, runID string) (*AssessmentRun, error)
	ListRuns(ctx context.Context, limit int) ([]*AssessmentRun, error)

	// Per-entity composite records for a run
	SaveAssessments(ctx context.Context, runID string, records []CompositeRecord) error
	ListAssessments(ctx context.Context, runID string) ([]CompositeRecord, error)
	ListAssessmentsByTier(ctx context.Context, runID string, tier Tier) ([]CompositeRecord, error)

	// Screening rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
