package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Detectors  DetectorsConfig  `mapstructure:"detectors"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
}

// ServerConfig holds HTTP server settings for the serve command.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DetectorsConfig gathers every detector's tunable thresholds.
type DetectorsConfig struct {
	Structuring StructuringConfig `mapstructure:"structuring"`
	Takeover    TakeoverConfig    `mapstructure:"takeover"`
	Kiting      KitingConfig      `mapstructure:"kiting"`
	Dormancy    DormancyConfig    `mapstructure:"dormancy"`
	Anomaly     AnomalyConfig     `mapstructure:"anomaly"`
	Identity    IdentityConfig    `mapstructure:"identity"`
}

// StructuringConfig tunes the cash-structuring detector.
type StructuringConfig struct {
	ReportingThreshold float64 `mapstructure:"reporting_threshold"` // CTR threshold ($10,000)
	NearLow            float64 `mapstructure:"near_low"`
	NearHigh           float64 `mapstructure:"near_high"`
	RollingDays        int     `mapstructure:"rolling_days"`
	MinDays            int     `mapstructure:"min_days"`
	SplitDayCap        int     `mapstructure:"split_day_cap"`
	RepeatCount        int     `mapstructure:"repeat_count"`
	RepeatWindowDays   int     `mapstructure:"repeat_window_days"`
}

// TakeoverConfig tunes the account-takeover detector.
type TakeoverConfig struct {
	BruteForceFailures int           `mapstructure:"brute_force_failures"`
	RapidFireWindow    time.Duration `mapstructure:"rapid_fire_window"`
	IPVelocityLimit    int           `mapstructure:"ip_velocity_limit"`
	ProfileWindow      time.Duration `mapstructure:"profile_window"` // profile-change-then-transfer
	NightStartHour     int           `mapstructure:"night_start_hour"`
	NightEndHour       int           `mapstructure:"night_end_hour"`
	LargeQuantile      float64       `mapstructure:"large_quantile"`
}

// KitingConfig tunes the kiting detector.
type KitingConfig struct {
	MaxCycleLength     int `mapstructure:"max_cycle_length"`
	ClearingWindowDays int `mapstructure:"clearing_window_days"`
}

// DormancyConfig tunes the dormant-reactivation detector.
type DormancyConfig struct {
	DormancyDays        int           `mapstructure:"dormancy_days"`
	SevereDormancyYears int           `mapstructure:"severe_dormancy_years"`
	DigitalDollarFloor  float64       `mapstructure:"digital_dollar_floor"`
	LargeFirstMultiple  float64       `mapstructure:"large_first_multiple"`
	RapidPairWindow     time.Duration `mapstructure:"rapid_pair_window"`
	ClusterWindowDays   int           `mapstructure:"cluster_window_days"`
	FallbackSample      int           `mapstructure:"fallback_sample"`
}

// AnomalyConfig tunes the isolation-forest anomaly detector.
type AnomalyConfig struct {
	Contamination float64 `mapstructure:"contamination"`
	Trees         int     `mapstructure:"trees"`
	Seed          int64   `mapstructure:"seed"`
	TopFeatures   int     `mapstructure:"top_features"`
}

// IdentityConfig tunes the multi-identity detector.
type IdentityConfig struct {
	ClusterMinAccounts int           `mapstructure:"cluster_min_accounts"`
	CriticalAccounts   int           `mapstructure:"critical_accounts"`
	CreationWindowDays int           `mapstructure:"creation_window_days"`
	SharedIPWindow     time.Duration `mapstructure:"shared_ip_window"`
	SharedIPUsers      int           `mapstructure:"shared_ip_users"`
}

// ScoringConfig tunes the aggregator.
type ScoringConfig struct {
	Mode AggregationMode `mapstructure:"mode"`

	// DetectorWeights overrides the default weight of 1.0 per
	// detector in weighted mode, keyed by detector name.
	DetectorWeights map[string]float64 `mapstructure:"detector_weights"`

	// TriggerThreshold is the normalized score above which a detector
	// counts as "triggered" for an entity in weighted mode.
	TriggerThreshold float64 `mapstructure:"trigger_threshold"`
}

// DefaultConfig returns the default configuration: SQLite repository,
// in-memory cache, channel bus, and the documented detector defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Detectors: DetectorsConfig{
			Structuring: StructuringConfig{
				ReportingThreshold: 10000,
				NearLow:            8000,
				NearHigh:           9999.99,
				RollingDays:        7,
				MinDays:            3,
				SplitDayCap:        10,
				RepeatCount:        3,
				RepeatWindowDays:   7,
			},
			Takeover: TakeoverConfig{
				BruteForceFailures: 5,
				RapidFireWindow:    5 * time.Minute,
				IPVelocityLimit:    3,
				ProfileWindow:      48 * time.Hour,
				NightStartHour:     0,
				NightEndHour:       5,
				LargeQuantile:      0.90,
			},
			Kiting: KitingConfig{
				MaxCycleLength:     10,
				ClearingWindowDays: 3,
			},
			Dormancy: DormancyConfig{
				DormancyDays:        365,
				SevereDormancyYears: 5,
				DigitalDollarFloor:  1000,
				LargeFirstMultiple:  3.0,
				RapidPairWindow:     72 * time.Hour,
				ClusterWindowDays:   7,
				FallbackSample:      20,
			},
			Anomaly: AnomalyConfig{
				Contamination: 0.05,
				Trees:         200,
				Seed:          42,
				TopFeatures:   3,
			},
			Identity: IdentityConfig{
				ClusterMinAccounts: 3,
				CriticalAccounts:   5,
				CreationWindowDays: 365,
				SharedIPWindow:     30 * time.Minute,
				SharedIPUsers:      3,
			},
		},
		Scoring: ScoringConfig{
			Mode:             ModeWeighted,
			TriggerThreshold: 0.5,
		},
	}
}
