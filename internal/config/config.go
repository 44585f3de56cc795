// Package config loads Kestrel configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/openfinsec/kestrel/internal/domain"
)

// Load builds configuration from file, environment, and defaults.
// Environment variables use the KESTREL_ prefix with underscores, e.g.
// KESTREL_REPOSITORY_DRIVER=postgres.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := domain.DefaultConfig()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)

	v.SetDefault("repository.driver", def.Repository.Driver)
	v.SetDefault("repository.sqlite_path", def.Repository.SQLitePath)
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_ssl_mode", "disable")
	v.SetDefault("repository.max_open_conns", 10)
	v.SetDefault("repository.max_idle_conns", 5)
	v.SetDefault("repository.conn_max_lifetime", "30m")

	v.SetDefault("cache.type", def.Cache.Type)
	v.SetDefault("cache.local_max_size", def.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", def.Cache.LocalTTL.String())

	v.SetDefault("eventbus.type", def.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", def.EventBus.ChannelBufferSize)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	d := def.Detectors
	v.SetDefault("detectors.structuring.reporting_threshold", d.Structuring.ReportingThreshold)
	v.SetDefault("detectors.structuring.near_low", d.Structuring.NearLow)
	v.SetDefault("detectors.structuring.near_high", d.Structuring.NearHigh)
	v.SetDefault("detectors.structuring.rolling_days", d.Structuring.RollingDays)
	v.SetDefault("detectors.structuring.min_days", d.Structuring.MinDays)
	v.SetDefault("detectors.structuring.split_day_cap", d.Structuring.SplitDayCap)
	v.SetDefault("detectors.structuring.repeat_count", d.Structuring.RepeatCount)
	v.SetDefault("detectors.structuring.repeat_window_days", d.Structuring.RepeatWindowDays)

	v.SetDefault("detectors.takeover.brute_force_failures", d.Takeover.BruteForceFailures)
	v.SetDefault("detectors.takeover.rapid_fire_window", d.Takeover.RapidFireWindow.String())
	v.SetDefault("detectors.takeover.ip_velocity_limit", d.Takeover.IPVelocityLimit)
	v.SetDefault("detectors.takeover.profile_window", d.Takeover.ProfileWindow.String())
	v.SetDefault("detectors.takeover.night_start_hour", d.Takeover.NightStartHour)
	v.SetDefault("detectors.takeover.night_end_hour", d.Takeover.NightEndHour)
	v.SetDefault("detectors.takeover.large_quantile", d.Takeover.LargeQuantile)

	v.SetDefault("detectors.kiting.max_cycle_length", d.Kiting.MaxCycleLength)
	v.SetDefault("detectors.kiting.clearing_window_days", d.Kiting.ClearingWindowDays)

	v.SetDefault("detectors.dormancy.dormancy_days", d.Dormancy.DormancyDays)
	v.SetDefault("detectors.dormancy.severe_dormancy_years", d.Dormancy.SevereDormancyYears)
	v.SetDefault("detectors.dormancy.digital_dollar_floor", d.Dormancy.DigitalDollarFloor)
	v.SetDefault("detectors.dormancy.large_first_multiple", d.Dormancy.LargeFirstMultiple)
	v.SetDefault("detectors.dormancy.rapid_pair_window", d.Dormancy.RapidPairWindow.String())
	v.SetDefault("detectors.dormancy.cluster_window_days", d.Dormancy.ClusterWindowDays)
	v.SetDefault("detectors.dormancy.fallback_sample", d.Dormancy.FallbackSample)

	v.SetDefault("detectors.anomaly.contamination", d.Anomaly.Contamination)
	v.SetDefault("detectors.anomaly.trees", d.Anomaly.Trees)
	v.SetDefault("detectors.anomaly.seed", d.Anomaly.Seed)
	v.SetDefault("detectors.anomaly.top_features", d.Anomaly.TopFeatures)

	v.SetDefault("detectors.identity.cluster_min_accounts", d.Identity.ClusterMinAccounts)
	v.SetDefault("detectors.identity.critical_accounts", d.Identity.CriticalAccounts)
	v.SetDefault("detectors.identity.creation_window_days", d.Identity.CreationWindowDays)
	v.SetDefault("detectors.identity.shared_ip_window", d.Identity.SharedIPWindow.String())
	v.SetDefault("detectors.identity.shared_ip_users", d.Identity.SharedIPUsers)

	v.SetDefault("scoring.mode", string(def.Scoring.Mode))
	v.SetDefault("scoring.trigger_threshold", def.Scoring.TriggerThreshold)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func Validate(c *domain.Config) error {
	switch c.Scoring.Mode {
	case domain.ModeWeighted, domain.ModeAdditive:
	default:
		return fmt.Errorf("scoring.mode must be %q or %q", domain.ModeWeighted, domain.ModeAdditive)
	}
	if c.Scoring.TriggerThreshold < 0 || c.Scoring.TriggerThreshold > 1 {
		return fmt.Errorf("scoring.trigger_threshold must be in [0,1]")
	}
	for name, w := range c.Scoring.DetectorWeights {
		if w < 0 {
			return fmt.Errorf("scoring.detector_weights.%s cannot be negative", name)
		}
	}

	s := c.Detectors.Structuring
	if s.ReportingThreshold <= 0 {
		return fmt.Errorf("detectors.structuring.reporting_threshold must be positive")
	}
	if s.NearLow >= s.NearHigh {
		return fmt.Errorf("detectors.structuring.near_low must be below near_high")
	}
	if s.NearHigh >= s.ReportingThreshold {
		return fmt.Errorf("detectors.structuring.near_high must be below the reporting threshold")
	}

	if c.Detectors.Kiting.MaxCycleLength < 2 {
		return fmt.Errorf("detectors.kiting.max_cycle_length must be at least 2")
	}

	a := c.Detectors.Anomaly
	if a.Contamination <= 0 || a.Contamination >= 1 {
		return fmt.Errorf("detectors.anomaly.contamination must be in (0,1)")
	}
	if a.Trees <= 0 {
		return fmt.Errorf("detectors.anomaly.trees must be positive")
	}

	if c.Detectors.Identity.ClusterMinAccounts < 2 {
		return fmt.Errorf("detectors.identity.cluster_min_accounts must be at least 2")
	}

	return nil
}
