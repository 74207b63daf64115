package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: SYNSCHED_[SECTION]_[KEY] (e.g., SYNSCHED_SCHEDULER_MAX_CONCURRENCY).
func ApplyEnvOverrides(cfg *Config) {
	// Scheduler
	setEnvInt(&cfg.Scheduler.MaxConcurrency, "SYNSCHED_SCHEDULER_MAX_CONCURRENCY")
	setEnvInt(&cfg.Scheduler.ResultBuffer, "SYNSCHED_SCHEDULER_RESULT_BUFFER")
	setEnvDuration(&cfg.Scheduler.CooldownBase, "SYNSCHED_SCHEDULER_COOLDOWN_BASE")
	setEnvDuration(&cfg.Scheduler.CooldownMax, "SYNSCHED_SCHEDULER_COOLDOWN_MAX")
	setEnvFloat64(&cfg.Scheduler.HiddenLaunchRate, "SYNSCHED_SCHEDULER_HIDDEN_LAUNCH_RATE")
	setEnvInt(&cfg.Scheduler.HiddenLaunchBurst, "SYNSCHED_SCHEDULER_HIDDEN_LAUNCH_BURST")

	// Tiers
	setEnvInt(&cfg.Tiers.MediumBytes, "SYNSCHED_TIERS_MEDIUM_BYTES")
	setEnvInt(&cfg.Tiers.LargeBytes, "SYNSCHED_TIERS_LARGE_BYTES")

	// Timing
	setEnvFloat64(&cfg.Timing.EMAAlpha, "SYNSCHED_TIMING_EMA_ALPHA")
	setEnvFloat64(&cfg.Timing.BaseMultiplier, "SYNSCHED_TIMING_BASE_MULTIPLIER")
	setEnvFloat64(&cfg.Timing.TimeoutPenalty, "SYNSCHED_TIMING_TIMEOUT_PENALTY")

	// Recency
	setEnvInt(&cfg.Recency.Capacity, "SYNSCHED_RECENCY_CAPACITY")

	// Grammars
	setEnvString(&cfg.Grammars.Manifest, "SYNSCHED_GRAMMARS_MANIFEST")
	setEnvString(&cfg.Grammars.Dir, "SYNSCHED_GRAMMARS_DIR")

	// Watch
	setEnvBool(&cfg.Watch.Enabled, "SYNSCHED_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "SYNSCHED_WATCH_DEBOUNCE")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "SYNSCHED_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "SYNSCHED_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "SYNSCHED_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "SYNSCHED_OBSERVABILITY_ENABLE_TRACING")

	// Paths
	setEnvString(&cfg.Paths.StateDir, "SYNSCHED_PATHS_STATE_DIR")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		} else {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		} else {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		} else {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		} else {
			slog.Warn("ignoring invalid env override", "key", key, "value", val, "error", err)
		}
	}
}
