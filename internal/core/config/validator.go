package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

var injectionPolicies = map[string]bool{"eager": true, "lazy": true, "off": true}

// Validate returns every problem found in cfg.
func Validate(cfg *Config) []error {
	var errs []error

	if err := validateVersion(cfg); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateScheduler(cfg)...)
	errs = append(errs, validateTiers(cfg)...)
	if err := validateTiming(cfg); err != nil {
		errs = append(errs, err)
	}
	if cfg.Recency.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("recency.capacity must be > 0, got %d", cfg.Recency.Capacity))
	}
	errs = append(errs, validateInjections(cfg)...)
	if err := validateLanguages(cfg); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateWatch(cfg)...)

	// Semantic / cross-field validation
	errs = append(errs, validateConfigDependencies(cfg)...)

	// Path verification
	errs = append(errs, validatePaths(cfg)...)

	return errs
}

func validationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateScheduler(cfg *Config) []error {
	var errs []error
	s := cfg.Scheduler
	if s.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrency must be > 0, got %d", s.MaxConcurrency))
	}
	if s.ResultBuffer <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.result_buffer must be > 0, got %d", s.ResultBuffer))
	}
	if s.CooldownBase <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.cooldown_base must be > 0"))
	}
	if s.CooldownMax < s.CooldownBase {
		errs = append(errs, fmt.Errorf("scheduler.cooldown_max (%s) must be >= cooldown_base (%s)", s.CooldownMax, s.CooldownBase))
	}
	if s.HiddenLaunchRate < 0 {
		errs = append(errs, fmt.Errorf("scheduler.hidden_launch_rate must be >= 0"))
	}
	if s.HiddenLaunchBurst <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.hidden_launch_burst must be > 0"))
	}
	return errs
}

func validateTiers(cfg *Config) []error {
	var errs []error
	t := cfg.Tiers
	if t.MediumBytes <= 0 {
		errs = append(errs, fmt.Errorf("tiers.medium_bytes must be > 0"))
	}
	if t.LargeBytes <= t.MediumBytes {
		errs = append(errs, fmt.Errorf("tiers.large_bytes (%d) must exceed tiers.medium_bytes (%d)", t.LargeBytes, t.MediumBytes))
	}
	for _, named := range []struct {
		name string
		tier Tier
	}{{"small", t.Small}, {"medium", t.Medium}, {"large", t.Large}} {
		ref := "tiers." + named.name
		if !injectionPolicies[named.tier.Injections] {
			errs = append(errs, fmt.Errorf("%s.injections must be one of: eager, lazy, off", ref))
		}
		if named.tier.ViewportCap <= 0 {
			errs = append(errs, fmt.Errorf("%s.viewport_cap must be > 0", ref))
		}
		if named.tier.MinTimeout <= 0 || named.tier.MaxTimeout < named.tier.MinTimeout {
			errs = append(errs, fmt.Errorf("%s timeouts must satisfy 0 < min_timeout <= max_timeout", ref))
		}
	}
	return errs
}

func validateTiming(cfg *Config) error {
	t := cfg.Timing
	if t.EMAAlpha <= 0 || t.EMAAlpha > 1 {
		return fmt.Errorf("timing.ema_alpha must be in (0, 1], got %v", t.EMAAlpha)
	}
	if t.BaseMultiplier < 1 {
		return fmt.Errorf("timing.base_multiplier must be >= 1, got %v", t.BaseMultiplier)
	}
	if t.TimeoutPenalty < 0 {
		return fmt.Errorf("timing.timeout_penalty must be >= 0, got %v", t.TimeoutPenalty)
	}
	return nil
}

func validateInjections(cfg *Config) []error {
	var errs []error
	for i, inj := range cfg.Injections {
		ref := fmt.Sprintf("injections[%d]", i)
		if inj.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host must not be empty", ref))
		}
		if inj.Target == "" {
			errs = append(errs, fmt.Errorf("%s.target must not be empty", ref))
		}
		if !strings.Contains(inj.Query, "@injection.content") {
			errs = append(errs, fmt.Errorf("%s.query must capture @injection.content", ref))
		}
	}
	return errs
}

func validateLanguages(cfg *Config) error {
	for language, settings := range cfg.Languages {
		if strings.TrimSpace(language) == "" {
			return fmt.Errorf("languages key must not be empty")
		}
		for _, ext := range settings.Extensions {
			if strings.TrimSpace(ext) == "" {
				return fmt.Errorf("languages.%s.extensions must not include empty values", language)
			}
		}
		for _, name := range settings.Filenames {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("languages.%s.filenames must not include empty values", language)
			}
			if _, err := glob.Compile(name); err != nil {
				return fmt.Errorf("languages.%s.filenames: invalid pattern %q: %w", language, name, err)
			}
		}
	}
	return nil
}

func validateWatch(cfg *Config) []error {
	var errs []error
	if cfg.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be >= 0"))
	}
	for i, pattern := range cfg.Watch.Exclude {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, fmt.Errorf("watch.exclude[%d]: invalid pattern %q: %w", i, pattern, err))
		}
	}
	return errs
}

func validateConfigDependencies(cfg *Config) []error {
	var errs []error

	if cfg.Observability.Enabled && strings.TrimSpace(cfg.Observability.Address) == "" {
		errs = append(errs, fmt.Errorf("observability.address is required when observability is enabled"))
	}
	if cfg.Observability.EnableTracing && strings.TrimSpace(cfg.Observability.OTLPEndpoint) == "" {
		errs = append(errs, fmt.Errorf("observability.otlp_endpoint is required when tracing is enabled"))
	}
	if cfg.Grammars.Dir != "" && cfg.Grammars.Manifest == "" {
		errs = append(errs, fmt.Errorf("grammars.dir is set but grammars.manifest is empty"))
	}

	return errs
}

func validatePaths(cfg *Config) []error {
	var errs []error

	if cfg.Grammars.Manifest != "" {
		stat, err := os.Stat(cfg.Grammars.Manifest)
		if os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("grammars.manifest %q does not exist", cfg.Grammars.Manifest))
		} else if err == nil && stat.IsDir() {
			errs = append(errs, fmt.Errorf("grammars.manifest %q is a directory", cfg.Grammars.Manifest))
		}
	}
	if cfg.Grammars.Dir != "" {
		stat, err := os.Stat(cfg.Grammars.Dir)
		if os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("grammars.dir %q does not exist", cfg.Grammars.Dir))
		} else if err == nil && !stat.IsDir() {
			errs = append(errs, fmt.Errorf("grammars.dir %q is not a directory", cfg.Grammars.Dir))
		}
	}

	return errs
}
