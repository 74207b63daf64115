package app

import (
	"fmt"
	"log/slog"

	"synsched/internal/core/config"
	"synsched/internal/engine/parser"
	"synsched/internal/engine/scheduler"
	"synsched/internal/engine/tier"
	"synsched/internal/engine/timing"
)

// TuningFromConfig converts the scheduler-facing sections of cfg.
func TuningFromConfig(cfg *config.Config) (scheduler.Tuning, error) {
	policy, err := PolicyFromConfig(cfg.Tiers)
	if err != nil {
		return scheduler.Tuning{}, err
	}
	return scheduler.Tuning{
		Policy: policy,
		Timing: timing.Params{
			Alpha:          cfg.Timing.EMAAlpha,
			BaseMultiplier: cfg.Timing.BaseMultiplier,
			TimeoutPenalty: cfg.Timing.TimeoutPenalty,
		},
		MaxConcurrency:    cfg.Scheduler.MaxConcurrency,
		HiddenLaunchRate:  cfg.Scheduler.HiddenLaunchRate,
		HiddenLaunchBurst: cfg.Scheduler.HiddenLaunchBurst,
		CooldownBase:      cfg.Scheduler.CooldownBase,
		CooldownMax:       cfg.Scheduler.CooldownMax,
		RecencyCapacity:   cfg.Recency.Capacity,
	}, nil
}

func PolicyFromConfig(t config.Tiers) (tier.Policy, error) {
	var configs [3]tier.Config
	for i, tc := range []config.Tier{t.Small, t.Medium, t.Large} {
		injections, err := tier.ParseInjectionPolicy(tc.Injections)
		if err != nil {
			return tier.Policy{}, fmt.Errorf("tiers.%s: %w", tier.Tier(i), err)
		}
		configs[i] = tier.Config{
			Injections:  injections,
			ViewportCap: tc.ViewportCap,
			ParseHidden: tc.HiddenEnabled(),
			MinTimeout:  tc.MinTimeout,
			MaxTimeout:  tc.MaxTimeout,
		}
	}
	return tier.NewPolicy(tier.Thresholds{MediumBytes: t.MediumBytes, LargeBytes: t.LargeBytes}, configs)
}

// LoaderOptions maps the grammar, injection and language sections onto the
// grammar loader.
func LoaderOptions(cfg *config.Config, logger *slog.Logger) (parser.LoaderOptions, error) {
	rules := make([]parser.InjectionRule, 0, len(cfg.Injections))
	for _, inj := range cfg.Injections {
		rules = append(rules, parser.InjectionRule{Host: inj.Host, Target: inj.Target, Query: inj.Query})
	}

	opts := parser.LoaderOptions{
		ManifestPath: cfg.Grammars.Manifest,
		GrammarsDir:  cfg.Grammars.Dir,
		SkipVerify:   !cfg.Grammars.VerifyEnabled(),
		Injections:   rules,
		Logger:       logger,
	}
	if len(cfg.Languages) > 0 {
		registry, err := parser.BuildLanguageRegistry(languageOverrides(cfg))
		if err != nil {
			return parser.LoaderOptions{}, fmt.Errorf("languages: %w", err)
		}
		opts.Registry = registry
	}
	return opts, nil
}

func languageOverrides(cfg *config.Config) map[string]parser.LanguageOverride {
	overrides := make(map[string]parser.LanguageOverride, len(cfg.Languages))
	for lang, languageCfg := range cfg.Languages {
		overrides[lang] = parser.LanguageOverride{
			Enabled:    languageCfg.Enabled,
			Extensions: append([]string(nil), languageCfg.Extensions...),
			Filenames:  append([]string(nil), languageCfg.Filenames...),
		}
	}
	return overrides
}

// Reconfigure applies a reloaded config to the running session. Grammar and
// language changes need a restart.
func (a *App) Reconfigure(cfg *config.Config) error {
	tuning, err := TuningFromConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.Reconfigure(tuning); err != nil {
		return err
	}

	a.mu.Lock()
	a.Config = cfg
	w := a.activeWatcher
	a.mu.Unlock()
	if w != nil {
		w.SetDebounce(cfg.Watch.Debounce)
	}
	a.logger.Info("configuration applied", "max_concurrency", tuning.MaxConcurrency)
	return nil
}
