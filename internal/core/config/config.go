package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultFile = "synsched.toml"

type Config struct {
	Version       int                 `toml:"version"`
	Scheduler     Scheduler           `toml:"scheduler"`
	Tiers         Tiers               `toml:"tiers"`
	Timing        Timing              `toml:"timing"`
	Recency       Recency             `toml:"recency"`
	Grammars      Grammars            `toml:"grammars"`
	Injections    []Injection         `toml:"injections"`
	Languages     map[string]Language `toml:"languages"`
	Observability Observability       `toml:"observability"`
	Watch         Watch               `toml:"watch"`
	Paths         Paths               `toml:"paths"`
}

type Scheduler struct {
	MaxConcurrency    int           `toml:"max_concurrency"`
	ResultBuffer      int           `toml:"result_buffer"`
	CooldownBase      time.Duration `toml:"cooldown_base"`
	CooldownMax       time.Duration `toml:"cooldown_max"`
	HiddenLaunchRate  float64       `toml:"hidden_launch_rate"`
	HiddenLaunchBurst int           `toml:"hidden_launch_burst"`
}

type Tiers struct {
	MediumBytes int  `toml:"medium_bytes"`
	LargeBytes  int  `toml:"large_bytes"`
	Small       Tier `toml:"small"`
	Medium      Tier `toml:"medium"`
	Large       Tier `toml:"large"`
}

type Tier struct {
	// Injections is one of eager, lazy or off.
	Injections  string        `toml:"injections"`
	ViewportCap int           `toml:"viewport_cap"`
	ParseHidden *bool         `toml:"parse_hidden"`
	MinTimeout  time.Duration `toml:"min_timeout"`
	MaxTimeout  time.Duration `toml:"max_timeout"`
}

// HiddenEnabled reports whether the tier parses documents nobody is looking
// at.
func (t Tier) HiddenEnabled() bool {
	return t.ParseHidden == nil || *t.ParseHidden
}

type Timing struct {
	EMAAlpha       float64 `toml:"ema_alpha"`
	BaseMultiplier float64 `toml:"base_multiplier"`
	TimeoutPenalty float64 `toml:"timeout_penalty"`
}

type Recency struct {
	Capacity int `toml:"capacity"`
}

type Grammars struct {
	// Manifest lists dynamically loaded grammars. Empty means built-ins only.
	Manifest string `toml:"manifest"`
	// Dir is the base directory for the manifest's shared objects. Defaults
	// to the manifest's directory.
	Dir    string `toml:"dir"`
	Verify *bool  `toml:"verify"`
}

func (g Grammars) VerifyEnabled() bool {
	if g.Verify == nil {
		return true
	}
	return *g.Verify
}

type Injection struct {
	Host   string `toml:"host"`
	Target string `toml:"target"`
	Query  string `toml:"query"`
}

type Language struct {
	Enabled    *bool    `toml:"enabled"`
	Extensions []string `toml:"extensions"`
	Filenames  []string `toml:"filenames"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Address       string `toml:"address"`
	EnableTracing bool   `toml:"enable_tracing"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	Insecure      bool   `toml:"insecure"`
	ServiceName   string `toml:"service_name"`
}

type Watch struct {
	Enabled  bool          `toml:"enabled"`
	Debounce time.Duration `toml:"debounce"`
	Exclude  []string      `toml:"exclude"`
}

type Paths struct {
	// StateDir holds the log file and bench reports. Empty resolves to the
	// XDG state directory.
	StateDir string `toml:"state_dir"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load decodes path, fills defaults, applies SYNSCHED_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse is Load for an in-memory document.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalize(&cfg)

	if err := validationError(Validate(&cfg)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if cfg.Scheduler.MaxConcurrency == 0 {
		cfg.Scheduler.MaxConcurrency = 4
	}
	if cfg.Scheduler.ResultBuffer == 0 {
		cfg.Scheduler.ResultBuffer = 256
	}
	if cfg.Scheduler.CooldownBase == 0 {
		cfg.Scheduler.CooldownBase = 250 * time.Millisecond
	}
	if cfg.Scheduler.CooldownMax == 0 {
		cfg.Scheduler.CooldownMax = 30 * time.Second
	}
	if cfg.Scheduler.HiddenLaunchRate == 0 {
		cfg.Scheduler.HiddenLaunchRate = 8
	}
	if cfg.Scheduler.HiddenLaunchBurst == 0 {
		cfg.Scheduler.HiddenLaunchBurst = 4
	}

	if cfg.Tiers.MediumBytes == 0 {
		cfg.Tiers.MediumBytes = 256 * 1024
	}
	if cfg.Tiers.LargeBytes == 0 {
		cfg.Tiers.LargeBytes = 4 * 1024 * 1024
	}
	applyTierDefaults(&cfg.Tiers.Small, "eager", 64*1024, true, 40*time.Millisecond, 2*time.Second)
	applyTierDefaults(&cfg.Tiers.Medium, "lazy", 32*1024, true, 80*time.Millisecond, 5*time.Second)
	applyTierDefaults(&cfg.Tiers.Large, "off", 16*1024, false, 120*time.Millisecond, 10*time.Second)

	if cfg.Timing.EMAAlpha == 0 {
		cfg.Timing.EMAAlpha = 0.3
	}
	if cfg.Timing.BaseMultiplier == 0 {
		cfg.Timing.BaseMultiplier = 3
	}
	if cfg.Timing.TimeoutPenalty == 0 {
		cfg.Timing.TimeoutPenalty = 4
	}

	if cfg.Recency.Capacity == 0 {
		cfg.Recency.Capacity = 8
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "synsched"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 200 * time.Millisecond
	}
}

func applyTierDefaults(t *Tier, injections string, viewportCap int, hidden bool, minTimeout, maxTimeout time.Duration) {
	if strings.TrimSpace(t.Injections) == "" {
		t.Injections = injections
	}
	if t.ViewportCap == 0 {
		t.ViewportCap = viewportCap
	}
	if t.ParseHidden == nil {
		t.ParseHidden = &hidden
	}
	if t.MinTimeout == 0 {
		t.MinTimeout = minTimeout
	}
	if t.MaxTimeout == 0 {
		t.MaxTimeout = maxTimeout
	}
}

func normalize(cfg *Config) {
	for _, t := range []*Tier{&cfg.Tiers.Small, &cfg.Tiers.Medium, &cfg.Tiers.Large} {
		t.Injections = strings.ToLower(strings.TrimSpace(t.Injections))
	}
	for i := range cfg.Injections {
		cfg.Injections[i].Host = strings.TrimSpace(cfg.Injections[i].Host)
		cfg.Injections[i].Target = strings.TrimSpace(cfg.Injections[i].Target)
	}
	cfg.Grammars.Manifest = strings.TrimSpace(cfg.Grammars.Manifest)
	cfg.Grammars.Dir = strings.TrimSpace(cfg.Grammars.Dir)
	cfg.Paths.StateDir = strings.TrimSpace(cfg.Paths.StateDir)
}
