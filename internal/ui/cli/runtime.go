package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	coreapp "synsched/internal/core/app"
	"synsched/internal/core/config"
	"synsched/internal/core/ports"
	"synsched/internal/shared/observability"
	"synsched/internal/ui/report"
)

func Run(args []string) int {
	if len(args) > 0 && args[0] == "grammars" {
		return runGrammarsCommand(args[1:])
	}

	opts, err := parseOptions(args)
	if err != nil {
		return 2
	}

	if opts.version {
		fmt.Printf("synsched v%s\n", versionString)
		return 0
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to detect working directory: %v\n", err)
		return 1
	}

	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	applyModeOptions(opts, cfg)

	cleanupLogs := configureLogging(cfg, !opts.bench && !opts.verifyGrammars, opts.verbose)
	defer cleanupLogs()
	if cfgPath != "" {
		slog.Debug("config loaded", "path", cfgPath)
	}

	if opts.verifyGrammars {
		return verifyGrammars(cfg, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := coreapp.New(cfg, coreapp.Deps{Logger: slog.Default()})
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("app close failed", "error", err)
		}
	}()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.EnableTracing,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: versionString,
		InstanceID:     a.Scheduler().ID(),
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.Insecure,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if cfg.Observability.Enabled {
		server := NewObservabilityServer(cfg.Observability.Address, coreapp.NewHealthService(a), a.SessionService().Snapshot)
		if err := server.Start(ctx); err != nil {
			slog.Error("failed to start observability server", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(shutdownCtx)
		}()
	}

	svc := a.SessionService()
	if err := openDocuments(ctx, svc, opts.args); err != nil {
		slog.Error("failed to open documents", "error", err)
		return 1
	}
	if opts.bench && len(opts.args) == 0 {
		if err := openSampleDocuments(ctx, svc); err != nil {
			slog.Error("failed to open sample documents", "error", err)
			return 1
		}
	}

	if cfgPath != "" {
		cfgWatcher := config.NewWatcher(cfgPath, cfg.Watch.Debounce, func(next *config.Config) {
			applyModeOptions(opts, next)
			if err := a.Reconfigure(next); err != nil {
				slog.Warn("config reload rejected", "path", cfgPath, "error", err)
				return
			}
			slog.Info("config reloaded", "path", cfgPath)
		})
		if err := cfgWatcher.Start(ctx); err != nil {
			slog.Warn("config watcher unavailable", "path", cfgPath, "error", err)
		} else {
			defer cfgWatcher.Stop()
		}
	}

	if cfg.Watch.Enabled {
		if err := a.StartWatcher(); err != nil {
			slog.Error("failed to start file watcher", "error", err)
			return 1
		}
	}

	simOpts := coreapp.DefaultSimulatorOptions()
	simOpts.Seed = opts.seed

	if opts.bench {
		if err := runBench(ctx, svc, coreapp.NewSimulator(svc, simOpts), opts, os.Stdout); err != nil {
			slog.Error("bench failed", "error", err)
			return 1
		}
		return 0
	}

	var sim ports.Simulator
	if opts.simulate {
		sim = coreapp.NewSimulator(svc, simOpts)
	}
	if err := runUI(ctx, svc, sim, opts.tickInterval); err != nil {
		slog.Error("failed to run UI", "error", err)
		return 1
	}
	return 0
}

// loadConfig returns the defaults with environment overrides when no config
// file is found. The returned path is empty in that case.
func loadConfig(explicit, cwd string) (*config.Config, string, error) {
	path := config.FindConfigFile(explicit, cwd)
	if path == "" {
		cfg := config.DefaultConfig()
		config.ApplyEnvOverrides(cfg)
		return cfg, "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", abs, err)
	}
	return cfg, abs, nil
}

// applyModeOptions layers command-line switches over a loaded config. It runs
// again on every reload.
func applyModeOptions(opts cliOptions, cfg *config.Config) {
	if opts.watch {
		cfg.Watch.Enabled = true
	}
	if opts.verifyGrammars {
		verify := true
		cfg.Grammars.Verify = &verify
	}
}

func openDocuments(ctx context.Context, svc ports.SessionService, paths []string) error {
	for _, path := range paths {
		view, err := svc.Open(ctx, path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		slog.Debug("document opened", "path", view.Path, "language", view.Language, "size", view.Size)
	}
	return nil
}

var sampleSources = []struct {
	name, language string
	unit           string
	repeat         int
}{
	{"sample/main.go", "go", "func handler%d(w io.Writer) error {\n\t_, err := fmt.Fprintln(w, %d)\n\treturn err\n}\n\n", 40},
	{"sample/big.go", "go", "// block %d\nvar table%d = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}\n\n", 6000},
	{"sample/tool.py", "python", "def step_%d(x):\n    return x + %d\n\n", 200},
	{"sample/lib.rs", "rust", "pub fn item_%d() -> u32 {\n    %d\n}\n\n", 120},
}

// openSampleDocuments seeds a bench run with documents spanning the size
// tiers when no files were given.
func openSampleDocuments(ctx context.Context, svc ports.SessionService) error {
	for _, src := range sampleSources {
		var buf bytes.Buffer
		if src.language == "go" {
			buf.WriteString("package sample\n\n")
		}
		for i := range src.repeat {
			fmt.Fprintf(&buf, src.unit, i, i)
		}
		if _, err := svc.OpenContent(ctx, src.name, src.language, buf.Bytes()); err != nil {
			return fmt.Errorf("open %s: %w", src.name, err)
		}
	}
	return nil
}

// runBench drives sim for opts.ticks ticks, then writes the report to
// opts.reportPath or, when unset, prints it as markdown to out.
func runBench(ctx context.Context, svc ports.SessionService, sim ports.Simulator, opts cliOptions, out io.Writer) error {
	started := time.Now()
	for i := 0; i < opts.ticks; i++ {
		if ctx.Err() != nil {
			slog.Info("bench interrupted", "ticks", i)
			break
		}
		if err := sim.Step(ctx); err != nil {
			return err
		}
		if opts.tickInterval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.tickInterval):
			}
		}
	}

	final, err := svc.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	rep := report.NewBenchReport(started, final)

	if opts.reportPath == "" {
		data, err := report.RenderBenchMarkdown(rep)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	data, err := report.Render(opts.reportPath, rep)
	if err != nil {
		return err
	}
	if err := report.WriteAtomic(opts.reportPath, data); err != nil {
		return err
	}
	c := rep.Counters
	fmt.Fprintf(out, "bench: %d ticks in %s, %d launched, %d installed, report written to %s\n",
		rep.Ticks, rep.Duration.Round(time.Millisecond), c.Launched, c.Installed, opts.reportPath)
	return nil
}

// configureLogging writes to stdout, or to synsched.log in the state
// directory while the dashboard owns the terminal.
func configureLogging(cfg *config.Config, uiMode, verbose bool) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := os.Stdout
	var closeFn func() = func() {}
	if uiMode {
		logPath, err := resolveLogPath(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		} else if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err == nil {
					output = f
					closeFn = func() { _ = f.Close() }
				} else {
					fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath(cfg *config.Config) (string, error) {
	dir, err := config.ResolveStateDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "synsched.log"), nil
}
