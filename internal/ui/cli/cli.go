package cli

import (
	"flag"
	"time"
)

const versionString = "0.4.0"

const (
	defaultBenchTicks   = 500
	defaultTickInterval = 16 * time.Millisecond
)

type cliOptions struct {
	configPath     string
	bench          bool
	ticks          int
	tickInterval   time.Duration
	reportPath     string
	seed           uint64
	simulate       bool
	watch          bool
	verifyGrammars bool
	verbose        bool
	version        bool
	args           []string
}

func parseOptions(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("synsched", flag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", "", "Path to config file (default ./synsched.toml when present)")
	fs.BoolVar(&opts.bench, "bench", false, "Run a headless simulated editing session and write a report")
	fs.IntVar(&opts.ticks, "ticks", defaultBenchTicks, "Number of editor ticks to run in --bench mode")
	fs.DurationVar(&opts.tickInterval, "tick-interval", defaultTickInterval, "Delay between editor ticks")
	fs.StringVar(&opts.reportPath, "report", "", "Write the bench report to this path (.json, .tsv or markdown)")
	fs.Uint64Var(&opts.seed, "seed", 1, "Seed for simulated editor activity")
	fs.BoolVar(&opts.simulate, "simulate", false, "Drive the dashboard with simulated typing, scrolling and focus changes")
	fs.BoolVar(&opts.watch, "watch", false, "Reload open files when they change on disk")
	fs.BoolVar(&opts.verifyGrammars, "verify-grammars", false, "Verify grammar artifacts against the configured manifest and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if opts.ticks < 0 {
		opts.ticks = 0
	}
	if opts.tickInterval < 0 {
		opts.tickInterval = 0
	}

	opts.args = fs.Args()
	return opts, nil
}
