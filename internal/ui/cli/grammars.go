package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"synsched/internal/core/config"
	"synsched/internal/engine/parser/grammar"
)

func runGrammarsCommand(args []string) int {
	if len(args) == 0 {
		printGrammarHelp(os.Stdout)
		return 1
	}

	fs := flag.NewFlagSet("synsched grammars", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to detect working directory: %v\n", err)
		return 1
	}
	cfg, _, err := loadConfig(*configPath, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "list":
		return listGrammars(cfg, os.Stdout)
	case "verify":
		return verifyGrammars(cfg, os.Stdout)
	default:
		fmt.Printf("Unknown grammar command: %s\n", args[0])
		printGrammarHelp(os.Stdout)
		return 1
	}
}

func printGrammarHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: synsched grammars <command> [--config path]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  list     List grammars from the configured manifest")
	fmt.Fprintln(w, "  verify   Check ABI versions and checksums of manifest artifacts")
}

// grammarManifest loads the configured manifest. ok is false when none is
// configured, in which case only built-in grammars are in use.
func grammarManifest(cfg *config.Config) (manifest grammar.Manifest, baseDir string, ok bool, err error) {
	if cfg.Grammars.Manifest == "" {
		return grammar.Manifest{}, "", false, nil
	}
	manifest, err = grammar.LoadManifest(cfg.Grammars.Manifest)
	if err != nil {
		return grammar.Manifest{}, "", true, err
	}
	baseDir = cfg.Grammars.Dir
	if baseDir == "" {
		baseDir = filepath.Dir(cfg.Grammars.Manifest)
	}
	return manifest, baseDir, true, nil
}

func listGrammars(cfg *config.Config, out io.Writer) int {
	manifest, _, ok, err := grammarManifest(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load manifest: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(out, "No grammar manifest configured (grammars.manifest); built-in grammars only.")
		return 0
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tABI\tSYMBOL\tPATH\tSOURCE")
	for _, art := range manifest.Artifacts {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", art.Language, art.ABIVersion, art.SymbolName(), art.SharedObjectPath, art.Source)
	}
	w.Flush()
	return 0
}

func verifyGrammars(cfg *config.Config, out io.Writer) int {
	manifest, baseDir, ok, err := grammarManifest(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load manifest: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(out, "No grammar manifest configured; no checks were run.")
		return 0
	}
	if !cfg.Grammars.VerifyEnabled() {
		fmt.Fprintln(out, "Grammar verification is disabled in config (grammars.verify=false); no checks were run.")
		return 0
	}

	issues, err := grammar.VerifyArtifacts(baseDir, manifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grammar verification failed: %v\n", err)
		return 1
	}
	if len(issues) == 0 {
		fmt.Fprintf(out, "Grammar verification passed: %d artifacts match manifest checksums and allowed ABI versions.\n", len(manifest.Artifacts))
		return 0
	}
	for _, issue := range issues {
		fmt.Fprintln(out, issue.String())
	}
	fmt.Fprintf(out, "Grammar verification failed: %d issues detected.\n", len(issues))
	return 1
}
