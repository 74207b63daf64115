package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"synsched/internal/core/ports"
	"synsched/internal/engine/scheduler"
)

// BenchReport summarizes a headless run.
type BenchReport struct {
	SchemaVersion int                `json:"schema_version"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
	Ticks         uint64             `json:"ticks"`
	SchedulerID   string             `json:"scheduler_id"`
	Counters      scheduler.Counters `json:"counters"`
	Documents     []BenchDocument    `json:"documents"`
	Timing        []BenchTiming      `json:"timing"`
}

type BenchDocument struct {
	Path             string `json:"path"`
	Language         string `json:"language"`
	Tier             string `json:"tier"`
	Size             int    `json:"size"`
	Version          uint64 `json:"version"`
	InstalledVersion uint64 `json:"installed_version"`
	InstalledLane    string `json:"installed_lane,omitempty"`
	Epoch            uint64 `json:"epoch"`
	Unavailable      bool   `json:"unavailable"`
	LastError        string `json:"last_error,omitempty"`
}

type BenchTiming struct {
	Language    string        `json:"language"`
	Tier        string        `json:"tier"`
	Class       string        `json:"class"`
	Injections  bool          `json:"injections"`
	Average     time.Duration `json:"average"`
	TimeoutRate float64       `json:"timeout_rate"`
	Samples     int           `json:"samples"`
}

// NewBenchReport captures the final state of a run.
func NewBenchReport(started time.Time, final ports.Update) BenchReport {
	r := BenchReport{
		SchemaVersion: 1,
		StartedAt:     started.UTC(),
		Duration:      final.At.Sub(started),
		Ticks:         final.Tick,
		SchedulerID:   final.Scheduler.ID,
		Counters:      final.Scheduler.Counters,
	}
	for _, doc := range final.Documents {
		bd := BenchDocument{
			Path:             doc.Path,
			Language:         doc.Language,
			Tier:             doc.Schedule.Tier.String(),
			Size:             doc.Size,
			Version:          doc.Version,
			InstalledVersion: doc.Schedule.InstalledVersion,
			Epoch:            doc.Schedule.Epoch,
			Unavailable:      doc.Schedule.Unavailable,
		}
		if doc.Schedule.HasTree {
			bd.InstalledLane = doc.Schedule.InstalledLane.String()
		}
		if doc.Schedule.LastError != nil {
			bd.LastError = doc.Schedule.LastError.Error()
		}
		r.Documents = append(r.Documents, bd)
	}
	for _, e := range final.Scheduler.Timing {
		r.Timing = append(r.Timing, BenchTiming{
			Language:    e.Key.Language,
			Tier:        e.Key.Tier.String(),
			Class:       e.Key.Class.String(),
			Injections:  e.Key.Injections,
			Average:     e.EMA,
			TimeoutRate: e.TimeoutRate,
			Samples:     e.Samples,
		})
	}
	return r
}

func RenderBenchJSON(report BenchReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func RenderBenchTSV(report BenchReport) ([]byte, error) {
	var buf strings.Builder

	buf.WriteString("Path\tLanguage\tTier\tSize\tVersion\tInstalledVersion\tInstalledLane\tEpoch\tUnavailable\tLastError\n")
	for _, doc := range report.Documents {
		buf.WriteString(fmt.Sprintf(
			"%s\t%s\t%s\t%d\t%d\t%d\t%s\t%d\t%t\t%s\n",
			doc.Path,
			doc.Language,
			doc.Tier,
			doc.Size,
			doc.Version,
			doc.InstalledVersion,
			doc.InstalledLane,
			doc.Epoch,
			doc.Unavailable,
			strings.ReplaceAll(doc.LastError, "\t", " "),
		))
	}

	return []byte(buf.String()), nil
}

func RenderBenchMarkdown(report BenchReport) ([]byte, error) {
	var b strings.Builder
	c := report.Counters

	b.WriteString("# Scheduler bench\n\n")
	fmt.Fprintf(&b, "- Started: %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s over %d ticks\n", report.Duration.Round(time.Millisecond), report.Ticks)
	fmt.Fprintf(&b, "- Tasks: launched=%d collected=%d installed=%d discarded=%d failed=%d timed_out=%d\n\n",
		c.Launched, c.Collected, c.Installed, c.Discarded, c.Failed, c.TimedOut)

	b.WriteString("## Documents\n\n")
	b.WriteString("| Path | Language | Tier | Version | Installed | Lane |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, doc := range report.Documents {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s |\n",
			doc.Path, doc.Language, doc.Tier, doc.Version, doc.InstalledVersion, doc.InstalledLane)
	}

	if len(report.Timing) > 0 {
		b.WriteString("\n## Timing\n\n")
		b.WriteString("| Language | Tier | Class | Injections | Average | Timeout rate | Samples |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, e := range report.Timing {
			fmt.Fprintf(&b, "| %s | %s | %s | %t | %s | %.2f | %d |\n",
				e.Language, e.Tier, e.Class, e.Injections, e.Average.Round(time.Microsecond), e.TimeoutRate, e.Samples)
		}
	}
	return []byte(b.String()), nil
}

// Render picks a renderer from the file extension of path: .json, .tsv or
// markdown for anything else.
func Render(path string, report BenchReport) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return RenderBenchJSON(report)
	case ".tsv":
		return RenderBenchTSV(report)
	default:
		return RenderBenchMarkdown(report)
	}
}

// WriteAtomic replaces path through a temp file in the same directory.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".synsched-report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	writeErr := error(nil)
	if _, err := tmp.Write(data); err != nil {
		writeErr = fmt.Errorf("write temp report %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close temp report %q: %w", tmpName, err)
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return writeErr
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace report %q: %w", path, err)
	}
	return nil
}
