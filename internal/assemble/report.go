package assemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"git.home.luguber.info/inful/docpress/internal/metrics"
)

// Outcome is the typed enumeration of final run result states.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "warning"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Issue is a structured, machine-parseable problem entry. Message is
// human-friendly; Stage plus Severity allow automated handling.
type Issue struct {
	Stage    StageName      `json:"stage"`
	Severity StageErrorKind `json:"severity"`
	Message  string         `json:"message"`
}

// StageCount aggregates classification counts for one stage.
type StageCount struct {
	Success  int `json:"success"`
	Warning  int `json:"warning"`
	Fatal    int `json:"fatal"`
	Canceled int `json:"canceled"`
}

// Report captures high-level metrics about one assembly run.
type Report struct {
	RunID        string                   `json:"run_id"`
	ManifestHash string                   `json:"manifest_hash"`
	Start        time.Time                `json:"start"`
	End          time.Time                `json:"end"`
	Outcome      Outcome                  `json:"outcome"`
	CacheHit     bool                     `json:"cache_hit"`
	DepsFetched  []string                 `json:"deps_fetched,omitempty"`
	AssetsStaged int                      `json:"assets_staged"`
	PagesStaged  int                      `json:"pages_staged"`
	BrokenLinks  int                      `json:"broken_links"`
	Issues       []Issue                  `json:"issues,omitempty"`
	StageCounts  map[StageName]StageCount `json:"stage_counts"`

	StageDurations map[StageName]time.Duration `json:"stage_durations"`

	errors   []error
	warnings []error
}

func newReport(runID string) *Report {
	return &Report{
		RunID:          runID,
		Start:          time.Now(),
		StageCounts:    make(map[StageName]StageCount),
		StageDurations: make(map[StageName]time.Duration),
	}
}

// addStageError records a classified stage error in the issue list and the
// legacy errors/warnings split used for outcome derivation.
func (r *Report) addStageError(se *StageError) {
	r.Issues = append(r.Issues, Issue{Stage: se.Stage, Severity: se.Kind, Message: se.Error()})
	if se.Kind == StageErrorWarning {
		r.warnings = append(r.warnings, se)
		return
	}
	r.errors = append(r.errors, se)
}

// recordStageResult updates per-stage counters and emits metrics.
func (r *Report) recordStageResult(stage StageName, kind StageErrorKind, ok bool, recorder metrics.Recorder) {
	sc := r.StageCounts[stage]
	switch {
	case ok:
		sc.Success++
		recorder.IncStageResult(string(stage), metrics.ResultSuccess)
	case kind == StageErrorWarning:
		sc.Warning++
		recorder.IncStageResult(string(stage), metrics.ResultWarning)
	case kind == StageErrorCanceled:
		sc.Canceled++
		recorder.IncStageResult(string(stage), metrics.ResultCanceled)
	default:
		sc.Fatal++
		recorder.IncStageResult(string(stage), metrics.ResultFatal)
	}
	r.StageCounts[stage] = sc
}

func (r *Report) finish() { r.End = time.Now() }

// deriveOutcome sets Outcome from recorded errors and warnings.
func (r *Report) deriveOutcome() {
	if len(r.errors) > 0 {
		for _, e := range r.errors {
			var se *StageError
			if errors.As(e, &se) && se.Kind == StageErrorCanceled {
				r.Outcome = OutcomeCanceled
				return
			}
		}
		r.Outcome = OutcomeFailed
		return
	}
	if len(r.warnings) > 0 {
		r.Outcome = OutcomeWarning
		return
	}
	r.Outcome = OutcomeSuccess
}

// Summary returns a human-readable single-line summary.
func (r *Report) Summary() string {
	dur := r.End.Sub(r.Start)
	return fmt.Sprintf("run=%s duration=%s assets=%d pages=%d fetched=%d cache_hit=%t outcome=%s",
		r.RunID, dur.Truncate(time.Millisecond), r.AssetsStaged, r.PagesStaged, len(r.DepsFetched), r.CacheHit, r.Outcome)
}

// Persist writes the report as indented JSON. Best effort; errors are
// returned for caller logging but never change the run outcome.
func (r *Report) Persist(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename report: %w", err)
	}
	return nil
}
