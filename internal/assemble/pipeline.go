// Package assemble implements the artifact assembly pipeline: it stages
// dependencies, clears the output tree, copies static assets, compiles the
// project documentation, stages it under the reserved subpath, and optionally
// verifies internal links. Stages run sequentially; the first fatal error
// aborts the run.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docpress/internal/linkcheck"
	"git.home.luguber.info/inful/docpress/internal/logfields"
	"git.home.luguber.info/inful/docpress/internal/manifest"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/stager"
)

// DefaultReservedPath is the output subpath reserved for compiled docs.
const DefaultReservedPath = "doc"

// DefaultTimeout bounds a full assembly run.
const DefaultTimeout = 30 * time.Minute

// DepStager stages manifest dependencies into the cache.
type DepStager interface {
	Stage(ctx context.Context, m *manifest.Manifest) (*stager.Result, error)
}

// Config assembles a Pipeline.
type Config struct {
	Manifest  *manifest.Manifest
	SourceDir string
	OutputDir string
	AssetsDir string // empty means no static assets

	// ReservedPath is the output subpath owned by compiled docs.
	// Defaults to DefaultReservedPath.
	ReservedPath string

	Compiler DocCompiler
	Stager   DepStager // nil skips dependency staging
	Recorder metrics.Recorder
	Logger   *slog.Logger

	VerifyLinks  bool
	VerifyStrict bool

	// Timeout bounds the whole run. Defaults to DefaultTimeout.
	Timeout time.Duration

	// VerifyFn overrides the link verifier, for tests.
	VerifyFn func(root string) ([]linkcheck.BrokenLink, error)
}

// Pipeline executes the assembly stages for one project.
type Pipeline struct {
	Manifest     *manifest.Manifest
	SourceDir    string
	OutputDir    string
	AssetsDir    string
	ReservedPath string
	Compiler     DocCompiler
	Stager       DepStager
	Recorder     metrics.Recorder
	VerifyLinks  bool
	VerifyStrict bool
	Timeout      time.Duration

	verify func(root string) ([]linkcheck.BrokenLink, error)
	logger *slog.Logger
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("documentation compiler is required")
	}
	p := &Pipeline{
		Manifest:     cfg.Manifest,
		SourceDir:    cfg.SourceDir,
		OutputDir:    cfg.OutputDir,
		AssetsDir:    cfg.AssetsDir,
		ReservedPath: cfg.ReservedPath,
		Compiler:     cfg.Compiler,
		Stager:       cfg.Stager,
		Recorder:     cfg.Recorder,
		VerifyLinks:  cfg.VerifyLinks,
		VerifyStrict: cfg.VerifyStrict,
		Timeout:      cfg.Timeout,
		verify:       cfg.VerifyFn,
		logger:       cfg.Logger,
	}
	if p.ReservedPath == "" {
		p.ReservedPath = DefaultReservedPath
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Recorder == nil {
		p.Recorder = metrics.NoopRecorder{}
	}
	if p.verify == nil {
		p.verify = linkcheck.VerifyTree
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.Stager != nil && p.Manifest == nil {
		return nil, fmt.Errorf("manifest is required when dependency staging is enabled")
	}
	return p, nil
}

// Run executes all stages in order. The returned Report is always non-nil
// and already finished; err is the first fatal or canceled stage error.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	report := newReport(uuid.NewString())
	st := newState(p, report)
	log := p.logger.With(logfields.RunID(report.RunID))
	log.Info("assembly run starting")

	stages := []StageDef{
		{Name: StageDeps, Fn: stageDeps},
		{Name: StageClearOutput, Fn: stageClearOutput},
		{Name: StageAssets, Fn: stageAssets},
		{Name: StageBuildDocs, Fn: stageBuildDocs},
		{Name: StageDocs, Fn: stageDocs},
	}
	if p.VerifyLinks {
		stages = append(stages, StageDef{Name: StageVerifyLinks, Fn: stageVerifyLinks})
	}

	err := runStages(ctx, st, stages)
	report.finish()
	report.deriveOutcome()
	p.Recorder.ObserveRunDuration(report.End.Sub(report.Start))
	p.Recorder.IncRunOutcome(outcomeLabel(report.Outcome))

	log.Info("assembly run finished",
		logfields.Outcome(string(report.Outcome)),
		logfields.DurationMS(float64(report.End.Sub(report.Start).Milliseconds())))
	return report, err
}

func outcomeLabel(o Outcome) metrics.OutcomeLabel {
	switch o {
	case OutcomeSuccess:
		return metrics.OutcomeSuccess
	case OutcomeWarning:
		return metrics.OutcomeWarning
	case OutcomeCanceled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}
