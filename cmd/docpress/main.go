package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docpress/internal/assemble"
	"git.home.luguber.info/inful/docpress/internal/cache"
	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/daemon"
	derrors "git.home.luguber.info/inful/docpress/internal/errors"
	"git.home.luguber.info/inful/docpress/internal/events"
	"git.home.luguber.info/inful/docpress/internal/gitfetch"
	"git.home.luguber.info/inful/docpress/internal/history"
	"git.home.luguber.info/inful/docpress/internal/linkcheck"
	"git.home.luguber.info/inful/docpress/internal/manifest"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/registry"
	"git.home.luguber.info/inful/docpress/internal/stager"
	"git.home.luguber.info/inful/docpress/internal/version"
	"git.home.luguber.info/inful/docpress/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Report string `help:"Write the run report as JSON to this path"`
	} `cmd:"" help:"Stage dependencies, compile documentation, and assemble the output tree"`

	Stage struct{} `cmd:"" help:"Stage manifest dependencies into the cache without building"`

	GC struct{} `cmd:"" help:"Remove cached dependency archives no staging run references"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Verify struct {
		Strict bool `help:"Exit non-zero when broken links are found"`
	} `cmd:"" help:"Verify internal links in the assembled output tree"`

	History struct {
		Limit int    `short:"n" help:"Number of runs to show" default:"10"`
		Run   string `help:"Show a single run by ID"`
	} `cmd:"" help:"Show past assembly runs"`

	Daemon struct{} `cmd:"" help:"Run continuously: rebuild on schedule and on changes, serve health/metrics/preview"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	var err error
	switch ctx.Command() {
	case "build":
		err = runBuild()
	case "stage":
		err = runStage()
	case "gc":
		err = runGC()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "verify":
		err = runVerify()
	case "history":
		err = runHistory()
	case "daemon":
		err = runDaemon()
	case "version":
		fmt.Printf("docpress %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}

	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps sentinel failures to the documented exit codes. Errors
// that carry no sentinel fall back to category classification.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return derrors.ExitOK
	case errors.Is(err, stager.ErrResolution):
		return derrors.ExitResolution
	case errors.Is(err, stager.ErrFetch):
		return derrors.ExitFetch
	case errors.Is(err, assemble.ErrClear):
		return derrors.ExitClear
	case errors.Is(err, assemble.ErrCopy):
		return derrors.ExitCopy
	case errors.Is(err, assemble.ErrBuild):
		return derrors.ExitBuild
	case errors.Is(err, assemble.ErrVerify):
		return derrors.ExitVerify
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return derrors.ExitRuntime
	default:
		return derrors.NewCLIErrorAdapter(CLI.Verbose, slog.Default()).ExitCodeFor(err)
	}
}

// loadConfig reads the config file, classifying failures for exit codes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "load configuration")
	}
	return cfg, nil
}

// loadManifest reads and validates the project manifest.
func loadManifest(cfg *config.Config) (*manifest.Manifest, error) {
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "load manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryValidation, "validate manifest")
	}
	return m, nil
}

// newStager wires the dependency stager from configuration.
func newStager(cfg *config.Config, ws *workspace.Manager, recorder metrics.Recorder) (*stager.Stager, error) {
	store, err := cache.New(cfg.Cache.Directory)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "open dependency cache")
	}

	var reg *registry.Client
	if cfg.Registry.URL != "" {
		reg, err = registry.NewClient(cfg.Registry.URL)
		if err != nil {
			return nil, derrors.WrapError(err, derrors.CategoryConfig, "registry client")
		}
	}

	lockPath := filepath.Join(filepath.Dir(cfg.Manifest), "docpress.lock")
	return stager.New(store, reg, gitfetch.NewFetcher(ws.GetPath()),
		stager.WithRetryPolicy(cfg.RetryPolicy()),
		stager.WithRecorder(recorder),
		stager.WithLockfile(lockPath),
	), nil
}

// newPipeline wires the full assembly pipeline from configuration.
func newPipeline(cfg *config.Config, m *manifest.Manifest, st assemble.DepStager, recorder metrics.Recorder) (*assemble.Pipeline, error) {
	store, err := cache.New(cfg.Cache.Directory)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "open dependency cache")
	}
	compiler := &assemble.BinaryCompiler{
		Bin:       cfg.Compiler.Bin,
		ExtraArgs: cfg.Compiler.Args,
		OutputDir: cfg.Compiler.OutputDir,
		DepsDir:   store.PkgsDir(),
		DepsEnv:   cfg.Compiler.DepsEnv,
	}
	return assemble.New(assemble.Config{
		Manifest:     m,
		SourceDir:    cfg.Source,
		OutputDir:    cfg.Output.Directory,
		AssetsDir:    cfg.Assets.Directory,
		ReservedPath: cfg.Output.ReservedPath,
		Compiler:     compiler,
		Stager:       st,
		Recorder:     recorder,
		VerifyLinks:  cfg.Verify.Enabled,
		VerifyStrict: cfg.Verify.Strict,
		Timeout:      cfg.BuildTimeout(),
	})
}

func runBuild() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}

	ws := workspace.NewManager("")
	if err := ws.Create(); err != nil {
		return err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("workspace cleanup", "error", err)
		}
	}()

	recorder := metrics.NoopRecorder{}
	s, err := newStager(cfg, ws, recorder)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, m, s, recorder)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, runErr := p.Run(ctx)
	if report != nil {
		recordRun(ctx, cfg, m.Project, report)
		if CLI.Build.Report != "" {
			if err := report.Persist(CLI.Build.Report); err != nil {
				slog.Warn("write run report", "error", err)
			}
		}
		fmt.Println(report.Summary())
	}
	return runErr
}

// recordRun persists the report in history and publishes it when events are
// enabled. Both are best effort on top of an already-finished run.
func recordRun(ctx context.Context, cfg *config.Config, project string, report *assemble.Report) {
	if cfg.History.Path != "" {
		if store, err := history.New(cfg.History.Path); err != nil {
			slog.Warn("open history store", "error", err)
		} else {
			if err := store.RecordRun(ctx, report); err != nil {
				slog.Warn("record run", "error", err)
			}
			_ = store.Close()
		}
	}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Subject)
		if err != nil {
			slog.Warn("connect event publisher", "error", err)
			return
		}
		defer pub.Close()
		if err := pub.PublishRun(ctx, project, report); err != nil {
			slog.Warn("publish run event", "error", err)
		}
	}
}

func runStage() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}

	ws := workspace.NewManager("")
	if err := ws.Create(); err != nil {
		return err
	}
	defer func() { _ = ws.Cleanup() }()

	s, err := newStager(cfg, ws, metrics.NoopRecorder{})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := s.Stage(ctx, m)
	if err != nil {
		return err
	}
	if res.CacheHit {
		fmt.Printf("dependencies already staged (manifest %s)\n", res.ManifestHash)
		return nil
	}
	fmt.Printf("staged %d dependencies (%d fetched, manifest %s)\n", len(res.Resolved), len(res.Fetched), res.ManifestHash)
	return nil
}

func runGC() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := cache.New(cfg.Cache.Directory)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryConfig, "open dependency cache")
	}
	removed, err := store.GC()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d unreferenced objects\n", removed)
	return nil
}

func runVerify() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	broken, err := linkcheck.VerifyTree(cfg.Output.Directory)
	if err != nil {
		return fmt.Errorf("%w: %v", assemble.ErrVerify, err)
	}
	for _, b := range broken {
		fmt.Printf("%s: %s (%s)\n", b.File, b.Target, b.Reason)
	}
	if len(broken) == 0 {
		fmt.Println("no broken internal links")
		return nil
	}
	if CLI.Verify.Strict {
		return fmt.Errorf("%w: %d broken internal links", assemble.ErrVerify, len(broken))
	}
	fmt.Printf("%d broken internal links\n", len(broken))
	return nil
}

func runHistory() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.New(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if CLI.History.Run != "" {
		rec, err := store.ByRunID(ctx, CLI.History.Run)
		if err != nil {
			return fmt.Errorf("run %s: %w", CLI.History.Run, err)
		}
		printRecord(*rec)
		return nil
	}

	records, err := store.Recent(ctx, CLI.History.Limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		printRecord(rec)
	}
	return nil
}

func printRecord(r history.Record) {
	fmt.Printf("%s  %-8s  %s  pages=%d assets=%d broken=%d cache_hit=%t\n",
		r.End.Format(time.RFC3339), r.Outcome, r.RunID, r.PagesStaged, r.AssetsStaged, r.BrokenLinks, r.CacheHit)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}

	// A persistent workspace keeps git checkouts stable across rebuilds.
	ws := workspace.NewPersistentManager(cfg.Cache.Directory, "work")
	if err := ws.Create(); err != nil {
		return err
	}

	recorder := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	s, err := newStager(cfg, ws, recorder)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, m, s, recorder)
	if err != nil {
		return err
	}

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.New(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = hist.Close() }()
	}

	var pub *events.Publisher
	if cfg.Events.Enabled {
		pub, err = events.NewPublisher(cfg.Events.URL, cfg.Events.Subject)
		if err != nil {
			return derrors.WrapError(err, derrors.CategoryDaemon, "event publisher")
		}
		defer pub.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, p, hist, pub, slog.Default())
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryDaemon, "create daemon")
	}
	if err := d.Start(ctx); err != nil {
		return derrors.WrapError(err, derrors.CategoryDaemon, "start daemon")
	}

	slog.Info("daemon running, waiting for shutdown signal")
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return derrors.WrapError(err, derrors.CategoryDaemon, "stop daemon")
	}
	slog.Info("daemon stopped")
	return nil
}
