// Package daemon runs the continuous publishing loop: rebuilds on a schedule
// and on filesystem changes, serializes runs so at most one build executes at
// a time, and serves health, metrics, and a preview of the output tree.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/docpress/internal/assemble"
	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/events"
	"git.home.luguber.info/inful/docpress/internal/history"
	"git.home.luguber.info/inful/docpress/internal/logfields"
)

// Builder executes one assembly run.
type Builder interface {
	Run(ctx context.Context) (*assemble.Report, error)
}

// Daemon owns the rebuild loop and its triggers.
type Daemon struct {
	cfg       *config.Config
	builder   Builder
	history   *history.Store    // optional
	publisher *events.Publisher // nil when events are disabled
	logger    *slog.Logger

	scheduler gocron.Scheduler
	watcher   *Watcher
	debouncer *Debouncer
	http      *HTTPServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	building   bool
	pending    bool
	lastReport *assemble.Report
	startTime  time.Time
}

// New wires a daemon from configuration. history and publisher may be nil.
func New(cfg *config.Config, builder Builder, hist *history.Store, pub *events.Publisher, logger *slog.Logger) (*Daemon, error) {
	if builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg:       cfg,
		builder:   builder,
		history:   hist,
		publisher: pub,
		logger:    logger,
	}, nil
}

// Start launches the triggers and the HTTP server, then runs an initial
// build. It returns once everything is running; Stop shuts it down.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.startTime = time.Now()
	d.debouncer = NewDebouncer(d.cfg.DaemonQuietWindow(), d.cfg.DaemonMaxDelay(), d.startBuild)

	if interval := d.cfg.DaemonInterval(); interval > 0 {
		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		job, err := s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() { d.Trigger("schedule") }),
			gocron.WithName("scheduled-rebuild"),
		)
		if err != nil {
			return fmt.Errorf("create rebuild job: %w", err)
		}
		d.scheduler = s
		s.Start()
		d.logger.Info("scheduled rebuilds enabled",
			logfields.ScheduleID(job.ID().String()),
			slog.Duration("interval", interval))
	}

	if d.cfg.Daemon.Watch {
		paths := []string{d.cfg.Manifest, d.cfg.Source, d.cfg.Assets.Directory}
		w, err := NewWatcher(paths, d.Trigger, d.logger)
		if err != nil {
			return err
		}
		d.watcher = w
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.Run(d.ctx)
		}()
	}

	d.http = NewHTTPServer(d.cfg.Daemon.HTTPAddr, d)
	if err := d.http.Start(); err != nil {
		return err
	}

	d.startBuild("startup")
	return nil
}

// Trigger requests a rebuild; bursts are coalesced by the debouncer.
func (d *Daemon) Trigger(reason string) {
	d.debouncer.Trigger(reason)
}

// startBuild begins a build unless one is already running, in which case
// exactly one follow-up is queued.
func (d *Daemon) startBuild(reason string) {
	d.mu.Lock()
	if d.building {
		d.pending = true
		d.mu.Unlock()
		d.logger.Debug("build already running, queuing follow-up", "reason", reason)
		return
	}
	d.building = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.buildLoop(reason)
	}()
}

// buildLoop runs builds until no follow-up is pending.
func (d *Daemon) buildLoop(reason string) {
	for {
		if d.ctx.Err() != nil {
			d.mu.Lock()
			d.building = false
			d.pending = false
			d.mu.Unlock()
			return
		}

		d.logger.Info("build starting", "reason", reason)
		report, err := d.builder.Run(d.ctx)
		if err != nil {
			d.logger.Error("build failed", logfields.Error(err))
		}
		if report != nil {
			d.finishRun(report)
		}

		d.mu.Lock()
		if d.pending {
			d.pending = false
			d.mu.Unlock()
			reason = "queued"
			continue
		}
		d.building = false
		d.mu.Unlock()
		return
	}
}

// finishRun records the report in history, publishes the run event, and
// updates preview gating state.
func (d *Daemon) finishRun(report *assemble.Report) {
	d.mu.Lock()
	d.lastReport = report
	d.mu.Unlock()

	if d.history != nil {
		if err := d.history.RecordRun(d.ctx, report); err != nil {
			d.logger.Warn("record run history", logfields.Error(err))
		}
	}
	project := ""
	if d.cfg != nil {
		project = d.cfg.Manifest
	}
	if err := d.publisher.PublishRun(d.ctx, project, report); err != nil {
		d.logger.Warn("publish run event", logfields.Error(err))
	}
}

// LastReport returns the most recent finished report, or nil.
func (d *Daemon) LastReport() *assemble.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport
}

// Building reports whether a build is currently executing.
func (d *Daemon) Building() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.building
}

// Stop shuts down triggers and the HTTP server, then waits for an in-flight
// build to finish or the context to expire.
func (d *Daemon) Stop(ctx context.Context) error {
	d.logger.Info("daemon stopping")
	if d.debouncer != nil {
		d.debouncer.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			d.logger.Warn("scheduler shutdown", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	if d.http != nil {
		if err := d.http.Stop(ctx); err != nil {
			d.logger.Warn("http shutdown", logfields.Error(err))
		}
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
