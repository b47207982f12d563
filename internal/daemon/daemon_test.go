package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.home.luguber.info/inful/docpress/internal/assemble"
	"git.home.luguber.info/inful/docpress/internal/config"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var fires atomic.Int64
	d := NewDebouncer(50*time.Millisecond, time.Second, func(string) { fires.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger("change")
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fires.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := fires.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestDebouncerMaxDelayCapsPostponement(t *testing.T) {
	var fires atomic.Int64
	d := NewDebouncer(100*time.Millisecond, 300*time.Millisecond, func(string) { fires.Add(1) })
	defer d.Stop()

	// A steady stream faster than the quiet window would postpone forever
	// without the cap.
	stop := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(stop) {
		d.Trigger("stream")
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(time.Second)
	for fires.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fires.Load() == 0 {
		t.Fatal("max delay did not force a fire during a steady trigger stream")
	}
}

// blockingBuilder blocks until released, counting runs.
type blockingBuilder struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
	started chan struct{}
}

func newBlockingBuilder() *blockingBuilder {
	return &blockingBuilder{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (b *blockingBuilder) Run(ctx context.Context) (*assemble.Report, error) {
	b.mu.Lock()
	b.runs++
	b.mu.Unlock()
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &assemble.Report{RunID: "test", Outcome: assemble.OutcomeSuccess}, nil
}

func (b *blockingBuilder) runCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Manifest: "docpress.yaml",
		Source:   t.TempDir(),
		Output:   config.OutputConfig{Directory: t.TempDir(), ReservedPath: "doc"},
		Compiler: config.CompilerConfig{Bin: "texide"},
		Daemon:   config.DaemonConfig{HTTPAddr: "127.0.0.1:0", QuietWindow: "10ms", MaxDelay: "50ms"},
		Build:    config.BuildConfig{Timeout: "30m"},
	}
}

func TestSingleFlightCoalescesConcurrentTriggers(t *testing.T) {
	builder := newBlockingBuilder()
	d, err := New(testConfig(t), builder, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.ctx, d.cancel = context.WithCancel(t.Context())
	defer d.cancel()

	// First build starts and blocks.
	d.startBuild("first")
	<-builder.started

	// Many triggers while building collapse into one pending follow-up.
	for i := 0; i < 5; i++ {
		d.startBuild("while-running")
	}
	close(builder.release)

	// The queued follow-up run starts.
	select {
	case <-builder.started:
	case <-time.After(2 * time.Second):
		t.Fatal("queued follow-up build never started")
	}

	// Give any extra (incorrect) runs a chance to appear.
	time.Sleep(100 * time.Millisecond)
	if got := builder.runCount(); got != 2 {
		t.Fatalf("ran %d builds, want 2 (first + one coalesced follow-up)", got)
	}
}

// reportBuilder returns a fixed report immediately.
type reportBuilder struct {
	report *assemble.Report
}

func (b *reportBuilder) Run(context.Context) (*assemble.Report, error) {
	return b.report, nil
}

func TestHTTPHealthAndPreviewGating(t *testing.T) {
	cfg := testConfig(t)
	builder := &reportBuilder{report: &assemble.Report{RunID: "run-ok", Outcome: assemble.OutcomeSuccess}}
	d, err := New(cfg, builder, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.ctx, d.cancel = context.WithCancel(t.Context())
	defer d.cancel()
	d.startTime = time.Now()

	srv := NewHTTPServer(cfg.Daemon.HTTPAddr, d)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()
	base := "http://" + srv.Addr()

	// No run yet: healthy, preview allowed.
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health.Status != HealthStatusHealthy {
		t.Errorf("initial status = %s", health.Status)
	}

	// Failed run: degraded health, preview refused.
	d.finishRun(&assemble.Report{RunID: "run-bad", Outcome: assemble.OutcomeFailed})

	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz after failure = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("preview after failure = %d, want 503", resp.StatusCode)
	}

	// Successful run restores the preview.
	d.finishRun(&assemble.Report{RunID: "run-ok", Outcome: assemble.OutcomeSuccess})
	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET / after success: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Error("preview still refused after successful run")
	}

	// Metrics endpoint responds.
	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	dir := t.TempDir()
	var triggered atomic.Int64
	w, err := NewWatcher([]string{dir}, func(string) { triggered.Add(1) }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "index.md"), []byte("# hi\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for triggered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if triggered.Load() == 0 {
		t.Fatal("file change did not trigger")
	}
}
