package integration

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpress/internal/assemble"
	"git.home.luguber.info/inful/docpress/internal/cache"
	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/history"
	"git.home.luguber.info/inful/docpress/internal/manifest"
	"git.home.luguber.info/inful/docpress/internal/registry"
	"git.home.luguber.info/inful/docpress/internal/stager"
)

// newPipeline wires a full pipeline from a loaded config, the same way the
// CLI does.
func newPipeline(t *testing.T, cfg *config.Config) (*assemble.Pipeline, *manifest.Manifest) {
	t.Helper()

	m, err := manifest.Load(cfg.Manifest)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	store, err := cache.New(cfg.Cache.Directory)
	require.NoError(t, err)
	reg, err := registry.NewClient(cfg.Registry.URL)
	require.NoError(t, err)

	s := stager.New(store, reg, nil,
		stager.WithRetryPolicy(cfg.RetryPolicy()),
		stager.WithLockfile(filepath.Join(filepath.Dir(cfg.Manifest), "docpress.lock")),
	)

	p, err := assemble.New(assemble.Config{
		Manifest:  m,
		SourceDir: cfg.Source,
		OutputDir: cfg.Output.Directory,
		AssetsDir: cfg.Assets.Directory,
		Compiler: &assemble.BinaryCompiler{
			Bin:     cfg.Compiler.Bin,
			DepsDir: store.PkgsDir(),
		},
		Stager:      s,
		VerifyLinks: true,
		Timeout:     cfg.BuildTimeout(),
	})
	require.NoError(t, err)
	return p, m
}

func TestEndToEndBuild(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	proj := newProject(t)

	cfg, err := config.Load(proj.ConfigPath)
	require.NoError(t, err)
	p, _ := newPipeline(t, cfg)

	report, err := p.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, assemble.OutcomeSuccess, report.Outcome)
	require.False(t, report.CacheHit)
	require.Equal(t, []string{"libfoo"}, report.DepsFetched)
	require.Zero(t, report.BrokenLinks)

	want := []string{
		"doc/index.html",
		"doc/libfoo.html",
		"index.html",
		"style.css",
	}
	require.Equal(t, want, listTree(t, proj.OutputDir))

	// The staging run pins its resolution next to the manifest.
	lock, err := manifest.LoadLockfile(filepath.Join(proj.Root, "docpress.lock"))
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Contains(t, lock.Packages, "libfoo")
	require.Equal(t, "1.2.0", lock.Packages["libfoo"].Version)
}

func TestEndToEndRebuildHitsCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	proj := newProject(t)

	cfg, err := config.Load(proj.ConfigPath)
	require.NoError(t, err)
	p, _ := newPipeline(t, cfg)

	_, err = p.Run(t.Context())
	require.NoError(t, err)

	report, err := p.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, assemble.OutcomeSuccess, report.Outcome)
	require.True(t, report.CacheHit)
	require.Empty(t, report.DepsFetched)
	require.Equal(t, listTree(t, proj.OutputDir), []string{
		"doc/index.html",
		"doc/libfoo.html",
		"index.html",
		"style.css",
	})
}

func TestEndToEndHistoryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	proj := newProject(t)

	cfg, err := config.Load(proj.ConfigPath)
	require.NoError(t, err)
	p, _ := newPipeline(t, cfg)

	report, err := p.Run(t.Context())
	require.NoError(t, err)

	store, err := history.New(cfg.History.Path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordRun(t.Context(), report))
	rec, err := store.ByRunID(t.Context(), report.RunID)
	require.NoError(t, err)
	require.Equal(t, assemble.OutcomeSuccess, rec.Outcome)
	require.Equal(t, report.PagesStaged, rec.PagesStaged)
}

// listTree returns all regular files under root, relative and sorted.
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		require.NoError(t, err)
	}
	sort.Strings(files)
	return files
}
