package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/docpress/internal/logfields"
)

// stageDeps resolves and materializes manifest dependencies into the cache.
func stageDeps(ctx context.Context, st *State) error {
	p := st.Pipeline
	if p.Stager == nil {
		return nil
	}
	res, err := p.Stager.Stage(ctx, p.Manifest)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return newCanceledStageError(StageDeps, err)
		}
		return newFatalStageError(StageDeps, err)
	}
	st.Report.ManifestHash = res.ManifestHash
	st.Report.CacheHit = res.CacheHit
	st.Report.DepsFetched = res.Fetched
	return nil
}

// stageClearOutput empties the output tree, creating it when absent. The root
// directory itself is preserved.
func stageClearOutput(_ context.Context, st *State) error {
	out := st.Pipeline.OutputDir
	if _, err := os.Stat(out); err != nil {
		if !os.IsNotExist(err) {
			return newFatalStageError(StageClearOutput, fmt.Errorf("%w: stat output: %v", ErrClear, err))
		}
		parent := filepath.Dir(out)
		if _, perr := os.Stat(parent); perr != nil {
			return newFatalStageError(StageClearOutput, fmt.Errorf("%w: output parent %s: %v", ErrClear, parent, perr))
		}
		if err := os.MkdirAll(out, 0o755); err != nil {
			return newFatalStageError(StageClearOutput, fmt.Errorf("%w: create output: %v", ErrClear, err))
		}
		return nil
	}
	if err := clearDir(out); err != nil {
		return newFatalStageError(StageClearOutput, fmt.Errorf("%w: %v", ErrClear, err))
	}
	return nil
}

// stageAssets copies static assets verbatim into the output tree. An asset
// whose top-level name collides with the reserved documentation subpath fails
// the stage before anything is copied.
func stageAssets(_ context.Context, st *State) error {
	p := st.Pipeline
	if p.AssetsDir == "" {
		return nil
	}
	if _, err := os.Stat(p.AssetsDir); err != nil {
		return newFatalStageError(StageAssets, fmt.Errorf("%w: assets directory: %v", ErrCopy, err))
	}

	reserved := firstSegment(p.ReservedPath)
	entries, err := os.ReadDir(p.AssetsDir)
	if err != nil {
		return newFatalStageError(StageAssets, fmt.Errorf("%w: read assets: %v", ErrCopy, err))
	}
	for _, e := range entries {
		if e.Name() == reserved {
			return newFatalStageError(StageAssets,
				fmt.Errorf("%w: asset %q collides with reserved subpath %q", ErrCopy, e.Name(), p.ReservedPath))
		}
	}

	n, err := copyTree(p.AssetsDir, p.OutputDir)
	if err != nil {
		return newFatalStageError(StageAssets, fmt.Errorf("%w: %v", ErrCopy, err))
	}
	st.Report.AssetsStaged = n
	p.logger.Info("static assets staged", logfields.Path(p.AssetsDir), "count", n)
	return nil
}

// stageBuildDocs runs the documentation compiler against the project source.
func stageBuildDocs(ctx context.Context, st *State) error {
	p := st.Pipeline
	outDir, err := p.Compiler.Build(ctx, p.SourceDir)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return newCanceledStageError(StageBuildDocs, err)
		}
		return newFatalStageError(StageBuildDocs, fmt.Errorf("%w: %v", ErrBuild, err))
	}
	st.DocsDir = outDir
	return nil
}

// stageDocs copies the compiled documentation tree under the reserved subpath.
func stageDocs(_ context.Context, st *State) error {
	p := st.Pipeline
	if st.DocsDir == "" {
		return newFatalStageError(StageDocs, fmt.Errorf("%w: no compiled documentation to stage", ErrCopy))
	}
	dest := filepath.Join(p.OutputDir, filepath.FromSlash(p.ReservedPath))
	n, err := copyTree(st.DocsDir, dest)
	if err != nil {
		return newFatalStageError(StageDocs, fmt.Errorf("%w: %v", ErrCopy, err))
	}
	st.Report.PagesStaged = n
	p.logger.Info("documentation staged", logfields.Path(dest), "count", n)
	return nil
}

// stageVerifyLinks checks internal links across the finished output tree.
// Broken links are a warning unless strict verification is enabled.
func stageVerifyLinks(_ context.Context, st *State) error {
	p := st.Pipeline
	broken, err := p.verify(p.OutputDir)
	if err != nil {
		return newFatalStageError(StageVerifyLinks, fmt.Errorf("%w: %v", ErrVerify, err))
	}
	st.Report.BrokenLinks = len(broken)
	if len(broken) == 0 {
		return nil
	}
	for _, b := range broken {
		p.logger.Warn("broken link", logfields.Path(b.File), "target", b.Target, "reason", b.Reason)
	}
	err = fmt.Errorf("%w: %d broken internal links", ErrVerify, len(broken))
	if p.VerifyStrict {
		return newFatalStageError(StageVerifyLinks, err)
	}
	return newWarnStageError(StageVerifyLinks, err)
}

// firstSegment returns the first path element of a slash-separated subpath.
func firstSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
