// Package gitfetch retrieves git-sourced dependencies: a shallow clone at a
// pinned ref, packed into a gzipped tarball so the cache can store it like a
// registry archive.
package gitfetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/docpress/internal/cache"
	"git.home.luguber.info/inful/docpress/internal/logfields"
)

// Fetcher clones pinned refs into a scratch directory and packs them.
type Fetcher struct {
	workDir string
}

// NewFetcher creates a fetcher using workDir for scratch checkouts.
func NewFetcher(workDir string) *Fetcher {
	return &Fetcher{workDir: workDir}
}

// Fetch clones url at the pinned ref and returns the checkout packed as a
// gzipped tarball (without .git). The ref is tried as a tag first, then as a
// branch.
func (f *Fetcher) Fetch(ctx context.Context, name, url, ref string) ([]byte, error) {
	checkout := filepath.Join(f.workDir, name)
	if err := os.RemoveAll(checkout); err != nil {
		return nil, fmt.Errorf("clean checkout dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(checkout); err != nil {
			slog.Warn("Failed to remove git checkout", logfields.Path(checkout), logfields.Error(err))
		}
	}()

	slog.Debug("Cloning git dependency", logfields.Dependency(name), slog.String("url", url), slog.String("ref", ref))

	refNames := []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	}
	var lastErr error
	for _, rn := range refNames {
		_, err := git.PlainCloneContext(ctx, checkout, false, &git.CloneOptions{
			URL:           url,
			ReferenceName: rn,
			SingleBranch:  true,
			Depth:         1,
		})
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if err := os.RemoveAll(checkout); err != nil {
			return nil, fmt.Errorf("clean checkout dir: %w", err)
		}
	}
	if lastErr != nil {
		return nil, classifyCloneError(url, lastErr)
	}

	// Strip the .git directory before packing; the archive carries sources only.
	if err := os.RemoveAll(filepath.Join(checkout, ".git")); err != nil {
		return nil, fmt.Errorf("strip .git: %w", err)
	}

	archive, err := cache.PackTarGz(checkout)
	if err != nil {
		return nil, fmt.Errorf("pack checkout %s: %w", name, err)
	}
	return archive, nil
}
