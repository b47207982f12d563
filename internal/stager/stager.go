// Package stager resolves, fetches, and materializes the dependencies named
// in a docpress manifest into the content-addressed cache. Staging is
// idempotent: a manifest whose stamp already exists and whose objects are all
// present and materialized is a cache hit and performs no network I/O.
package stager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docpress/internal/cache"
	"git.home.luguber.info/inful/docpress/internal/logfields"
	"git.home.luguber.info/inful/docpress/internal/manifest"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/registry"
	"git.home.luguber.info/inful/docpress/internal/retry"
)

// GitFetcher produces a gzipped tar archive of a git ref's tree.
type GitFetcher interface {
	Fetch(ctx context.Context, name, url, ref string) ([]byte, error)
}

// Result summarizes one staging run.
type Result struct {
	ManifestHash string
	Resolved     []ResolvedDep
	Fetched      []string // names of dependencies fetched this run
	CacheHit     bool     // true when the stamp fast-path short-circuited
}

// Stager orchestrates the dependency staging pipeline: resolve, fetch what
// the cache lacks, materialize, stamp.
type Stager struct {
	resolver *Resolver
	store    *cache.Store
	reg      *registry.Client
	git      GitFetcher
	policy   retry.Policy
	recorder metrics.Recorder
	logger   *slog.Logger

	// LockfilePath, when set, is rewritten after every successful run.
	LockfilePath string
}

// Option configures a Stager.
type Option func(*Stager)

// WithRetryPolicy overrides the default fail-fast fetch policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Stager) { s.policy = p }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Stager) { s.recorder = r }
}

// WithLockfile makes staging persist a lockfile at path after each success.
func WithLockfile(path string) Option {
	return func(s *Stager) { s.LockfilePath = path }
}

// New creates a Stager. reg and git may be nil when the manifest declares no
// dependencies of that source kind.
func New(store *cache.Store, reg *registry.Client, git GitFetcher, opts ...Option) *Stager {
	s := &Stager{
		resolver: NewResolver(reg),
		store:    store,
		reg:      reg,
		git:      git,
		policy:   retry.DefaultPolicy(),
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage runs the staging pipeline for the manifest. Resolution failures are
// reported before any cache mutation; fetch failures abort the whole run with
// no stamp written, so a rerun redoes only the missing work.
func (s *Stager) Stage(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	hash, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: hash manifest: %v", ErrResolution, err)
	}
	log := s.logger.With(logfields.ManifestHash(hash))

	if s.stampSatisfied(hash) {
		log.Info("dependency cache hit, skipping fetch")
		s.recorder.IncCacheHit()
		return &Result{ManifestHash: hash, CacheHit: true}, nil
	}
	s.recorder.IncCacheMiss()

	resolved, err := s.resolver.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}

	result := &Result{ManifestHash: hash, Resolved: resolved}
	objects := make([]string, 0, len(resolved))

	for _, dep := range resolved {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}

		objHash, fetched, err := s.ensureArchive(ctx, dep)
		if err != nil {
			return nil, err
		}
		if fetched {
			result.Fetched = append(result.Fetched, dep.Name)
		}
		objects = append(objects, objHash)

		if !s.store.IsMaterialized(dep.Name, dep.Version) {
			if err := s.store.Materialize(dep.Name, dep.Version, objHash); err != nil {
				return nil, fmt.Errorf("%w: materialize %s@%s: %v", ErrFetch, dep.Name, dep.Version, err)
			}
		}
	}

	if err := s.store.WriteStamp(hash, objects); err != nil {
		return nil, fmt.Errorf("%w: write stamp: %v", ErrFetch, err)
	}

	if s.LockfilePath != "" {
		if err := s.writeLockfile(hash, resolved); err != nil {
			return nil, err
		}
	}

	log.Info("dependencies staged",
		slog.Int("resolved", len(resolved)),
		slog.Int("fetched", len(result.Fetched)))
	return result, nil
}

// stampSatisfied reports whether a prior run's stamp still covers the cache:
// every stamped object must be present and its package tree materialized.
func (s *Stager) stampSatisfied(manifestHash string) bool {
	stamp, err := s.store.ReadStamp(manifestHash)
	if err != nil || stamp == nil {
		return false
	}
	for _, objHash := range stamp.Objects {
		if !s.store.HasObject(objHash) {
			return false
		}
		_, meta, err := s.store.GetArchive(objHash)
		if err != nil {
			return false
		}
		if !s.store.IsMaterialized(meta.Name, meta.Version) {
			return false
		}
	}
	return true
}

// ensureArchive returns the object hash for a resolved dependency, fetching
// and storing the archive when absent. The bool reports whether a network
// fetch happened.
func (s *Stager) ensureArchive(ctx context.Context, dep ResolvedDep) (string, bool, error) {
	if dep.Source == cache.SourceRegistry && dep.SHA256 != "" && s.store.HasObject(dep.SHA256) {
		return dep.SHA256, false, nil
	}

	data, err := s.fetchWithRetry(ctx, dep)
	if err != nil {
		return "", false, err
	}

	objHash, err := s.store.PutArchive(data, cache.ObjectMeta{
		Name:    dep.Name,
		Version: dep.Version,
		Source:  dep.Source,
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: store %s@%s: %v", ErrFetch, dep.Name, dep.Version, err)
	}
	return objHash, true, nil
}

// fetchWithRetry downloads one dependency archive, retrying per policy. The
// default policy is fail-fast (zero retries).
func (s *Stager) fetchWithRetry(ctx context.Context, dep ResolvedDep) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.policy.Delay(attempt)
			s.logger.Info("retrying dependency fetch",
				logfields.Dependency(dep.Name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrFetch, dep.Name, ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		data, err := s.fetchOnce(ctx, dep)
		s.recorder.ObserveFetchDuration(dep.Name, time.Since(start), err == nil)
		s.recorder.IncFetchResult(err == nil)
		if err == nil {
			return data, nil
		}
		lastErr = err
		s.logger.Warn("dependency fetch failed",
			logfields.Dependency(dep.Name),
			logfields.Version(dep.Version),
			logfields.Error(err))
	}
	return nil, fmt.Errorf("%w: %s@%s: %v", ErrFetch, dep.Name, dep.Version, lastErr)
}

func (s *Stager) fetchOnce(ctx context.Context, dep ResolvedDep) ([]byte, error) {
	switch dep.Source {
	case cache.SourceGit:
		if s.git == nil {
			return nil, fmt.Errorf("no git fetcher configured")
		}
		return s.git.Fetch(ctx, dep.Name, dep.GitURL, dep.GitRef)
	default:
		if s.reg == nil {
			return nil, fmt.Errorf("no registry configured")
		}
		return s.reg.Download(ctx, registry.IndexVersion{
			Version: dep.Version,
			URL:     dep.ArchiveURL,
			SHA256:  dep.SHA256,
		})
	}
}

func (s *Stager) writeLockfile(hash string, resolved []ResolvedDep) error {
	lf := manifest.NewLockfile(hash)
	for _, dep := range resolved {
		lf.Packages[dep.Name] = manifest.LockedPackage{
			Version:  dep.Version,
			Source:   string(dep.Source),
			Checksum: dep.SHA256,
		}
	}
	if err := lf.Write(s.LockfilePath); err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return nil
}
