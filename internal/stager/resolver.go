package stager

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"git.home.luguber.info/inful/docpress/internal/cache"
	"git.home.luguber.info/inful/docpress/internal/manifest"
	"git.home.luguber.info/inful/docpress/internal/registry"
)

// ResolvedDep is the exact identity of one dependency after resolution.
type ResolvedDep struct {
	Name    string
	Version string
	Source  cache.SourceKind

	// Registry source
	ArchiveURL string
	SHA256     string

	// Git source
	GitURL string
	GitRef string
}

// Resolver turns manifest constraints into exact versions against the
// registry index. Resolution is pure: it performs no cache writes, and the
// same manifest and index always produce the same result.
type Resolver struct {
	reg *registry.Client
}

// NewResolver creates a resolver backed by the given registry client. A nil
// client is allowed for manifests with only git dependencies.
func NewResolver(reg *registry.Client) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve determines the exact version of every declared dependency, sorted
// by name for deterministic downstream ordering. Any unsatisfiable
// constraint, unknown name, or malformed constraint fails the whole
// resolution with ErrResolution before any fetch happens.
func (r *Resolver) Resolve(ctx context.Context, m *manifest.Manifest) ([]ResolvedDep, error) {
	resolved := make([]ResolvedDep, 0, len(m.Dependencies))
	for name, dep := range m.Dependencies {
		if dep.IsGit() {
			version := dep.Version
			if version == "" {
				version = dep.Ref
			}
			resolved = append(resolved, ResolvedDep{
				Name:    name,
				Version: version,
				Source:  cache.SourceGit,
				GitURL:  dep.Git,
				GitRef:  dep.Ref,
			})
			continue
		}

		rd, err := r.resolveRegistry(ctx, name, dep.Version)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rd)
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Name < resolved[j].Name })
	return resolved, nil
}

// resolveRegistry matches a constraint against the registry index, picking
// the highest satisfying version.
func (r *Resolver) resolveRegistry(ctx context.Context, name, constraint string) (ResolvedDep, error) {
	if r.reg == nil {
		return ResolvedDep{}, fmt.Errorf("%w: dependency %s: no registry configured", ErrResolution, name)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return ResolvedDep{}, fmt.Errorf("%w: dependency %s: malformed constraint %q: %v", ErrResolution, name, constraint, err)
	}

	idx, err := r.reg.Index(ctx, name)
	if err != nil {
		return ResolvedDep{}, fmt.Errorf("%w: dependency %s: %v", ErrResolution, name, err)
	}

	var best *registry.IndexVersion
	var bestVer *semver.Version
	for i := range idx.Versions {
		v, err := semver.NewVersion(idx.Versions[i].Version)
		if err != nil {
			continue // skip unparseable published versions
		}
		if !c.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = &idx.Versions[i]
		}
	}
	if best == nil {
		return ResolvedDep{}, fmt.Errorf("%w: dependency %s: no version satisfies %q", ErrResolution, name, constraint)
	}

	return ResolvedDep{
		Name:       name,
		Version:    best.Version,
		Source:     cache.SourceRegistry,
		ArchiveURL: best.URL,
		SHA256:     best.SHA256,
	}, nil
}
