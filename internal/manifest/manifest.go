// Package manifest defines the project manifest (docpress.yaml): the immutable
// declaration of a project's dependency set with pinned or ranged version
// constraints. The manifest is read-only to the pipeline; its content hash is
// the cache identity for a staging run.
package manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Manifest declares the project's dependency set.
type Manifest struct {
	Project      string                `yaml:"project"`
	Source       string                `yaml:"source,omitempty"`
	Registry     string                `yaml:"registry,omitempty"`
	Dependencies map[string]Dependency `yaml:"dependencies,omitempty"`
}

// Dependency is a single declared dependency. In YAML it is either a bare
// version constraint string ("1.0.0", "^1.2", ">=1.0 <2.0") or a mapping with
// an explicit git source:
//
//	libfoo: "^1.2"
//	libbar:
//	  version: "2.0.0"
//	  git: https://example.com/libbar.git
//	  ref: v2.0.0
type Dependency struct {
	Version string `yaml:"version"`
	Git     string `yaml:"git,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
}

// IsGit reports whether the dependency is fetched from a git source rather
// than the registry.
func (d Dependency) IsGit() bool { return d.Git != "" }

// UnmarshalYAML accepts both the scalar shorthand and the structured form.
func (d *Dependency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Version = value.Value
		return nil
	}
	type raw Dependency
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*d = Dependency(r)
	return nil
}

// MarshalYAML emits the scalar shorthand when only a version is set.
func (d Dependency) MarshalYAML() (any, error) {
	if !d.IsGit() && d.Ref == "" {
		return d.Version, nil
	}
	type raw Dependency
	return raw(d), nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from CLI/config
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses manifest YAML and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Source == "" {
		m.Source = "."
	}
	return &m, nil
}

// Validate checks structural invariants of the manifest.
func (m *Manifest) Validate() error {
	if m.Project == "" {
		return fmt.Errorf("manifest: project name is required")
	}
	for name, dep := range m.Dependencies {
		if name == "" {
			return fmt.Errorf("manifest: dependency with empty name")
		}
		if dep.IsGit() {
			if dep.Ref == "" {
				return fmt.Errorf("manifest: git dependency %q requires a pinned ref", name)
			}
			continue
		}
		if dep.Version == "" {
			return fmt.Errorf("manifest: dependency %q has no version constraint", name)
		}
	}
	return nil
}

// hashEntry is the normalized per-dependency projection used for hashing.
type hashEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Git     string `json:"git,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// Hash computes a deterministic sha256 over a normalized projection of the
// manifest: project, source, registry, and the dependency set sorted by name.
// The same manifest content always yields the same hash regardless of map
// iteration order.
func (m *Manifest) Hash() (string, error) {
	entries := make([]hashEntry, 0, len(m.Dependencies))
	for name, dep := range m.Dependencies {
		entries = append(entries, hashEntry{Name: name, Version: dep.Version, Git: dep.Git, Ref: dep.Ref})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	hashInput := struct {
		Project      string      `json:"project"`
		Source       string      `json:"source"`
		Registry     string      `json:"registry"`
		Dependencies []hashEntry `json:"dependencies"`
	}{
		Project:      m.Project,
		Source:       m.Source,
		Registry:     m.Registry,
		Dependencies: entries,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}
