package manifest

import (
	"encoding/json"
	"fmt"
	"os"
)

// LockfileVersion is the current lockfile schema version.
const LockfileVersion = 1

// Lockfile records the last successful resolution: the manifest hash it was
// produced from plus the exact version, source kind, and archive checksum of
// every dependency. It is advisory — the cache stamp is the idempotence source
// of truth — but it witnesses determinism: an unchanged manifest must
// reproduce it exactly.
type Lockfile struct {
	Version      int                      `json:"version"`
	ManifestHash string                   `json:"manifest_hash"`
	Packages     map[string]LockedPackage `json:"packages"`
}

// LockedPackage is the resolved identity of one dependency.
type LockedPackage struct {
	Version  string `json:"version"`
	Source   string `json:"source"` // registry|git
	Checksum string `json:"checksum,omitempty"`
}

// NewLockfile creates an empty lockfile for the given manifest hash.
func NewLockfile(manifestHash string) *Lockfile {
	return &Lockfile{
		Version:      LockfileVersion,
		ManifestHash: manifestHash,
		Packages:     make(map[string]LockedPackage),
	}
}

// LoadLockfile reads a lockfile from disk. A missing file is not an error;
// it returns (nil, nil) so callers can treat absence as "no prior resolution".
func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from CLI/config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("unmarshal lockfile: %w", err)
	}
	return &lf, nil
}

// Write persists the lockfile as indented JSON.
func (lf *Lockfile) Write(path string) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	return nil
}

// Matches reports whether the lockfile was produced from the given manifest
// hash. A stale lockfile (hash mismatch) is ignored and rewritten on the next
// successful staging run.
func (lf *Lockfile) Matches(manifestHash string) bool {
	return lf != nil && lf.ManifestHash == manifestHash
}
