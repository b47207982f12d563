// Package cache provides the content-addressed dependency cache. Archive blobs
// are stored by sha256 under objects/ with JSON metadata sidecars, extracted
// dependency trees live under pkgs/<name>/<version>/, and completed staging
// runs are marked with a stamp keyed by manifest content hash.
//
//	<root>/
//	  objects/
//	    ab/
//	      cd1234...           (first 2 chars = subdir, rest = filename)
//	      cd1234....meta.json
//	  pkgs/
//	    libfoo/1.2.3/...
//	  stamps/
//	    <manifest-hash>       (JSON list of object hashes for that run)
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SourceKind identifies where an archived dependency came from.
type SourceKind string

const (
	SourceRegistry SourceKind = "registry"
	SourceGit      SourceKind = "git"
)

// ObjectMeta is the sidecar metadata written next to each archive blob.
type ObjectMeta struct {
	Name     string     `json:"name"`
	Version  string     `json:"version"`
	Source   SourceKind `json:"source"`
	Size     int64      `json:"size"`
	StoredAt time.Time  `json:"stored_at"`
}

// Stamp records the object hashes of a completed staging run for one manifest.
type Stamp struct {
	ManifestHash string    `json:"manifest_hash"`
	Objects      []string  `json:"objects"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Hash
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}

// Store is a filesystem-backed dependency cache. Safe for concurrent use
// within one process; cross-process serialization is the caller's concern.
type Store struct {
	root string
	mu   sync.RWMutex
}

// New creates the cache directory structure under root.
func New(root string) (*Store, error) {
	dirs := []string{
		filepath.Join(root, "objects"),
		filepath.Join(root, "pkgs"),
		filepath.Join(root, "stamps"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// PkgsDir returns the directory holding materialized dependency trees. This is
// the path exposed to the documentation compiler.
func (s *Store) PkgsDir() string { return filepath.Join(s.root, "pkgs") }

// PutArchive stores an archive blob and its metadata, returning the content
// hash. Storing an already-present blob is a no-op returning the same hash.
func (s *Store) PutArchive(data []byte, meta ObjectMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := sha256.Sum256(data)
	hash := hex.EncodeToString(h[:])

	objectPath := s.objectPath(hash)
	if _, err := os.Stat(objectPath); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(objectPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}

	meta.Size = int64(len(data))
	meta.StoredAt = time.Now()
	if err := s.writeMeta(hash, meta); err != nil {
		return hash, fmt.Errorf("write metadata: %w", err)
	}
	return hash, nil
}

// GetArchive retrieves an archive blob and its metadata by content hash.
func (s *Store) GetArchive(hash string) ([]byte, ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.objectPath(hash)) // #nosec G304 - internal path from sanitized hash
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectMeta{}, ErrNotFound{Hash: hash}
		}
		return nil, ObjectMeta{}, fmt.Errorf("read object: %w", err)
	}
	meta, err := s.readMeta(hash)
	if err != nil {
		meta = ObjectMeta{Size: int64(len(data))}
	}
	return data, meta, nil
}

// HasObject checks whether an archive blob is present.
func (s *Store) HasObject(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// ListObjects returns all stored object hashes.
func (s *Store) ListObjects() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUnlocked()
}

func (s *Store) listUnlocked() ([]string, error) {
	var hashes []string
	objectsDir := filepath.Join(s.root, "objects")
	err := filepath.Walk(objectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		relPath, err := filepath.Rel(objectsDir, path)
		if err != nil {
			return nil
		}
		hashes = append(hashes, strings.ReplaceAll(relPath, string(filepath.Separator), ""))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	return hashes, nil
}

// DeleteObject removes an archive blob and its metadata.
func (s *Store) DeleteObject(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteUnlocked(hash)
}

func (s *Store) deleteUnlocked(hash string) error {
	objectPath := s.objectPath(hash)
	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Hash: hash}
		}
		return fmt.Errorf("delete object: %w", err)
	}
	// Best effort sidecar and empty-dir removal.
	_ = os.Remove(objectPath + ".meta.json")
	_ = os.Remove(filepath.Dir(objectPath))
	return nil
}

// GC removes objects not referenced by any stamp and returns the removal count.
func (s *Store) GC() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[string]bool)
	stamps, err := s.listStampsUnlocked()
	if err != nil {
		return 0, err
	}
	for _, st := range stamps {
		for _, h := range st.Objects {
			referenced[h] = true
		}
	}

	all, err := s.listUnlocked()
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}

	removed := 0
	for _, hash := range all {
		if !referenced[hash] {
			if err := s.deleteUnlocked(hash); err != nil && !IsNotFound(err) {
				return removed, fmt.Errorf("delete object %s: %w", hash, err)
			}
			removed++
		}
	}
	return removed, nil
}

// WriteStamp marks a staging run complete for the given manifest hash.
func (s *Store) WriteStamp(manifestHash string, objectHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stamp{ManifestHash: manifestHash, Objects: objectHashes, CreatedAt: time.Now()}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal stamp: %w", err)
	}
	path := filepath.Join(s.root, "stamps", manifestHash)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}
	return nil
}

// ReadStamp loads the stamp for a manifest hash, or (nil, nil) when absent.
func (s *Store) ReadStamp(manifestHash string) (*Stamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.root, "stamps", manifestHash)) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stamp: %w", err)
	}
	var st Stamp
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal stamp: %w", err)
	}
	return &st, nil
}

// HasStamp reports whether a staging run completed for the manifest hash.
func (s *Store) HasStamp(manifestHash string) bool {
	st, err := s.ReadStamp(manifestHash)
	return err == nil && st != nil
}

func (s *Store) listStampsUnlocked() ([]Stamp, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "stamps"))
	if err != nil {
		return nil, fmt.Errorf("read stamps: %w", err)
	}
	var stamps []Stamp
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, "stamps", e.Name())) // #nosec G304
		if err != nil {
			continue
		}
		var st Stamp
		if json.Unmarshal(data, &st) == nil {
			stamps = append(stamps, st)
		}
	}
	return stamps, nil
}

// objectPath returns the filesystem path for an object.
func (s *Store) objectPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, "objects", hash)
	}
	return filepath.Join(s.root, "objects", hash[:2], hash[2:])
}

func (s *Store) metaPath(hash string) string {
	return s.objectPath(hash) + ".meta.json"
}

func (s *Store) readMeta(hash string) (ObjectMeta, error) {
	data, err := os.ReadFile(s.metaPath(hash)) // #nosec G304
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta ObjectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ObjectMeta{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMeta(hash string, meta ObjectMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(s.metaPath(hash), data, 0o600)
}
