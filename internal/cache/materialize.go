package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PkgDir returns the materialization path for a dependency identity.
func (s *Store) PkgDir(name, version string) string {
	return filepath.Join(s.root, "pkgs", name, version)
}

// IsMaterialized reports whether the dependency tree has been extracted.
func (s *Store) IsMaterialized(name, version string) bool {
	info, err := os.Stat(s.PkgDir(name, version))
	return err == nil && info.IsDir()
}

// Materialize extracts the archive blob identified by hash into
// pkgs/<name>/<version>/. Extraction goes through a temporary sibling
// directory and a rename so a crashed run never leaves a half-extracted tree
// that IsMaterialized would report as complete.
func (s *Store) Materialize(name, version, hash string) error {
	if s.IsMaterialized(name, version) {
		return nil
	}

	data, _, err := s.GetArchive(hash)
	if err != nil {
		return fmt.Errorf("materialize %s@%s: %w", name, version, err)
	}

	dest := s.PkgDir(name, version)
	tmp := dest + ".extract"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clean extract dir: %w", err)
	}
	if err := extractTarGz(data, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("materialize %s@%s: %w", name, version, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("create pkg parent: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("promote extracted tree: %w", err)
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball under dest, rejecting entries that
// would escape it.
func extractTarGz(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create dir %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("create parent of %s: %w", name, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o755) // #nosec G304
			if err != nil {
				return fmt.Errorf("create file %s: %w", name, err)
			}
			// Size cap from the tar header guards decompression bombs.
			if _, err := io.CopyN(f, tr, hdr.Size); err != nil && err != io.EOF {
				_ = f.Close()
				return fmt.Errorf("write file %s: %w", name, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close file %s: %w", name, err)
			}
		default:
			// Symlinks and specials are not part of dependency archives.
			continue
		}
	}
}

// PackTarGz archives a directory tree into a gzipped tarball with paths
// relative to root. Used to store git checkouts like registry archives.
func PackTarGz(root string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			hdr := &tar.Header{Name: rel + "/", Typeflag: tar.TypeDir, Mode: 0o750}
			return tw.WriteHeader(hdr)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr := &tar.Header{Name: rel, Typeflag: tar.TypeReg, Mode: int64(info.Mode().Perm()), Size: info.Size()}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path) // #nosec G304 - walking caller-owned tree
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", root, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}
