package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestPutAndGetArchive(t *testing.T) {
	s := newTestStore(t)

	data := []byte("archive bytes")
	hash, err := s.PutArchive(data, ObjectMeta{Name: "libfoo", Version: "1.0.0", Source: SourceRegistry})
	if err != nil {
		t.Fatalf("PutArchive failed: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("expected hex sha256 hash, got %q", hash)
	}

	got, meta, err := s.GetArchive(hash)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("data mismatch: %q", got)
	}
	if meta.Name != "libfoo" || meta.Version != "1.0.0" || meta.Source != SourceRegistry {
		t.Errorf("metadata mismatch: %+v", meta)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", meta.Size, len(data))
	}
}

func TestPutArchiveIdempotent(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.PutArchive([]byte("same"), ObjectMeta{Name: "a", Version: "1"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.PutArchive([]byte("same"), ObjectMeta{Name: "a", Version: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same content produced different hashes: %s vs %s", h1, h2)
	}

	hashes, err := s.ListObjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 {
		t.Errorf("expected 1 object, got %d", len(hashes))
	}
}

func TestGetArchiveNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetArchive("0000000000000000000000000000000000000000000000000000000000000000")
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHasObject(t *testing.T) {
	s := newTestStore(t)
	if s.HasObject("deadbeef") {
		t.Error("HasObject true for absent hash")
	}
	hash, _ := s.PutArchive([]byte("x"), ObjectMeta{})
	if !s.HasObject(hash) {
		t.Error("HasObject false for stored hash")
	}
}

func TestStampRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if s.HasStamp("mh1") {
		t.Error("stamp should not exist yet")
	}
	if err := s.WriteStamp("mh1", []string{"h1", "h2"}); err != nil {
		t.Fatalf("WriteStamp failed: %v", err)
	}
	if !s.HasStamp("mh1") {
		t.Error("stamp missing after write")
	}

	st, err := s.ReadStamp("mh1")
	if err != nil {
		t.Fatalf("ReadStamp failed: %v", err)
	}
	if st.ManifestHash != "mh1" || len(st.Objects) != 2 {
		t.Errorf("stamp content wrong: %+v", st)
	}

	absent, err := s.ReadStamp("other")
	if err != nil || absent != nil {
		t.Errorf("absent stamp should be (nil, nil), got (%v, %v)", absent, err)
	}
}

func TestGCRemovesUnreferenced(t *testing.T) {
	s := newTestStore(t)

	kept, _ := s.PutArchive([]byte("kept"), ObjectMeta{Name: "kept", Version: "1"})
	orphan, _ := s.PutArchive([]byte("orphan"), ObjectMeta{Name: "orphan", Version: "1"})
	if err := s.WriteStamp("mh", []string{kept}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.GC()
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if !s.HasObject(kept) {
		t.Error("referenced object was collected")
	}
	if s.HasObject(orphan) {
		t.Error("orphan object survived GC")
	}
}

func TestPackAndMaterialize(t *testing.T) {
	s := newTestStore(t)

	// Build a source tree, pack it, store it, materialize it.
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "src"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "src", "lib.rs"), []byte("pub fn f() {}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("# libfoo"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive, err := PackTarGz(src)
	if err != nil {
		t.Fatalf("PackTarGz failed: %v", err)
	}
	hash, err := s.PutArchive(archive, ObjectMeta{Name: "libfoo", Version: "1.0.0", Source: SourceGit})
	if err != nil {
		t.Fatal(err)
	}

	if s.IsMaterialized("libfoo", "1.0.0") {
		t.Fatal("should not be materialized yet")
	}
	if err := s.Materialize("libfoo", "1.0.0", hash); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if !s.IsMaterialized("libfoo", "1.0.0") {
		t.Fatal("IsMaterialized false after Materialize")
	}

	got, err := os.ReadFile(filepath.Join(s.PkgDir("libfoo", "1.0.0"), "src", "lib.rs"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(got) != "pub fn f() {}" {
		t.Errorf("extracted content mismatch: %q", got)
	}

	// Second materialize is a no-op.
	if err := s.Materialize("libfoo", "1.0.0", hash); err != nil {
		t.Errorf("re-materialize failed: %v", err)
	}
}

func TestMaterializeMissingObject(t *testing.T) {
	s := newTestStore(t)
	err := s.Materialize("x", "1", "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Error("materialize of missing object should fail")
	}
}

func TestExtractRejectsEscape(t *testing.T) {
	// A tarball whose entry climbs out of the destination must be rejected.
	if err := extractTarGz(maliciousTarGz(t), t.TempDir()); err == nil {
		t.Error("path traversal entry should be rejected")
	}
}
