package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"
)

// maliciousTarGz builds a tarball containing a path-traversal entry.
func maliciousTarGz(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("evil")
	hdr := &tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o600, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
