package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpress/internal/cache"
)

// project is a self-contained fixture: a source tree, an assets tree, a
// manifest, a config file, and a registry serving one dependency archive.
type project struct {
	Root       string
	ConfigPath string
	OutputDir  string
	registry   *httptest.Server
}

// newProject lays out a buildable project under a temp directory and starts
// an in-process registry for its single dependency.
func newProject(t *testing.T) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixture compiler is a shell script")
	}

	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	assetsDir := filepath.Join(root, "assets")
	outputDir := filepath.Join(root, "site")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))

	writeFile(t, filepath.Join(srcDir, "lib.tex"), "\\section{hello}\n")
	writeFile(t, filepath.Join(assetsDir, "index.html"), `<a href="doc/index.html">docs</a>`)
	writeFile(t, filepath.Join(assetsDir, "style.css"), "body{}\n")

	reg := newRegistry(t, "libfoo", "1.2.0")
	t.Cleanup(reg.Close)

	writeFile(t, filepath.Join(root, "docpress.yaml"), `project: fixture
dependencies:
  libfoo: "^1.2"
`)

	compiler := writeCompiler(t, root)
	writeFile(t, filepath.Join(root, "config.yaml"), fmt.Sprintf(`manifest: %s
source: %s
registry:
  url: %s
output:
  directory: %s
assets:
  directory: %s
compiler:
  bin: %s
cache:
  directory: %s
history:
  path: %s
`, filepath.Join(root, "docpress.yaml"), srcDir, reg.URL, outputDir, assetsDir,
		compiler, filepath.Join(root, "cache"), filepath.Join(root, "history.db")))

	return &project{
		Root:       root,
		ConfigPath: filepath.Join(root, "config.yaml"),
		OutputDir:  outputDir,
		registry:   reg,
	}
}

// writeCompiler installs a stand-in documentation compiler that emits a tiny
// HTML tree under target/doc.
func writeCompiler(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "fakedoc")
	script := `#!/bin/sh
mkdir -p target/doc
printf '<a href="libfoo.html">libfoo</a>' > target/doc/index.html
printf '<p>libfoo</p>' > target/doc/libfoo.html
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// newRegistry serves an index and a tar.gz archive for one package version.
func newRegistry(t *testing.T, name, version string) *httptest.Server {
	t.Helper()

	pkgDir := t.TempDir()
	writeFile(t, filepath.Join(pkgDir, "README.md"), "# "+name+"\n")
	archive, err := cache.PackTarGz(pkgDir)
	require.NoError(t, err)
	sum := sha256.Sum256(archive)

	archivePath := fmt.Sprintf("/archives/%s-%s.tar.gz", name, version)
	index := map[string]any{
		"name": name,
		"versions": []map[string]string{
			{"version": version, "url": archivePath, "sha256": hex.EncodeToString(sum[:])},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/index/"+name+".json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(index)
	})
	mux.HandleFunc(archivePath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	return httptest.NewServer(mux)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
