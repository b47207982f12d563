package assemble

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeFakeCompiler installs an executable script standing in for the real
// documentation compiler. It records its arguments and DOCPRESS_DEPS, then
// emits one output file under target/doc.
func writeFakeCompiler(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler script requires a POSIX shell")
	}
	script := `#!/bin/sh
mkdir -p target/doc
echo "$@" > target/doc/args.txt
echo "$DOCPRESS_DEPS" > target/doc/deps.txt
`
	path := filepath.Join(dir, "fakedoc")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { // #nosec G306 - test binary must be executable
		t.Fatalf("write fake compiler: %v", err)
	}
	return path
}

func TestBinaryCompilerBuild(t *testing.T) {
	src := t.TempDir()
	bin := writeFakeCompiler(t, t.TempDir())

	c := &BinaryCompiler{Bin: bin, ExtraArgs: []string{"--quiet"}, DepsDir: "/var/cache/docpress/pkgs"}
	outDir, err := c.Build(t.Context(), src)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if outDir != filepath.Join(src, "target", "doc") {
		t.Errorf("outDir = %s", outDir)
	}

	args, err := os.ReadFile(filepath.Join(outDir, "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := strings.TrimSpace(string(args)); got != "doc --no-deps --lib --quiet" {
		t.Errorf("compiler args = %q", got)
	}

	deps, err := os.ReadFile(filepath.Join(outDir, "deps.txt"))
	if err != nil {
		t.Fatalf("read deps: %v", err)
	}
	if got := strings.TrimSpace(string(deps)); got != "/var/cache/docpress/pkgs" {
		t.Errorf("DOCPRESS_DEPS = %q", got)
	}
}

func TestBinaryCompilerEmptyOutputFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	src := t.TempDir()
	script := "#!/bin/sh\nmkdir -p target/doc\n"
	bin := filepath.Join(t.TempDir(), "emptydoc")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil { // #nosec G306
		t.Fatal(err)
	}

	c := &BinaryCompiler{Bin: bin}
	if _, err := c.Build(t.Context(), src); err == nil {
		t.Fatal("Build succeeded despite empty output directory")
	}
}

func TestBinaryCompilerMissingBinary(t *testing.T) {
	c := &BinaryCompiler{Bin: ""}
	if _, err := c.Build(t.Context(), t.TempDir()); err == nil {
		t.Fatal("Build succeeded with no binary configured")
	}
}
