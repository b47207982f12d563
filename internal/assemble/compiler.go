package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// DocCompiler produces a documentation tree from a project source directory
// and returns the directory holding the compiled output.
type DocCompiler interface {
	Build(ctx context.Context, sourceDir string) (string, error)
}

// CompilerFunc adapts a plain function to the DocCompiler interface.
type CompilerFunc func(ctx context.Context, sourceDir string) (string, error)

func (f CompilerFunc) Build(ctx context.Context, sourceDir string) (string, error) {
	return f(ctx, sourceDir)
}

// DepsEnvVar is the environment variable pointing the compiler at the
// materialized dependency trees in the cache.
const DepsEnvVar = "DOCPRESS_DEPS"

// BinaryCompiler invokes an external documentation compiler as a subprocess,
// running it inside the project source directory. Documentation is generated
// for the project's own library only; dependency sources are exposed via
// DOCPRESS_DEPS but never documented themselves.
type BinaryCompiler struct {
	Bin       string   // compiler binary, looked up in PATH
	ExtraArgs []string // appended after the fixed argument set
	OutputDir string   // compiled docs location, relative to source; default target/doc
	DepsDir   string   // materialized dependency trees (cache pkgs dir)
	DepsEnv   string   // env var name carrying DepsDir; default DepsEnvVar

	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
}

// Build runs the compiler and returns the output directory. An output
// directory that is missing or empty after a zero exit status is still a
// build failure.
func (b *BinaryCompiler) Build(ctx context.Context, sourceDir string) (string, error) {
	if b.Bin == "" {
		return "", fmt.Errorf("no compiler binary configured")
	}

	args := append([]string{"doc", "--no-deps", "--lib"}, b.ExtraArgs...)
	cmd := exec.CommandContext(ctx, b.Bin, args...) // #nosec G204 - binary and args are operator-configured
	cmd.Dir = sourceDir
	cmd.Stdout = b.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = b.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = os.Environ()
	if b.DepsDir != "" {
		envVar := b.DepsEnv
		if envVar == "" {
			envVar = DepsEnvVar
		}
		cmd.Env = append(cmd.Env, envVar+"="+b.DepsDir)
	}

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %v: %w", b.Bin, args, err)
	}

	outDir := b.OutputDir
	if outDir == "" {
		outDir = filepath.Join("target", "doc")
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(sourceDir, outDir)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("compiler output directory %s: %w", outDir, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("compiler produced no output in %s", outDir)
	}
	return outDir, nil
}
