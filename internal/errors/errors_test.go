package errors

import (
	"errors"
	"testing"
)

func TestPipelineErrorFormatting(t *testing.T) {
	e := New(CategoryResolution, SeverityError, "constraint unsatisfiable")
	want := "resolution (error): constraint unsatisfiable"
	if e.Error() != want {
		t.Errorf("got %q, want %q", e.Error(), want)
	}

	cause := errors.New("no matching version")
	wrapped := Wrap(cause, CategoryResolution, SeverityError, "constraint unsatisfiable")
	if wrapped.Unwrap() != cause {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should match wrapped cause")
	}
}

func TestWithContext(t *testing.T) {
	e := ValidationError("bad manifest").WithContext("path", "docpress.yaml")
	if e.Context["path"] != "docpress.yaml" {
		t.Errorf("context not recorded: %v", e.Context)
	}
}

func TestCategoryHelpers(t *testing.T) {
	e := ConfigError("missing output directory")
	if !IsCategory(e, CategoryConfig) {
		t.Error("IsCategory should match config")
	}
	if IsCategory(e, CategoryBuild) {
		t.Error("IsCategory should not match build")
	}
	if GetCategory(errors.New("plain")) != CategoryInternal {
		t.Error("plain errors default to internal category")
	}
}

func TestExitCodes(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	cases := []struct {
		category ErrorCategory
		want     int
	}{
		{CategoryValidation, ExitValidation},
		{CategoryConfig, ExitConfig},
		{CategoryResolution, ExitResolution},
		{CategoryFetch, ExitFetch},
		{CategoryClear, ExitClear},
		{CategoryCopy, ExitCopy},
		{CategoryBuild, ExitBuild},
		{CategoryVerify, ExitVerify},
		{CategoryDaemon, ExitRuntime},
		{CategoryRuntime, ExitRuntime},
		{CategoryInternal, ExitInternal},
	}
	for _, tc := range cases {
		got := adapter.ExitCodeFor(New(tc.category, SeverityError, "x"))
		if got != tc.want {
			t.Errorf("category %s: got exit code %d, want %d", tc.category, got, tc.want)
		}
	}

	if adapter.ExitCodeFor(nil) != ExitOK {
		t.Error("nil error should exit 0")
	}
	if adapter.ExitCodeFor(errors.New("plain")) != ExitGeneric {
		t.Error("plain error should exit 1")
	}
}

func TestFormatErrorVerbosity(t *testing.T) {
	e := Wrap(errors.New("underlying"), CategoryBuild, SeverityError, "compiler failed")

	quiet := NewCLIErrorAdapter(false, nil)
	if got := quiet.FormatError(e); got != "build: compiler failed" {
		t.Errorf("quiet format: got %q", got)
	}

	verbose := NewCLIErrorAdapter(true, nil)
	if got := verbose.FormatError(e); got != e.Error() {
		t.Errorf("verbose format: got %q, want full error", got)
	}
}
