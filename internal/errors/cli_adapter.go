package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// Symbolic exit codes for the docpress CLI. One code per failing stage kind so
// operators and scripts can distinguish outcomes without parsing stderr.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitValidation = 2
	ExitConfig     = 3
	ExitResolution = 4
	ExitFetch      = 5
	ExitClear      = 6
	ExitCopy       = 7
	ExitBuild      = 8
	ExitVerify     = 9
	ExitInternal   = 10
	ExitRuntime    = 12
)

// CLIErrorAdapter handles error presentation and exit code determination for the CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	if pe, ok := err.(*PipelineError); ok {
		return exitCodeFromCategory(pe.Category)
	}

	return ExitGeneric
}

// exitCodeFromCategory maps an ErrorCategory to its exit code.
func exitCodeFromCategory(category ErrorCategory) int {
	switch category {
	case CategoryValidation:
		return ExitValidation
	case CategoryConfig:
		return ExitConfig
	case CategoryResolution:
		return ExitResolution
	case CategoryFetch:
		return ExitFetch
	case CategoryClear:
		return ExitClear
	case CategoryCopy:
		return ExitCopy
	case CategoryBuild:
		return ExitBuild
	case CategoryVerify:
		return ExitVerify
	case CategoryDaemon, CategoryRuntime:
		return ExitRuntime
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitGeneric
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if pe, ok := err.(*PipelineError); ok {
		return a.formatPipeline(pe)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatPipeline formats a PipelineError for display.
func (a *CLIErrorAdapter) formatPipeline(err *PipelineError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryValidation:
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if pe, ok := err.(*PipelineError); ok {
		return pe.Category == CategoryInternal ||
			pe.Category == CategoryRuntime ||
			pe.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if pe, ok := err.(*PipelineError); ok {
		level := slogLevelFromSeverity(pe.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(pe.Category)),
		}
		a.logger.LogAttrs(nil, level, pe.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts PipelineError severity to slog level.
func slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
