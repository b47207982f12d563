package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID        = "run_id"
	KeyStage        = "stage"
	KeyDurationMS   = "duration_ms"
	KeyManifestHash = "manifest_hash"
	KeyDependency   = "dependency"
	KeyVersion      = "version"
	KeyPath         = "path"
	KeyRegistry     = "registry"
	KeyScheduleID   = "schedule_id"
	KeyOutcome      = "outcome"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr         { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr       { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func ManifestHash(h string) slog.Attr   { return slog.String(KeyManifestHash, h) }
func Dependency(name string) slog.Attr  { return slog.String(KeyDependency, name) }
func Version(v string) slog.Attr        { return slog.String(KeyVersion, v) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Registry(url string) slog.Attr     { return slog.String(KeyRegistry, url) }
func ScheduleID(id string) slog.Attr    { return slog.String(KeyScheduleID, id) }
func Outcome(o string) slog.Attr        { return slog.String(KeyOutcome, o) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
