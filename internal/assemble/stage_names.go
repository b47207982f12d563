package assemble

import "context"

// StageName is a strongly-typed identifier for an assembly stage. All
// canonical stages are declared as constants here for compile-time safety.
type StageName string

// Canonical stage names, in execution order.
const (
	StageDeps        StageName = "stage_deps"
	StageClearOutput StageName = "clear_output"
	StageAssets      StageName = "stage_assets"
	StageBuildDocs   StageName = "build_docs"
	StageDocs        StageName = "stage_docs"
	StageVerifyLinks StageName = "verify_links"
)

// Stage is a discrete unit of work in the assembly run.
type Stage func(ctx context.Context, st *State) error

// StageDef pairs a stage name with its executing function.
type StageDef struct {
	Name StageName
	Fn   Stage
}
