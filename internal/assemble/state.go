package assemble

// State carries mutable state across assembly stages.
type State struct {
	Pipeline *Pipeline
	Report   *Report

	// DocsDir is set by build_docs: the directory holding the compiled
	// documentation tree, consumed by stage_docs.
	DocsDir string
}

func newState(p *Pipeline, report *Report) *State {
	return &State{Pipeline: p, Report: report}
}
