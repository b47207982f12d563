package assemble

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/docpress/internal/logfields"
)

// runStages executes stages in order, recording timing and stopping on the
// first fatal error. Warning-kind stage errors are recorded and execution
// continues; cancellation and fatal errors abort the run.
func runStages(ctx context.Context, st *State, stages []StageDef) error {
	report := st.Report
	recorder := st.Pipeline.Recorder
	for _, sd := range stages {
		select {
		case <-ctx.Done():
			se := newCanceledStageError(sd.Name, ctx.Err())
			report.addStageError(se)
			report.recordStageResult(sd.Name, se.Kind, false, recorder)
			return se
		default:
		}

		t0 := time.Now()
		err := sd.Fn(ctx, st)
		dur := time.Since(t0)
		report.StageDurations[sd.Name] = dur
		recorder.ObserveStageDuration(string(sd.Name), dur)

		if err == nil {
			report.recordStageResult(sd.Name, "", true, recorder)
			st.Pipeline.logger.Debug("stage completed",
				logfields.Stage(string(sd.Name)),
				logfields.DurationMS(float64(dur.Milliseconds())))
			continue
		}

		var se *StageError
		if !errors.As(err, &se) {
			// Unknown errors are fatal by default.
			se = newFatalStageError(sd.Name, err)
		}
		report.addStageError(se)
		report.recordStageResult(sd.Name, se.Kind, false, recorder)
		st.Pipeline.logger.Warn("stage failed",
			logfields.Stage(string(sd.Name)),
			logfields.DurationMS(float64(dur.Milliseconds())),
			logfields.Error(se))
		if se.Kind == StageErrorWarning {
			continue
		}
		return se
	}
	return nil
}
