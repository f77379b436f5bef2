package metrics

import (
	"fortistash/types"
)

// Window turns the checkpoint counters into one summary record per metrics
// interval: cumulative totals plus deltas since the previous build.
type Window struct {
	last   types.Counters
	lastAt int64
}

func NewWindow() *Window {
	return &Window{}
}

// Build snapshots the state into a summary object and advances the window.
func (w *Window) Build(state *types.CheckpointState, now int64) map[string]any {
	windowSecs := int64(0)
	if w.lastAt != 0 {
		windowSecs = now - w.lastAt
	}

	summary := map[string]any{
		"schema_version": 1,
		"ts":             now,
		"window_seconds": windowSecs,
		"totals":         state.Counters,
		"window": map[string]uint64{
			"lines_in":        state.Counters.LinesIn - w.last.LinesIn,
			"bytes_in":        state.Counters.BytesIn - w.last.BytesIn,
			"events_out":      state.Counters.EventsOut - w.last.EventsOut,
			"dlq_out":         state.Counters.DlqOut - w.last.DlqOut,
			"parse_fail":      state.Counters.ParseFail - w.last.ParseFail,
			"write_fail":      state.Counters.WriteFail - w.last.WriteFail,
			"checkpoint_fail": state.Counters.CheckpointFail - w.last.CheckpointFail,
		},
		"active":          state.Active,
		"completed_files": len(state.Completed),
	}

	w.last = state.Counters
	w.lastAt = now
	return summary
}
