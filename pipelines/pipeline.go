package pipelines

import (
	"fortistash/sink"
	"fortistash/types"
)

// Pipeline consumes raw entry lines and routes the outcome to its sinks.
// ProcessEntry must recover every per-line failure internally, reflecting it
// in the state's counters; a returned error aborts the run.
type Pipeline interface {
	Setup(w *sink.Writer) error
	ProcessEntry(state *types.CheckpointState, entry *types.EntryLine) error
}
