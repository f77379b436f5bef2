package fortigate

import (
	"time"

	log "github.com/sirupsen/logrus"

	"fortistash/pipelines/parsers"
	"fortistash/sink"
	"fortistash/types"
)

// ingestTsLayout mirrors an ISO-8601 UTC timestamp with explicit offset.
const ingestTsLayout = "2006-01-02T15:04:05.000000-07:00"

// Pipeline is the event router: it parses each raw line and appends the
// outcome to the event or DLQ sink, keeping the counters current. Sink
// failures are counted and the record dropped; they never propagate.
type Pipeline struct {
	parser *parsers.FortigateParser
	sinks  *sink.Writer

	now func() time.Time
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		parser: parsers.NewFortigateParser(),
		now:    time.Now,
	}
}

func (p *Pipeline) Setup(w *sink.Writer) error {
	p.sinks = w
	return nil
}

// ProcessEntry routes one raw line. Always returns nil: every failure mode
// here is a counter, not an abort.
func (p *Pipeline) ProcessEntry(state *types.CheckpointState, entry *types.EntryLine) error {
	state.Counters.LinesIn++
	state.Counters.BytesIn += uint64(len(entry.Raw))

	ev, reason := p.parseSafe(entry.Raw)
	if ev != nil {
		p.writeEvent(state, ev, entry.Source)
	} else {
		p.writeDlq(state, reason, entry.Raw, entry.Source)
	}
	return nil
}

// parseSafe shields the loop from a parser fault. The grammar is total, so
// this path is normally unreachable; a fault becomes a DLQ record rather
// than a crash.
func (p *Pipeline) parseSafe(raw string) (ev *types.Event, reason parsers.DlqReason) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Parser fault on line: ", r)
			ev = nil
			reason = parsers.ReasonKvParseFault
		}
	}()
	return p.parser.Parse(raw, p.now().Year())
}

func (p *Pipeline) writeEvent(state *types.CheckpointState, ev *types.Event, pos types.SourcePosition) {
	now := p.now()
	ev.IngestTs = now.UTC().Format(ingestTsLayout)
	ev.Source = &types.SourcePosition{Path: pos.Path, Inode: pos.Inode, Offset: pos.Offset}

	if err := p.sinks.AppendEvent(now, ev); err != nil {
		state.Counters.WriteFail++
		log.Warn("Event sink write failed: ", err)
		return
	}
	state.Counters.EventsOut++
	if ev.EventTs != nil {
		state.Active.LastEventTsSeen = ev.EventTs
	}
}

func (p *Pipeline) writeDlq(state *types.CheckpointState, reason parsers.DlqReason, raw string, pos types.SourcePosition) {
	now := p.now()
	rec := &types.DlqRecord{
		SchemaVersion: 1,
		IngestTs:      now.UTC().Format(ingestTsLayout),
		Reason:        string(reason),
		Source:        pos,
		Raw:           raw,
	}

	if err := p.sinks.AppendDlq(now, rec); err != nil {
		state.Counters.WriteFail++
		log.Warn("DLQ sink write failed: ", err)
		return
	}
	state.Counters.DlqOut++
	state.Counters.ParseFail++
	log.Debug("Dropped entry to DLQ (", reason, "): ", raw)
}
