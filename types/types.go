package types

import "fmt"

// FileIdentity pins down one physical file. A path can point at different
// physical files over time (rotation, recreation); identity is what dedup
// keys off, not the path.
type FileIdentity struct {
	Path  string
	Inode uint64
	Size  int64
	Mtime int64 // whole seconds
}

// DedupKey is the completed-file ledger key. Inode alone is not enough:
// inodes get reused after deletion, size+mtime guard against that.
func (id FileIdentity) DedupKey() string {
	return fmt.Sprintf("%s|%d|%d|%d", id.Path, id.Inode, id.Size, id.Mtime)
}

// SourcePosition is attached to every routed record for traceability.
// Offset is nil for gzip sources, where byte offsets are meaningless.
type SourcePosition struct {
	Path   string `json:"path"`
	Inode  uint64 `json:"inode"`
	Offset *int64 `json:"offset"`
}

// EntryLine is one raw line on its way from a source to the router.
type EntryLine struct {
	Raw    string
	Source SourcePosition
}

// ActivePointer tracks progress into the currently active file. Offset is a
// byte count; it only moves forward while Inode stays the same, and resets
// to zero whenever the inode changes.
type ActivePointer struct {
	Path            string  `json:"path"`
	Inode           *uint64 `json:"inode"`
	Offset          int64   `json:"offset"`
	LastEventTsSeen *string `json:"last_event_ts_seen"`
}

// CompletedFileRecord is one entry of the completed-file ledger.
type CompletedFileRecord struct {
	Key         string `json:"key"`
	Path        string `json:"path"`
	Inode       uint64 `json:"inode"`
	Size        int64  `json:"size"`
	Mtime       int64  `json:"mtime"`
	CompletedAt int64  `json:"completed_at"`
}

// Counters are process-lifetime totals. Monotonic, never decremented.
type Counters struct {
	LinesIn        uint64 `json:"lines_in_total"`
	BytesIn        uint64 `json:"bytes_in_total"`
	EventsOut      uint64 `json:"events_out_total"`
	DlqOut         uint64 `json:"dlq_out_total"`
	ParseFail      uint64 `json:"parse_fail_total"`
	WriteFail      uint64 `json:"write_fail_total"`
	CheckpointFail uint64 `json:"checkpoint_fail_total"`
}

// CheckpointState is the single unit of persisted progress. The orchestrator
// goroutine owns it exclusively for the process lifetime; everything the
// pipeline has done must be reconstructible from this state alone.
type CheckpointState struct {
	SchemaVersion int                   `json:"schema_version"`
	Active        ActivePointer         `json:"active"`
	Completed     []CompletedFileRecord `json:"completed"`
	Counters      Counters              `json:"counters"`
	UpdatedAt     int64                 `json:"updated_at"`
}

// Event is one parsed firewall log line. Nullable fields stay nil when the
// line did not carry them; numeric fields are nil on non-numeric input too.
type Event struct {
	SchemaVersion int             `json:"schema_version"`
	EventID       string          `json:"event_id"`
	Host          string          `json:"host"`
	EventTs       *string         `json:"event_ts"`
	Type          *string         `json:"type"`
	Subtype       *string         `json:"subtype"`
	Level         *string         `json:"level"`
	Devname       *string         `json:"devname"`
	Devid         *string         `json:"devid"`
	Vd            *string         `json:"vd"`
	Action        *string         `json:"action"`
	Policyid      *int64          `json:"policyid"`
	Proto         *int64          `json:"proto"`
	Service       *string         `json:"service"`
	Srcip         *string         `json:"srcip"`
	Srcport       *int64          `json:"srcport"`
	Srcintf       *string         `json:"srcintf"`
	Srcintfrole   *string         `json:"srcintfrole"`
	Dstip         *string         `json:"dstip"`
	Dstport       *int64          `json:"dstport"`
	Dstintf       *string         `json:"dstintf"`
	Dstintfrole   *string         `json:"dstintfrole"`
	Sentbyte      *int64          `json:"sentbyte"`
	Rcvdbyte      *int64          `json:"rcvdbyte"`
	Sentpkt       *int64          `json:"sentpkt"`
	Rcvdpkt       *int64          `json:"rcvdpkt"`
	Raw           string          `json:"raw"`
	ParseStatus   string          `json:"parse_status"`
	IngestTs      string          `json:"ingest_ts,omitempty"`
	Source        *SourcePosition `json:"source,omitempty"`
}

// DlqRecord is one line the parser refused, with the reason it was refused.
type DlqRecord struct {
	SchemaVersion int            `json:"schema_version"`
	IngestTs      string         `json:"ingest_ts"`
	Reason        string         `json:"reason"`
	Source        SourcePosition `json:"source"`
	Raw           string         `json:"raw"`
}
