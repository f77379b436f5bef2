package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fortistash/types"
)

const (
	eventsPrefix = "events"
	dlqPrefix    = "dlq"
	metricsFile  = "metrics.jsonl"
)

// Writer appends newline-delimited JSON to hour-bucketed files under Dir.
// Files are append-only and never rewritten; buckets use local time. Each
// append opens, writes and closes, so an hour rollover needs no bookkeeping
// and a failed write affects only the one record.
type Writer struct {
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

func hourKey(ts time.Time) string {
	return ts.Local().Format("20060102-15")
}

func (w *Writer) appendJSONL(path string, obj any) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(raw, '\n'))
	return err
}

func (w *Writer) bucketPath(prefix string, ts time.Time) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s-%s.jsonl", prefix, hourKey(ts)))
}

func (w *Writer) AppendEvent(ts time.Time, ev *types.Event) error {
	return w.appendJSONL(w.bucketPath(eventsPrefix, ts), ev)
}

func (w *Writer) AppendDlq(ts time.Time, rec *types.DlqRecord) error {
	return w.appendJSONL(w.bucketPath(dlqPrefix, ts), rec)
}

// AppendMetrics writes to the single unbucketed metrics file.
func (w *Writer) AppendMetrics(obj any) error {
	return w.appendJSONL(filepath.Join(w.Dir, metricsFile), obj)
}
