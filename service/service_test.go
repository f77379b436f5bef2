package service

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortistash/checkpoint"
	"fortistash/pipelines/fortigate"
	"fortistash/sink"
	"fortistash/source"
	"fortistash/types"
)

func testConfig(dir string) Config {
	return Config{
		ActivePath:      filepath.Join(dir, "fortigate.log"),
		ParsedDir:       filepath.Join(dir, "parsed"),
		CheckpointPath:  filepath.Join(dir, "parsed", "checkpoint.json"),
		FlushInterval:   50 * time.Millisecond,
		MetricsInterval: 100 * time.Millisecond,
		TailSlice:       50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
}

func runLoop(t *testing.T, cfg Config, d time.Duration) *types.CheckpointState {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.ParsedDir, 0755))

	store := checkpoint.NewStore(cfg.CheckpointPath)
	sinks := sink.NewWriter(cfg.ParsedDir)
	pipe := fortigate.NewPipeline()
	require.NoError(t, pipe.Setup(sinks))

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	err := Run(ctx, cfg, store, pipe, sinks)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	state, err := store.Load(cfg.ActivePath)
	require.NoError(t, err)
	return state
}

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func readSinkGlob(t *testing.T, dir, prefix string) []map[string]any {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl"))
	require.NoError(t, err)

	var out []map[string]any
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var obj map[string]any
			require.NoError(t, json.Unmarshal(sc.Bytes(), &obj))
			out = append(out, obj)
		}
		f.Close()
	}
	return out
}

func TestRunDrainsRotatedThenTailsActive(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	rotated := filepath.Join(dir, "fortigate.log-20240105-000000")
	require.NoError(t, os.WriteFile(rotated, []byte(
		"Jan  4 10:00:00 fw01 type=traffic subtype=forward action=accept srcport=1\n"+
			"Jan  4 10:00:01 fw01 type=traffic subtype=forward action=deny srcport=2\n"), 0644))
	require.NoError(t, os.WriteFile(cfg.ActivePath, []byte(
		"Jan  5 03:04:05 fw01 type=traffic subtype=forward action=accept dstport=443\n"+
			"bad \x00 line\n"), 0644))

	state := runLoop(t, cfg, 400*time.Millisecond)

	events := readSinkGlob(t, cfg.ParsedDir, "events")
	require.Len(t, events, 3)
	dlq := readSinkGlob(t, cfg.ParsedDir, "dlq")
	require.Len(t, dlq, 1)
	assert.Equal(t, "non_text_or_binary", dlq[0]["reason"])

	// The rotated file is in the completed ledger with its full identity.
	id, err := source.Stat(rotated)
	require.NoError(t, err)
	assert.True(t, checkpoint.IsCompleted(state, id))

	// Active pointer attached and advanced to end of file.
	require.NotNil(t, state.Active.Inode)
	activeID, err := source.Stat(cfg.ActivePath)
	require.NoError(t, err)
	assert.Equal(t, activeID.Inode, *state.Active.Inode)
	assert.Equal(t, activeID.Size, state.Active.Offset)

	assert.Equal(t, uint64(4), state.Counters.LinesIn)
	assert.Equal(t, uint64(3), state.Counters.EventsOut)
	assert.Equal(t, uint64(1), state.Counters.DlqOut)
	assert.Zero(t, state.Counters.WriteFail)
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fortigate.log-20240105-000000"), []byte(
		"Jan  4 10:00:00 fw01 type=traffic subtype=forward action=accept srcport=1\n"), 0644))
	require.NoError(t, os.WriteFile(cfg.ActivePath, []byte(
		"Jan  5 03:04:05 fw01 type=traffic subtype=forward action=accept dstport=443\n"), 0644))

	runLoop(t, cfg, 300*time.Millisecond)
	first := readSinkGlob(t, cfg.ParsedDir, "events")
	require.Len(t, first, 2)

	// Restart with the same checkpoint: nothing is reprocessed.
	runLoop(t, cfg, 300*time.Millisecond)
	second := readSinkGlob(t, cfg.ParsedDir, "events")
	assert.Len(t, second, 2)
}

func TestRunReadsGzippedRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	writeGz(t, filepath.Join(dir, "fortigate.log-20240104-000000.gz"),
		"Jan  3 10:00:00 fw01 type=traffic subtype=forward action=accept srcport=9\n")
	require.NoError(t, os.WriteFile(cfg.ActivePath, nil, 0644))

	state := runLoop(t, cfg, 300*time.Millisecond)

	events := readSinkGlob(t, cfg.ParsedDir, "events")
	require.Len(t, events, 1)
	src := events[0]["source"].(map[string]any)
	assert.Nil(t, src["offset"], "gzip sources have no byte offset")

	assert.Equal(t, uint64(1), state.Counters.EventsOut)
}

func TestRunDetectsRotationMidTail(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	require.NoError(t, os.WriteFile(cfg.ActivePath, []byte(
		"Jan  5 03:04:05 fw01 type=traffic subtype=forward action=accept srcport=1\n"), 0644))

	go func() {
		time.Sleep(300 * time.Millisecond)
		// External rotation: rename, then recreate the active path.
		os.Rename(cfg.ActivePath, filepath.Join(dir, "fortigate.log-20240105-030500"))
		os.WriteFile(cfg.ActivePath, []byte(
			"Jan  5 03:05:01 fw01 type=traffic subtype=forward action=deny srcport=2\n"), 0644)
	}()

	state := runLoop(t, cfg, 1200*time.Millisecond)

	// The pointer now tracks the recreated file from offset zero plus the
	// line read out of it.
	require.NotNil(t, state.Active.Inode)
	newID, err := source.Stat(cfg.ActivePath)
	require.NoError(t, err)
	assert.Equal(t, newID.Inode, *state.Active.Inode)
	assert.Equal(t, newID.Size, state.Active.Offset)

	// The renamed file got drained as a rotated file and marked completed.
	rotatedID, err := source.Stat(filepath.Join(dir, "fortigate.log-20240105-030500"))
	require.NoError(t, err)
	assert.True(t, checkpoint.IsCompleted(state, rotatedID))

	// Both the pre- and post-rotation lines made it out as events.
	events := readSinkGlob(t, cfg.ParsedDir, "events")
	actions := map[string]bool{}
	for _, ev := range events {
		if a, ok := ev["action"].(string); ok {
			actions[a] = true
		}
	}
	assert.True(t, actions["accept"])
	assert.True(t, actions["deny"])
}

func TestRunQuietActiveFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.ActivePath, nil, 0644))

	state := runLoop(t, cfg, 200*time.Millisecond)
	assert.Zero(t, state.Counters.LinesIn)
	assert.Zero(t, state.Counters.WriteFail)
}

func TestRunAppendsMetrics(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.ActivePath, []byte(
		"Jan  5 03:04:05 fw01 type=traffic subtype=forward action=accept\n"), 0644))

	runLoop(t, cfg, 400*time.Millisecond)

	f, err := os.Open(filepath.Join(cfg.ParsedDir, "metrics.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan(), "at least one metrics summary expected")
	var obj map[string]any
	require.NoError(t, json.Unmarshal(sc.Bytes(), &obj))
	assert.Contains(t, obj, "totals")
	assert.Contains(t, obj, "window")
}
