package service

import (
	"context"
	"os"
	"time"

	lf "github.com/sirupsen/logrus"

	"fortistash/checkpoint"
	"fortistash/metrics"
	"fortistash/pipelines"
	"fortistash/sink"
	"fortistash/source"
	"fortistash/types"
)

// Config carries every knob of the ingest loop. Zero durations are invalid;
// cmd fills them from viper defaults.
type Config struct {
	ActivePath     string
	ParsedDir      string
	CheckpointPath string

	FlushInterval   time.Duration
	MetricsInterval time.Duration
	TailSlice       time.Duration
	PollInterval    time.Duration
}

// Run is the single control loop: drain every undrained rotated file to
// completion, follow the active file for one bounded slice, then service the
// checkpoint and metrics timers. The goroutine running this owns the
// CheckpointState exclusively; nothing else may mutate it.
//
// The loop runs until ctx is cancelled, which in production never happens
// (the process is terminated by signal; the checkpoint replays the last
// flush interval on restart). Tests use the cancellation to stop it.
func Run(ctx context.Context, cfg Config, store *checkpoint.Store, pipe pipelines.Pipeline, sinks *sink.Writer) error {
	log := lf.WithField("service", "ingest")

	state, err := store.Load(cfg.ActivePath)
	if err != nil {
		return err
	}
	log.Info("Checkpoint loaded: offset ", state.Active.Offset, ", ", len(state.Completed), " completed files")

	catalog := source.NewCatalog(cfg.ActivePath)
	window := metrics.NewWindow()

	var follower *source.Follower
	defer func() {
		if follower != nil {
			follower.Close()
		}
	}()

	lastFlush := time.Now()
	lastMetrics := time.Now()

	for {
		select {
		case <-ctx.Done():
			if err := store.Save(state); err != nil {
				state.Counters.CheckpointFail++
				log.Warn("Final checkpoint save failed: ", err)
			}
			return ctx.Err()
		default:
		}

		drainRotated(log, catalog, state, pipe)
		follower = tailActiveSlice(log, cfg, state, pipe, follower)

		now := time.Now()
		if now.Sub(lastFlush) >= cfg.FlushInterval {
			if err := store.Save(state); err != nil {
				state.Counters.CheckpointFail++
				log.Warn("Checkpoint save failed: ", err)
			}
			lastFlush = now
		}
		if now.Sub(lastMetrics) >= cfg.MetricsInterval {
			if err := sinks.AppendMetrics(window.Build(state, now.Unix())); err != nil {
				state.Counters.WriteFail++
				log.Warn("Metrics write failed: ", err)
			}
			lastMetrics = now
		}
	}
}

// drainRotated processes every rotated file not yet in the completed ledger,
// oldest first, each one synchronously to completion. A file that vanished
// between listing and stating is skipped; a read error leaves the file
// unmarked so the next pass retries it.
func drainRotated(log *lf.Entry, catalog *source.Catalog, state *types.CheckpointState, pipe pipelines.Pipeline) {
	paths, err := catalog.ListRotatedFiles()
	if err != nil {
		log.Warn("Rotated file listing failed: ", err)
		return
	}

	for _, path := range paths {
		id, err := source.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn("Stat failed for ", path, ": ", err)
			}
			continue
		}
		if checkpoint.IsCompleted(state, id) {
			continue
		}

		log.Info("Draining rotated file ", path)
		err = source.ReadLines(path, id, func(raw string, pos types.SourcePosition) {
			pipe.ProcessEntry(state, &types.EntryLine{Raw: raw, Source: pos})
		})
		if err != nil {
			log.Warn("Read failed for ", path, ": ", err)
			continue
		}
		checkpoint.MarkCompleted(state, id)
	}
}

// tailActiveSlice follows the active file for at most cfg.TailSlice of wall
// clock, then yields so the timers stay responsive. Identity is reconciled
// before resuming and re-checked after every line: an inode change resets
// the pointer to offset zero and abandons the open follower. Bytes already
// read under the old identity were attributed to it at read time, and the
// old file shows up as a rotated file to be drained from the start.
func tailActiveSlice(log *lf.Entry, cfg Config, state *types.CheckpointState, pipe pipelines.Pipeline, follower *source.Follower) *source.Follower {
	id, err := source.Stat(cfg.ActivePath)
	if err != nil {
		// Active file momentarily absent (mid-rotation); try again next loop.
		time.Sleep(cfg.PollInterval)
		return follower
	}

	if state.Active.Inode == nil || *state.Active.Inode != id.Inode {
		if state.Active.Inode != nil {
			log.Info("Active file rotated: inode ", *state.Active.Inode, " -> ", id.Inode)
		}
		inode := id.Inode
		state.Active.Inode = &inode
		state.Active.Offset = 0
		if follower != nil {
			follower.Close()
			follower = nil
		}
	}

	if follower == nil {
		follower, err = source.OpenFollower(cfg.ActivePath, state.Active.Offset, cfg.PollInterval)
		if err != nil {
			log.Warn("Cannot follow ", cfg.ActivePath, ": ", err)
			return nil
		}
	}

	deadline := time.Now().Add(cfg.TailSlice)
	for {
		line, newOffset, ok := follower.Next(deadline)
		if !ok {
			return follower
		}

		// The path may point at a new file already; if so the line just read
		// came from the renamed old file and will be re-read when that file
		// is drained as a rotated file.
		if cur, err := source.Stat(cfg.ActivePath); err == nil && cur.Inode != *state.Active.Inode {
			log.Info("Active file rotated mid-tail: inode ", *state.Active.Inode, " -> ", cur.Inode)
			inode := cur.Inode
			state.Active.Inode = &inode
			state.Active.Offset = 0
			follower.Close()
			return nil
		}

		off := newOffset
		pipe.ProcessEntry(state, &types.EntryLine{
			Raw: line,
			Source: types.SourcePosition{
				Path:   cfg.ActivePath,
				Inode:  *state.Active.Inode,
				Offset: &off,
			},
		})
		state.Active.Offset = newOffset
	}
}
