package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fortistash/types"
)

// LedgerCap bounds the completed-file ledger; oldest entries are evicted
// first, FIFO by insertion order.
const LedgerCap = 5000

// Store owns the checkpoint file. Load once at startup, Save on a timer.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Default returns the state of a first run: active pointer at the configured
// path, offset zero, never attached to an inode.
func Default(activePath string) *types.CheckpointState {
	return &types.CheckpointState{
		SchemaVersion: 1,
		Active: types.ActivePointer{
			Path:   activePath,
			Inode:  nil,
			Offset: 0,
		},
		Completed: []types.CompletedFileRecord{},
		UpdatedAt: time.Now().Unix(),
	}
}

// Load reads the persisted state, or returns Default when nothing has been
// persisted yet. A checkpoint file that exists but cannot be decoded is an
// error; silently starting over would re-emit everything.
func (s *Store) Load(activePath string) (*types.CheckpointState, error) {
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return Default(activePath), nil
	}
	if err != nil {
		return nil, err
	}
	state := &types.CheckpointState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", s.Path, err)
	}
	if state.Completed == nil {
		state.Completed = []types.CompletedFileRecord{}
	}
	return state, nil
}

// Save persists the full state atomically: write a temporary sibling, force
// it to stable storage, rename over the canonical path. A crash mid-write
// leaves either the old or the new complete file, never a mix.
func (s *Store) Save(state *types.CheckpointState) error {
	state.UpdatedAt = time.Now().Unix()

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", s.Path, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path)
}

// IsCompleted reports whether a file with this exact identity has already
// been drained to completion.
func IsCompleted(state *types.CheckpointState, id types.FileIdentity) bool {
	key := id.DedupKey()
	for _, rec := range state.Completed {
		if rec.Key == key {
			return true
		}
	}
	return false
}

// MarkCompleted appends the identity to the ledger and evicts the oldest
// entries beyond LedgerCap. Only call this after every line of the file has
// been routed.
func MarkCompleted(state *types.CheckpointState, id types.FileIdentity) {
	state.Completed = append(state.Completed, types.CompletedFileRecord{
		Key:         id.DedupKey(),
		Path:        id.Path,
		Inode:       id.Inode,
		Size:        id.Size,
		Mtime:       id.Mtime,
		CompletedAt: time.Now().Unix(),
	})
	if len(state.Completed) > LedgerCap {
		state.Completed = state.Completed[len(state.Completed)-LedgerCap:]
	}
}
