package source

import (
	"bytes"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"fortistash/types"
)

const readChunkSize = 8192

// Follower reads the active file from a byte offset, yielding one complete
// line at a time. The file is opened once; when no new bytes are available
// it sleeps Poll and retries instead of reporting end-of-stream. A partial
// trailing line stays buffered until its newline arrives.
//
// Rotation is not detected here: the caller compares Identity against its
// stored inode between lines and abandons the follower on mismatch.
type Follower struct {
	Poll time.Duration

	path   string
	f      *os.File
	buf    []byte
	chunk  []byte
	offset int64 // file offset of the next unyielded byte
}

func OpenFollower(path string, offset int64, poll time.Duration) (*Follower, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &Follower{
		Poll:   poll,
		path:   path,
		f:      f,
		chunk:  make([]byte, readChunkSize),
		offset: offset,
	}, nil
}

// Next blocks until a complete line is available or the deadline passes.
// The returned offset is the file position just after the line. ok is false
// only when the deadline expired with no complete line buffered; the
// follower remains usable.
func (fl *Follower) Next(deadline time.Time) (line string, newOffset int64, ok bool) {
	for {
		if i := bytes.IndexByte(fl.buf, '\n'); i >= 0 {
			line := string(fl.buf[:i+1])
			fl.buf = fl.buf[i+1:]
			fl.offset += int64(i + 1)
			return line, fl.offset, true
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return "", fl.offset, false
		}

		n, err := fl.f.Read(fl.chunk)
		if n > 0 {
			fl.buf = append(fl.buf, fl.chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			log.Debug("Active read error on ", fl.path, ": ", err)
		}
		time.Sleep(fl.Poll)
	}
}

// Offset is the position of the next unyielded byte.
func (fl *Follower) Offset() int64 {
	return fl.offset
}

// Identity stats the follower's path, not its open descriptor, so it sees
// whatever file the path currently points at.
func (fl *Follower) Identity() (types.FileIdentity, error) {
	return Stat(fl.path)
}

func (fl *Follower) Close() error {
	return fl.f.Close()
}
