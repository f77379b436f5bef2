package source

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"fortistash/types"
)

// ReadLines streams a rotated, immutable file line by line. Plain files get
// an exact byte offset per line (offset of the line start); gzip files get a
// nil offset, since offsets into the decompressed stream are useless for
// resume and these files are only ever read start-to-finish.
//
// Lines keep their trailing newline; the last line is yielded even without
// one. The sequence is finite and non-restartable.
func ReadLines(path string, id types.FileIdentity, fn func(raw string, pos types.SourcePosition)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var rd io.Reader = f
	gzipped := strings.HasSuffix(path, ".gz")
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		rd = gz
	}

	br := bufio.NewReader(rd)
	var offset int64
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			pos := types.SourcePosition{Path: path, Inode: id.Inode}
			if !gzipped {
				start := offset
				pos.Offset = &start
			}
			fn(line, pos)
			offset += int64(len(line))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
