package source

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"syscall"

	"fortistash/types"
)

// Catalog discovers rotated siblings of the active log file. Rotated files
// are named <base>-<YYYYMMDD-HHMMSS>, optionally gzipped; anything else in
// the directory is ignored.
type Catalog struct {
	Dir     string
	Base    string
	pattern *regexp.Regexp
}

func NewCatalog(activePath string) *Catalog {
	base := filepath.Base(activePath)
	return &Catalog{
		Dir:     filepath.Dir(activePath),
		Base:    base,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `-(\d{8}-\d{6})(?:\.gz)?$`),
	}
}

// ListRotatedFiles returns full paths sorted ascending by the embedded
// timestamp. The field is fixed-width and zero-padded, so a plain string
// sort is chronological.
func (c *Catalog) ListRotatedFiles() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, err
	}

	type rotated struct {
		path  string
		stamp string
	}
	var files []rotated
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := c.pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, rotated{filepath.Join(c.Dir, e.Name()), m[1]})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].stamp < files[j].stamp })

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
	}
	return paths, nil
}

// Stat captures the identity of a file. Callers must treat a not-found error
// as skip-and-continue: rotated files can be pruned externally between
// listing and stating.
func Stat(path string) (types.FileIdentity, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return types.FileIdentity{}, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return types.FileIdentity{}, &os.PathError{Op: "stat", Path: path, Err: syscall.ENOTSUP}
	}
	return types.FileIdentity{
		Path:  path,
		Inode: st.Ino,
		Size:  fi.Size(),
		Mtime: fi.ModTime().Unix(),
	}, nil
}
