package monitors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/murmur/internal/models"
)

// TempDir reports the total size of a directory tree as a dir_size
// observation. Deciding whether the size is a problem is a rule's job,
// not the probe's.
type TempDir struct {
	interval time.Duration
	path     string
}

// NewTempDir creates the directory-size probe. An empty path watches the
// system temp directory.
func NewTempDir(interval time.Duration, path string) *TempDir {
	if path == "" {
		path = os.TempDir()
	}
	return &TempDir{interval: interval, path: path}
}

func (t *TempDir) Name() string {
	return "tempdir"
}

func (t *TempDir) Interval() time.Duration {
	return t.interval
}

// Path returns the watched directory.
func (t *TempDir) Path() string {
	return t.path
}

func (t *TempDir) Sample(ctx context.Context) []models.Observation {
	var total int64
	var files int

	err := filepath.WalkDir(t.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == t.path {
				// Unreadable root means the probe itself failed.
				return err
			}
			// Files vanishing or being locked mid-walk is routine in a
			// temp directory; skip and keep counting.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		files++
		return nil
	})
	if err != nil {
		return []models.Observation{probeError(t.Name(), t.path, err)}
	}

	return []models.Observation{{
		Source:    t.Name(),
		Kind:      models.KindDirSize,
		Target:    t.path,
		Value:     fmt.Sprintf("%d", total),
		Detail:    fmt.Sprintf("%d files", files),
		Timestamp: time.Now().UTC(),
	}}
}
