package fixers

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TempClean deletes files older than a configured age from a directory.
// Files in use or without permission are skipped, so repeated runs are
// harmless.
type TempClean struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewTempClean creates the temp-file cleanup fixer.
func NewTempClean(maxAge time.Duration) *TempClean {
	return &TempClean{maxAge: maxAge, now: time.Now}
}

func (t *TempClean) Name() string {
	return "tempclean"
}

// Apply removes stale files under target. target is the watched
// directory reported by the tempdir monitor.
func (t *TempClean) Apply(ctx context.Context, target string) error {
	if target == "" {
		target = os.TempDir()
	}
	cutoff := t.now().Add(-t.maxAge)

	return filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != target {
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
		if info.ModTime().Before(cutoff) {
			// Locked or in-use files stay; they will age out later.
			os.Remove(p)
		}
		return nil
	})
}
