// Package cleanup empties the scratch directories a run leaves behind.
//
// Cleanup is best-effort: an item that cannot be removed is logged and
// skipped, and nothing here ever returns an error to the caller.
package cleanup

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// DefaultDirs are the scratch locations used when none are configured.
var DefaultDirs = []string{
	filepath.Join("data", "processed"),
	filepath.Join("data", "raw"),
	filepath.Join("data", "staging"),
}

// Logger is the minimal logging interface used by the coordinator.
type Logger interface {
	Printf(format string, v ...any)
}

// Coordinator removes everything under Dirs, keeping the directories themselves.
type Coordinator struct {
	Dirs   []string
	Logger Logger

	// remove and readDir are seams for tests; production uses os.RemoveAll
	// and os.ReadDir.
	remove  func(path string) error
	readDir func(path string) ([]os.DirEntry, error)

	once    sync.Once
	summary Summary
}

// Summary counts what one cleanup did.
type Summary struct {
	Removed int
	Failed  int
}

// Run performs the cleanup once. Later calls return the first summary
// without touching the filesystem again.
func (c *Coordinator) Run() Summary {
	c.once.Do(func() { c.summary = c.run() })
	return c.summary
}

func (c *Coordinator) run() Summary {
	logf := c.logger()
	remove := c.remove
	if remove == nil {
		remove = os.RemoveAll
	}
	readDir := c.readDir
	if readDir == nil {
		readDir = os.ReadDir
	}

	var s Summary
	for _, dir := range c.Dirs {
		entries, err := readDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.Failed++
			logf("stage=cleanup level=warn dir=%s err=%v", dir, err)
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if err := remove(p); err != nil {
				s.Failed++
				logf("stage=cleanup level=warn path=%s err=%v", p, err)
				continue
			}
			s.Removed++
		}
	}
	logf("stage=cleanup ok removed=%d failed=%d dirs=%v", s.Removed, s.Failed, c.Dirs)
	return s
}

func (c *Coordinator) logger() func(format string, v ...any) {
	if c.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return c.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
