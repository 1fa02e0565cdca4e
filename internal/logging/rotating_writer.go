// Package logging provides the rotating file writer the audit trail is
// persisted through.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to a file that rotates on UTC day change and when
// a write would push it past MaxBytes. Audit events are JSON lines, so
// rotation always lands on a line boundary.
//
// Given basePath "audit/trail.jsonl", output files are named
// "audit/trail.20260826.jsonl" and "audit/trail.20260826.2.jsonl" on
// same-day size rollover. basePath itself is kept as a symlink to the
// current file where the filesystem allows it.
type RotatingWriter struct {
	basePath string
	maxBytes int64

	mu      sync.Mutex
	day     string // YYYYMMDD of the open file
	index   int    // same-day rollover counter, 1 is the first file
	file    *os.File
	written int64

	now func() time.Time
}

// NewRotatingWriter opens the writer. basePath "-" disables file output and
// returns a discarding writer.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopCloser{io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	w := &RotatingWriter{basePath: basePath, maxBytes: maxBytes, now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Close closes the current file. The writer is unusable afterwards.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate opens a new file when the day changed or incoming bytes would
// cross the size limit. Caller holds w.mu.
func (w *RotatingWriter) rotate(incoming int64) error {
	today := w.now().UTC().Format("20060102")
	switch {
	case w.file == nil || w.day != today:
		w.day = today
		w.index = 1
	case w.written+incoming > w.maxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	dir := filepath.Dir(w.basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audit log dir: %w", err)
	}

	path := w.currentPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	size := int64(0)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.written = size
	w.linkCurrent(path)
	return nil
}

// currentPath builds the dated file name for the writer's day and index.
func (w *RotatingWriter) currentPath() string {
	ext := filepath.Ext(w.basePath)
	if ext == "" {
		ext = ".jsonl"
	}
	stem := strings.TrimSuffix(w.basePath, filepath.Ext(w.basePath))
	if w.index > 1 {
		return fmt.Sprintf("%s.%s.%d%s", stem, w.day, w.index, ext)
	}
	return fmt.Sprintf("%s.%s%s", stem, w.day, ext)
}

// linkCurrent keeps basePath pointing at the active file. Best effort only;
// on filesystems without symlink support the dated files stand alone.
func (w *RotatingWriter) linkCurrent(target string) {
	if info, err := os.Lstat(w.basePath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(w.basePath); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(w.basePath)
	}
	_ = os.Symlink(target, w.basePath)
}

type nopCloser struct{ w io.Writer }

func (n nopCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopCloser) Close() error                { return nil }
