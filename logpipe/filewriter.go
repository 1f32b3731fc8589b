package logpipe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DEFAULT_SPLIT_LINES = 5000000
)

// FileWriter writes log lines to a file named after the current day and
// rolls over to a new file when the day changes or every SplitLines lines.
// Files are named <dir>/<YYYY_MM_DD>_<base>, with a .N suffix for the Nth
// split of the same day.
type FileWriter struct {
	mu         sync.Mutex
	dir        string
	base       string
	splitLines int64
	lines      int64
	today      string
	file       *os.File
	now        func() time.Time
}

func NewFileWriter(path string, splitLines int) (*FileWriter, error) {
	if splitLines <= 0 {
		splitLines = DEFAULT_SPLIT_LINES
	}
	var w = &FileWriter{
		dir:        filepath.Dir(path),
		base:       filepath.Base(path),
		splitLines: int64(splitLines),
		now:        time.Now,
	}
	if err := w.open(w.now(), 0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var now = w.now()
	var day = now.Format("2006_01_02")
	if day != w.today {
		w.lines = 0
		if err := w.open(now, 0); err != nil {
			return 0, err
		}
	} else if w.lines > 0 && w.lines%w.splitLines == 0 {
		if err := w.open(now, w.lines/w.splitLines); err != nil {
			return 0, err
		}
	}
	w.lines += int64(bytes.Count(p, []byte{'\n'}))
	return w.file.Write(p)
}

// Name returns the path of the file currently written to.
func (w *FileWriter) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Name()
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	var err = w.file.Close()
	w.file = nil
	return err
}

func (w *FileWriter) open(now time.Time, split int64) error {
	var day = now.Format("2006_01_02")
	var name = filepath.Join(w.dir, fmt.Sprintf("%s_%s", day, w.base))
	if split > 0 {
		name = fmt.Sprintf("%s.%d", name, split)
	}
	var f, err = os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logpipe: open %q: %w", name, err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.today = day
	return nil
}
