package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RollingFile is an io.WriteCloser that rolls the log file over when it
// reaches a size bound. Rolled files are renamed with a timestamp
// suffix, optionally gzipped, and swept by age.
type RollingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   int // days; 0 keeps everything
	compress bool
	file     *os.File
	size     int64
}

// NewRollingFile opens path for appending, rolling at maxSizeMB.
func NewRollingFile(path string, maxSizeMB int, maxAge int, compress bool) (*RollingFile, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("rolling log needs a positive size bound, got %d", maxSizeMB)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &RollingFile{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAge:   maxAge,
		compress: compress,
	}
	if err := r.open(); err != nil {
		return nil, err
	}

	go r.sweep()

	return r, nil
}

// Write appends to the current file, rolling first when the write
// would cross the size bound.
func (r *RollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.roll(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current file.
func (r *RollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RollingFile) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	return nil
}

// roll renames the active file aside and starts a fresh one. Called
// with the mutex held.
func (r *RollingFile) roll() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	rolled := fmt.Sprintf("%s.%s", r.path, time.Now().Format("20060102-150405.000"))
	if err := os.Rename(r.path, rolled); err != nil {
		return err
	}

	if r.compress {
		go compressRolled(rolled)
	}
	go r.sweep()

	return r.open()
}

// compressRolled gzips a rolled file and removes the original.
func compressRolled(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// sweep removes rolled files older than the age bound.
func (r *RollingFile) sweep() {
	if r.maxAge <= 0 {
		return
	}

	matches, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -r.maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(path)
		if !strings.HasSuffix(path, ".gz") {
			os.Remove(path + ".gz")
		}
	}
}
