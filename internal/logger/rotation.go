package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const rotatedTimeLayout = "20060102-150405"

// RotatingWriter appends to a single log file and moves it aside once it
// grows past the configured size. Rotated files carry a timestamp suffix
// and are optionally gzip-compressed in the background. Writes are
// serialized by zerolog, so the writer itself holds no lock.
type RotatingWriter struct {
	path     string
	maxBytes int64
	maxAge   time.Duration
	compress bool

	file *os.File
	size int64
}

// NewRotatingWriter opens the log file at path, creating the directory
// if needed. maxSizeMB bounds the active file and maxAgeDays bounds how
// long rotated files are kept; zero disables age pruning.
func NewRotatingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	go w.pruneRotated()

	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p to the active file, rotating first when the write
// would push it past the size bound.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file.
func (w *RotatingWriter) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := w.path + "." + time.Now().Format(rotatedTimeLayout)
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if w.compress {
		go compressLogFile(rotated)
	}

	return w.open()
}

// compressLogFile gzips a rotated file and removes the original. Best
// effort: any failure leaves the uncompressed file in place.
func compressLogFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		return
	}
	if err := gzw.Close(); err != nil {
		return
	}

	os.Remove(path)
}

// pruneRotated removes rotated files older than the retention window.
func (w *RotatingWriter) pruneRotated() {
	if w.maxAge <= 0 {
		return
	}

	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-w.maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}
