package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// logWriter is the slog sink. It can reopen its file on SIGHUP so an
// external logrotate can move the old one away.
type logWriter struct {
	mu   sync.Mutex
	path string
	file *os.File // nil when logging to stderr
}

func newLogWriter(path string) (*logWriter, error) {
	w := &logWriter{path: path}
	if path == "" {
		return w, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	w.file = file
	return w, nil
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.Stderr.Write(p)
	}
	return w.file.Write(p)
}

// Rotate closes and reopens the log file
func (w *logWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	_ = w.file.Close()
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	w.file = file
	return nil
}

func (w *logWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// setupLogging installs the global slog logger and returns the writer so
// main can rotate and close it.
func setupLogging(path string, debug bool) (*logWriter, error) {
	writer, err := newLogWriter(path)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})))
	return writer, nil
}
