// Package applog builds cauth's log/slog text loggers: New writes to a
// file rotated through lumberjack, wired the way cmd/caam/cmd/pick.go
// wires a text handler, and NewStderr writes to stderr. Only
// refresh --watch logs, through NewStderr; no command opens the file sink.
package applog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMiB  = 10
	maxBackups  = 3
	defaultName = "cauth.log"
)

// DefaultPath returns <home>/.agent-island/logs/cauth.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agent-island", "logs", defaultName)
	}
	return filepath.Join(home, ".agent-island", "logs", defaultName)
}

// New builds the slog.Logger that writes text-formatted records to path,
// rotating at 10 MiB with up to 3 backups. Passing an empty path uses
// DefaultPath().
func New(path string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, err
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMiB,
		MaxBackups: maxBackups,
		Compress:   false,
	}

	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	return slog.New(handler), sink, nil
}

// NewStderr builds a slog.Logger writing text records to stderr, for
// foreground invocations that surface diagnostics immediately (e.g.
// `refresh --watch`'s own lifecycle messages).
func NewStderr(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
