package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/oran3030/samply/internal/config"
)

// setupLog configures the default logger from lc. Logs go to stderr and,
// when lc.File is set, are appended to that file too. The returned func
// closes the file.
func setupLog(lc config.LogConfig, debug bool) (func() error, error) {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = log.DebugLevel
	}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil { //nolint:gosec
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	log.SetDefault(log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          config.AppName,
		ReportTimestamp: level == log.DebugLevel,
	}))
	return closer, nil
}
