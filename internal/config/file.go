package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	gap "github.com/muesli/go-app-paths"
)

// FileName is the base name of the config file looked up in SearchDirs.
const FileName = "samply.yml"

// DefaultYAML is written by EnsureFile when no config file exists.
const DefaultYAML = `# samply configuration

analysis:
  # amplitude a sample must exceed to count as a beat peak
  peak_threshold: 0.8
  # spectral magnitude a bin must exceed to count as dominant
  dominant_threshold: 0.5
  # number of points in every waveform thumbnail
  waveform_resolution: 100
  # FFT input cap in samples; longer signals are truncated
  max_transform_size: 65536
  rules:
    # spectral centroid above which a sample is treated as a hi-hat
    high_frequency_centroid_hz: 5000
    # RMS above which a sample is treated as a kick
    kick_rms: 0.7

cache:
  # total budget, e.g. "500MiB" or "2GB"
  max_size: "500MiB"
  # entries older than this are removed by cleanup
  max_age: "168h"
  # how often the background janitor runs
  cleanup_interval: "1h"
  # where cached samples are stored (default: user cache dir)
  # dir: "~/.cache/samply/samples"
  # zstd level 1-22, 0 disables compression
  compression_level: 3

log:
  # debug, info, warn or error
  level: "info"
  # file: "~/samply.log"
`

// SearchDirs returns the directories searched for FileName, highest
// priority first: $SAMPLY_CONFIG_HOME, $XDG_CONFIG_HOME/samply, then the
// platform's user config directories.
func SearchDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("SAMPLY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// EnsureFile writes DefaultYAML to path unless a file already exists there.
func EnsureFile(path string) error {
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(DefaultYAML); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
