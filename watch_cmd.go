package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/oran3030/samply/internal/cache"
	"github.com/oran3030/samply/internal/library"
	"github.com/oran3030/samply/internal/samplerr"
)

var (
	watchRate     float64
	watchSettle   time.Duration
	watchExisting bool

	watchCmd = &cobra.Command{
		Use:   "watch DIR",
		Short: "Analyse samples as they appear in a directory",
		Long: paragraph(fmt.Sprintf("\n%s DIR and analyse every WAV file that is created or written there. A file is analysed once it has been quiet for --settle, and ingests are throttled to --rate per second.",
			keyword("Watch"))),
		Example: paragraph("samply watch ~/Music/samples\nsamply watch --existing --rate 5 ."),
		Args:    cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, args []string, svc *library.Service, _ *cache.Store) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchDir(ctx, svc, args[0])
		}),
	}
)

func watchDir(ctx context.Context, svc *library.Service, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("unable to watch: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", dir, err)
	}

	if watchExisting {
		if err := ingestExisting(ctx, svc, dir); err != nil {
			return err
		}
	}

	limiter := rate.NewLimiter(rate.Limit(watchRate), 1)
	settled := newDebouncer(watchSettle)
	defer settled.Stop()
	log.Info("Watching for samples", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", "err", err)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isAudioFile(ev.Name) {
				continue
			}
			settled.Touch(ev.Name)

		case path := <-settled.Ready():
			if err := limiter.Wait(ctx); err != nil {
				return nil //nolint:nilerr
			}
			if err := ingestFile(ctx, svc, path); err != nil {
				return err
			}
		}
	}
}

// debouncer coalesces bursts of events per path. A path is delivered on
// Ready once it has gone quiet for the configured period.
type debouncer struct {
	quiet time.Duration
	ready chan string
	done  chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	once   sync.Once
}

func newDebouncer(quiet time.Duration) *debouncer {
	return &debouncer{
		quiet:  quiet,
		ready:  make(chan string),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// Touch restarts the quiet period of path.
func (d *debouncer) Touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[path]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		if d.timers[path] != t {
			// superseded by a later Touch
			d.mu.Unlock()
			return
		}
		delete(d.timers, path)
		d.mu.Unlock()

		select {
		case d.ready <- path:
		case <-d.done:
		}
	})
	d.timers[path] = t
}

func (d *debouncer) Ready() <-chan string {
	return d.ready
}

// Stop cancels every pending path.
func (d *debouncer) Stop() {
	d.once.Do(func() { close(d.done) })

	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}

// ingestFile analyses one file. Files that fail to decode are logged and
// skipped, since they are often still being written.
func ingestFile(ctx context.Context, svc *library.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read sample", "path", path, "err", err)
		return nil
	}

	res, err := svc.Ingest(ctx, sampleID(path), data, "")
	switch {
	case err == nil:
		log.Info("Analysed sample",
			"id", res.ID,
			"category", res.Descriptor.Category,
			"key", res.Descriptor.Key,
			"tempo", fmt.Sprintf("%.1f", res.Descriptor.TempoBPM))
		return nil
	case errors.Is(err, samplerr.ErrDecode), errors.Is(err, samplerr.ErrValidation):
		log.Warn("Skipping sample", "path", path, "err", err)
		return nil
	default:
		return err
	}
}

func ingestExisting(ctx context.Context, svc *library.Service, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", dir, err)
	}

	var items []library.Item
	for _, e := range entries {
		if e.IsDir() || !isAudioFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Could not read sample", "path", path, "err", err)
			continue
		}
		items = append(items, library.Item{ID: sampleID(path), Data: data})
	}

	results, err := svc.IngestAll(ctx, items, jobs)
	if err != nil {
		return err
	}
	log.Info("Analysed existing samples", "count", len(results)-countFailed(results), "failed", countFailed(results))
	return nil
}

func isAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return true
	default:
		return false
	}
}

func init() {
	watchCmd.Flags().Float64Var(&watchRate, "rate", 2, "maximum samples analysed per second")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "how long a file must stay unchanged before it is analysed")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "analyse files already in DIR first")
}
