package cache

import (
	"cmp"
	"container/list"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/oran3030/samply/internal/samplerr"
)

const component = "cache"

// Store is a byte-budgeted, age-limited LRU cache of audio buffers.
//
// All operations, including Get, are serialised behind one mutex because a
// lookup updates recency. Blobs live in a Backend; the Store keeps the
// metadata and decides what to evict.
type Store struct {
	mu sync.Mutex

	cfg     Config
	backend Backend
	pruner  Pruner
	logger  *log.Logger
	now     func() time.Time
	meter   metric.MeterProvider
	metrics *storeMetrics

	// LRU bookkeeping, front is most recently used
	items map[string]*list.Element
	lru   *list.List
	size  uint64

	closed bool

	stats struct {
		hits        uint64
		misses      uint64
		evictions   uint64
		expired     uint64
		lastCleanup time.Time
	}

	janitorStop chan struct{}
	janitorWg   sync.WaitGroup
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithBackend sets the blob backend. The store takes ownership and closes it.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMeterProvider records cache metrics through mp instead of a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) {
		s.meter = mp
	}
}

// New creates a store. Metadata persisted by the backend is restored so a
// disk backed store survives restarts. No cleanup runs here; see Open and
// Initialize.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", samplerr.ErrInvalidConfig, err)
	}

	s := &Store{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		lru:   list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = NewMemoryBackend()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.meter == nil {
		s.meter = noop.NewMeterProvider()
	}

	m, err := newStoreMetrics(s.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	s.metrics = m

	if p, ok := s.backend.(Pruner); ok {
		s.pruner = p
	}
	s.restore()
	return s, nil
}

// Open builds the backend described by cfg (disk when cfg.Dir is set, memory
// otherwise), restores its index, runs one cleanup pass and starts the
// janitor when cfg.CleanupInterval is positive.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Dir != "" {
		disk, err := NewDiskBackend(cfg.Dir, cfg.CompressionLevel)
		if err != nil {
			return nil, samplerr.Unavailable(err, component, "open")
		}
		opts = append([]Option{WithBackend(disk)}, opts...)
	}

	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.Initialize(); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.StartJanitor(cfg.CleanupInterval)
	return s, nil
}

// restore loads the backend index. A corrupt index is logged and the store
// starts empty. Blobs the index does not cover are pruned.
func (s *Store) restore() {
	entries, err := s.backend.LoadIndex()
	if err != nil {
		s.logger.Warn("Discarding cache index", "err", err)
		entries = nil
	}

	// Least recently used first, oldest created first among equal access
	// times, so the list back is always the next victim.
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Or(
			a.LastAccessedAt.Compare(b.LastAccessedAt),
			a.CreatedAt.Compare(b.CreatedAt),
		)
	})

	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if old, ok := s.items[e.ID]; ok {
			s.size -= old.Value.(*Entry).SizeBytes
			s.lru.Remove(old)
		}
		entry := e
		s.items[e.ID] = s.lru.PushFront(&entry)
		s.size += e.SizeBytes
	}

	if len(s.items) > 0 {
		s.metrics.resized(int64(s.size))
		s.logger.Debug("Restored cache index", "entries", len(s.items), "size", humanize.IBytes(s.size))
	}

	s.prune()
}

// prune deletes blobs left behind by a crash or a discarded index, then
// rewrites the index so both agree.
func (s *Store) prune() {
	if s.pruner == nil {
		return
	}

	keep := make([]string, 0, len(s.items))
	for id := range s.items {
		keep = append(keep, id)
	}
	n, err := s.pruner.Prune(keep)
	if err != nil {
		s.metrics.backendError("prune")
		s.logger.Warn("Failed to remove orphaned cache blobs", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("Removed orphaned cache files", "count", n)
	}
	if err := s.saveIndex(); err != nil {
		s.logger.Warn("Failed to save cache index", "err", err)
	}
}

// Put stores data under id, replacing any previous entry, then evicts least
// recently used entries until the total fits the budget.
func (s *Store) Put(id string, data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return samplerr.ErrStoreClosed
	}
	if id == "" {
		return samplerr.ErrEmptyID
	}

	size := uint64(len(data))
	if size > s.cfg.MaxSize {
		return fmt.Errorf("%w: %s exceeds budget of %s",
			samplerr.ErrItemTooLarge, humanize.IBytes(size), humanize.IBytes(s.cfg.MaxSize))
	}

	if err := s.backend.Write(id, data); err != nil {
		s.metrics.backendError("write")
		return samplerr.Unavailable(err, component, "write").WithContext("id", id)
	}

	now := s.now()
	var replaced uint64
	if elem, ok := s.items[id]; ok {
		entry := elem.Value.(*Entry)
		replaced = entry.SizeBytes
		s.size -= replaced

		entry.SizeBytes = size
		entry.CreatedAt = now
		entry.LastAccessedAt = now
		entry.MIMEType = mimeType
		s.lru.MoveToFront(elem)
	} else {
		s.items[id] = s.lru.PushFront(&Entry{
			ID:             id,
			SizeBytes:      size,
			CreatedAt:      now,
			LastAccessedAt: now,
			MIMEType:       mimeType,
		})
	}
	s.size += size
	s.metrics.put(size)
	s.metrics.resized(int64(size) - int64(replaced))

	s.logger.Debug("Cache put", "id", id, "size", size, "mime", mimeType)

	if _, err := s.enforceSizeBudget(); err != nil {
		return err
	}
	return s.persist()
}

// Get returns the data stored under id and marks it most recently used.
// A missing id is a miss, (nil, false, nil); a backend failure is an
// ErrCacheUnavailable error, never a miss.
func (s *Store) Get(id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, samplerr.ErrStoreClosed
	}

	elem, ok := s.items[id]
	if !ok {
		s.stats.misses++
		s.metrics.lookup(false)
		return nil, false, nil
	}

	data, err := s.backend.Read(id)
	if errors.Is(err, ErrBlobNotFound) {
		// The blob vanished underneath us; forget the entry.
		s.logger.Warn("Cache blob missing", "id", id)
		s.unlink(elem)
		s.stats.misses++
		s.metrics.lookup(false)
		return nil, false, nil
	}
	if err != nil {
		s.metrics.backendError("read")
		return nil, false, samplerr.Unavailable(err, component, "read").WithContext("id", id)
	}

	entry := elem.Value.(*Entry)
	entry.LastAccessedAt = s.now()
	s.lru.MoveToFront(elem)

	s.stats.hits++
	s.metrics.lookup(true)
	s.logger.Debug("Cache hit", "id", id, "size", entry.SizeBytes)

	return data, true, nil
}

// Evict removes id. It reports whether an entry was removed.
func (s *Store) Evict(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, samplerr.ErrStoreClosed
	}

	elem, ok := s.items[id]
	if !ok {
		return false, nil
	}
	if err := s.remove(elem, reasonRemoved); err != nil {
		return false, err
	}
	return true, s.persist()
}

// CleanupExpired removes every entry created more than MaxAge ago and returns
// how many were removed. Running it twice in a row removes nothing the second
// time.
func (s *Store) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, samplerr.ErrStoreClosed
	}

	now := s.now()
	s.stats.lastCleanup = now

	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*Entry)
		if now.Sub(entry.CreatedAt) > s.cfg.MaxAge {
			if err := s.remove(elem, reasonExpired); err != nil {
				return removed, err
			}
			s.stats.expired++
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		s.logger.Info("Removed expired cache entries", "count", removed)
		return removed, s.persist()
	}
	return 0, nil
}

// EnforceSizeBudget evicts least recently used entries until the total size
// is within the budget and returns how many were evicted.
func (s *Store) EnforceSizeBudget() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, samplerr.ErrStoreClosed
	}
	evicted, err := s.enforceSizeBudget()
	if err != nil || evicted == 0 {
		return evicted, err
	}
	return evicted, s.persist()
}

func (s *Store) enforceSizeBudget() (int, error) {
	evicted := 0
	for s.size > s.cfg.MaxSize && s.lru.Len() > 0 {
		victim := s.victim()
		id := victim.Value.(*Entry).ID
		if err := s.remove(victim, reasonBudget); err != nil {
			return evicted, err
		}
		s.stats.evictions++
		evicted++
		s.logger.Debug("Cache evict", "id", id)
	}
	return evicted, nil
}

// Clear removes every entry. The store remains usable and keeps its
// lifetime counters.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return samplerr.ErrStoreClosed
	}

	if err := s.backend.RemoveAll(); err != nil {
		s.metrics.backendError("clear")
		return samplerr.Unavailable(err, component, "clear")
	}

	s.metrics.resized(-int64(s.size))
	s.items = make(map[string]*list.Element)
	s.lru.Init()
	s.size = 0

	if err := s.backend.SaveIndex(nil); err != nil {
		s.metrics.backendError("save index")
		return samplerr.Unavailable(err, component, "save index")
	}

	s.logger.Info("Cache cleared")
	return nil
}

// Stats returns a snapshot of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalSize:   s.size,
		EntryCount:  len(s.items),
		Budget:      s.cfg.MaxSize,
		Hits:        s.stats.hits,
		Misses:      s.stats.misses,
		Evictions:   s.stats.evictions,
		Expired:     s.stats.expired,
		LastCleanup: s.stats.lastCleanup,
	}
	if s.cfg.MaxSize > 0 {
		st.UtilizationPercent = float64(s.size) / float64(s.cfg.MaxSize) * 100
	}
	return st
}

// Metadata returns the entry for id without touching its recency.
func (s *Store) Metadata(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[id]
	if !ok {
		return Entry{}, false
	}
	return *elem.Value.(*Entry), true
}

// Contains reports whether id is cached without touching its recency.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[id]
	return ok
}

// List returns all entries, least recently used first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot()
}

// Initialize runs one cleanup pass: expired entries first, then the budget.
func (s *Store) Initialize() error {
	if _, err := s.CleanupExpired(); err != nil {
		return err
	}
	_, err := s.EnforceSizeBudget()
	return err
}

// Flush persists the metadata index. It is a no-op for memory backends.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return samplerr.ErrStoreClosed
	}
	return s.saveIndex()
}

// Close stops the janitor, persists the index and closes the backend.
// Further operations fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.stopJanitor()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return errors.Join(s.saveIndex(), s.backend.Close())
}

// StartJanitor runs Initialize and Flush every interval until Close. It does
// nothing if interval is not positive or a janitor is already running.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.janitorStop != nil {
		return
	}

	stop := make(chan struct{})
	s.janitorStop = stop
	ticker := time.NewTicker(interval)

	s.janitorWg.Add(1)
	go func() {
		defer s.janitorWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runJanitor()
			case <-stop:
				return
			}
		}
	}()
}

func (s *Store) stopJanitor() {
	s.mu.Lock()
	stop := s.janitorStop
	s.janitorStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.janitorWg.Wait()
	}
}

func (s *Store) runJanitor() {
	if err := s.Initialize(); err != nil {
		s.logger.Warn("Cache cleanup failed", "err", err)
		return
	}
	if err := s.Flush(); err != nil {
		s.logger.Warn("Failed to save cache index", "err", err)
	}
}

// remove deletes the blob and then the entry. The entry is kept when the
// backend fails so accounting still matches storage.
func (s *Store) remove(elem *list.Element, reason metric.AddOption) error {
	entry := elem.Value.(*Entry)
	if err := s.backend.Remove(entry.ID); err != nil {
		s.metrics.backendError("remove")
		return samplerr.Unavailable(err, component, "remove").WithContext("id", entry.ID)
	}
	s.unlink(elem)
	s.metrics.removed(reason)
	return nil
}

// victim returns the least recently used entry. Among entries last used at
// the same instant, the oldest created one goes first.
func (s *Store) victim() *list.Element {
	best := s.lru.Back()
	if best == nil {
		return nil
	}
	last := best.Value.(*Entry).LastAccessedAt

	for elem := best.Prev(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*Entry)
		if !entry.LastAccessedAt.Equal(last) {
			break
		}
		if entry.CreatedAt.Before(best.Value.(*Entry).CreatedAt) {
			best = elem
		}
	}
	return best
}

// persist saves the index after a mutation when blobs outlive the process,
// so a crash loses at most the mutation in flight.
func (s *Store) persist() error {
	if s.pruner == nil {
		return nil
	}
	return s.saveIndex()
}

// unlink drops an entry from the bookkeeping only.
func (s *Store) unlink(elem *list.Element) {
	entry := elem.Value.(*Entry)
	s.lru.Remove(elem)
	delete(s.items, entry.ID)
	s.size -= entry.SizeBytes
	s.metrics.resized(-int64(entry.SizeBytes))
}

func (s *Store) snapshot() []Entry {
	entries := make([]Entry, 0, s.lru.Len())
	for elem := s.lru.Back(); elem != nil; elem = elem.Prev() {
		entries = append(entries, *elem.Value.(*Entry))
	}
	return entries
}

func (s *Store) saveIndex() error {
	if err := s.backend.SaveIndex(s.snapshot()); err != nil {
		s.metrics.backendError("save index")
		return samplerr.Unavailable(err, component, "save index")
	}
	return nil
}
