package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrBlobNotFound is returned by a Backend when no blob is stored under an id.
var ErrBlobNotFound = errors.New("blob not found")

// Entry is the metadata the store keeps for one cached buffer.
type Entry struct {
	ID             string
	SizeBytes      uint64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	MIMEType       string
}

// Config holds configuration for a Store.
type Config struct {
	// MaxSize is the byte budget for the sum of all entry sizes.
	MaxSize uint64 `yaml:"max_size" env:"SAMPLY_CACHE_MAX_SIZE"`

	// MaxAge is how long an entry may live after it was created.
	MaxAge time.Duration `yaml:"max_age" env:"SAMPLY_CACHE_MAX_AGE"`

	// CleanupInterval is how often the janitor runs; 0 disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"SAMPLY_CACHE_CLEANUP_INTERVAL"`

	// Dir is where the disk backend keeps its files. Empty means memory only.
	Dir string `yaml:"dir" env:"SAMPLY_CACHE_DIR"`

	// CompressionLevel is the zstd level (1-22) of the disk backend; 0 stores raw.
	CompressionLevel int `yaml:"compression_level" env:"SAMPLY_CACHE_COMPRESSION_LEVEL"`
}

// Default limits.
const (
	DefaultMaxSize         = 500 * 1024 * 1024
	DefaultMaxAge          = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          DefaultMaxSize,
		MaxAge:           DefaultMaxAge,
		CleanupInterval:  DefaultCleanupInterval,
		CompressionLevel: 3,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxSize == 0 {
		return errors.New("max_size must be positive")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max_age must be positive, got %s", c.MaxAge)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cleanup_interval must not be negative, got %s", c.CleanupInterval)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		return fmt.Errorf("compression_level must be between 0 and 22, got %d", c.CompressionLevel)
	}
	return nil
}

// Stats is a snapshot of the store's size and counters.
type Stats struct {
	TotalSize          uint64
	EntryCount         int
	Budget             uint64
	UtilizationPercent float64

	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64

	LastCleanup time.Time
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %s of %s (%.1f%%), %d hits, %d misses, %d evicted, %d expired",
		s.EntryCount,
		humanize.IBytes(s.TotalSize),
		humanize.IBytes(s.Budget),
		s.UtilizationPercent,
		s.Hits, s.Misses, s.Evictions, s.Expired)
}

// Backend stores opaque blobs by id. The Store owns all bookkeeping; a
// backend only moves bytes and, when it is persistent, the metadata index.
//
// Backends need not be safe for concurrent use; the Store serialises calls.
type Backend interface {
	// Read returns the blob stored under id, or ErrBlobNotFound.
	Read(id string) ([]byte, error)

	// Write stores data under id, replacing any previous blob.
	Write(id string, data []byte) error

	// Remove deletes the blob under id. Removing a missing blob is not an error.
	Remove(id string) error

	// RemoveAll deletes every blob.
	RemoveAll() error

	// LoadIndex returns the metadata persisted by SaveIndex, if any.
	LoadIndex() ([]Entry, error)

	// SaveIndex persists metadata so a later LoadIndex can restore it.
	SaveIndex(entries []Entry) error

	// Close releases backend resources.
	Close() error
}

// Pruner is implemented by backends whose blobs outlive the process. The
// Store saves its index after every mutation on such backends and, on
// startup, prunes blobs the restored index does not know about.
type Pruner interface {
	// Prune deletes every blob not stored under one of keep and reports how
	// many files were deleted.
	Prune(keep []string) (int, error)
}
