package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const indexFile = "cache.index"

// DiskBackend stores blobs as files under a directory, optionally zstd
// compressed. Writes go to a temp file and are renamed into place.
type DiskBackend struct {
	basePath string

	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder
}

// diskIndex is the on-disk form of the store metadata.
type diskIndex struct {
	Compressed bool
	Entries    []Entry
}

// NewDiskBackend creates a disk backend rooted at basePath. A compression
// level of 0 stores blobs uncompressed.
func NewDiskBackend(basePath string, compressionLevel int) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db := &DiskBackend{
		basePath:         basePath,
		compressionLevel: compressionLevel,
	}

	if compressionLevel > 0 {
		var err error
		db.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}

		db.decoder, err = zstd.NewReader(nil)
		if err != nil {
			_ = db.encoder.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	return db, nil
}

// Path returns the directory the backend writes to.
func (db *DiskBackend) Path() string {
	return db.basePath
}

func (db *DiskBackend) compressed() bool {
	return db.encoder != nil
}

func (db *DiskBackend) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(db.blobPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}

	if !db.compressed() {
		return data, nil
	}
	decoded, err := db.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt blob %q: %w", id, err)
	}
	return decoded, nil
}

func (db *DiskBackend) Write(id string, data []byte) error {
	if db.compressed() {
		data = db.encoder.EncodeAll(data, nil)
	}
	return writeFileAtomic(db.blobPath(id), data)
}

func (db *DiskBackend) Remove(id string) error {
	err := os.Remove(db.blobPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes every blob and the index, keeping the directory.
func (db *DiskBackend) RemoveAll() error {
	files, err := os.ReadDir(db.basePath)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if filepath.Ext(name) != ".blob" && name != indexFile {
			continue
		}
		if err := os.Remove(filepath.Join(db.basePath, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Prune deletes blob and leftover temp files that belong to none of keep.
// They come from a process that died before saving its index, or from an
// index discarded on load.
func (db *DiskBackend) Prune(keep []string) (int, error) {
	wanted := make(map[string]bool, len(keep))
	for _, id := range keep {
		wanted[filepath.Base(db.blobPath(id))] = true
	}

	files, err := os.ReadDir(db.basePath)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || wanted[name] {
			continue
		}
		if ext := filepath.Ext(name); ext != ".blob" && ext != ".tmp" {
			continue
		}
		if err := os.Remove(filepath.Join(db.basePath, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// LoadIndex reads the gob index written by SaveIndex. A missing index is not
// an error. An index written with a different compression setting is
// discarded since its blobs cannot be decoded.
func (db *DiskBackend) LoadIndex() ([]Entry, error) {
	file, err := os.Open(filepath.Join(db.basePath, indexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var idx diskIndex
	if err := gob.NewDecoder(file).Decode(&idx); err != nil {
		return nil, fmt.Errorf("corrupt cache index: %w", err)
	}
	if idx.Compressed != db.compressed() {
		return nil, nil
	}
	return idx.Entries, nil
}

func (db *DiskBackend) SaveIndex(entries []Entry) error {
	tempPath := filepath.Join(db.basePath, indexFile+".tmp")

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(diskIndex{
		Compressed: db.compressed(),
		Entries:    entries,
	})
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, filepath.Join(db.basePath, indexFile))
}

func (db *DiskBackend) Close() error {
	if db.encoder != nil {
		_ = db.encoder.Close()
		db.decoder.Close()
		db.encoder, db.decoder = nil, nil
	}
	return nil
}

// blobPath maps an id to a file name. Ids are hashed so any string is safe.
func (db *DiskBackend) blobPath(id string) string {
	hash := sha256.Sum256([]byte(id))
	return filepath.Join(db.basePath, hex.EncodeToString(hash[:16])+".blob")
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
