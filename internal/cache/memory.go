package cache

// MemoryBackend keeps blobs in a map. It is the default backend and does not
// persist anything across processes.
type MemoryBackend struct {
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(id string) ([]byte, error) {
	data, ok := m.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) Write(id string, data []byte) error {
	// Copy so the caller may reuse its slice.
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[id] = stored
	return nil
}

func (m *MemoryBackend) Remove(id string) error {
	delete(m.blobs, id)
	return nil
}

func (m *MemoryBackend) RemoveAll() error {
	m.blobs = make(map[string][]byte)
	return nil
}

// LoadIndex returns nothing; a memory backend starts empty.
func (m *MemoryBackend) LoadIndex() ([]Entry, error) { return nil, nil }

// SaveIndex is a no-op.
func (m *MemoryBackend) SaveIndex([]Entry) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
