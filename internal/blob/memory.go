package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// MemoryStore keeps blobs in process memory. It backs development setups
// without a bucket, and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	info Info
	data []byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// Put stores data under id, replacing any previous blob.
func (m *MemoryStore) Put(id, filename, contentType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[id] = memoryBlob{
		info: Info{ID: id, Filename: filename, ContentType: contentType, Size: int64(len(data))},
		data: append([]byte(nil), data...),
	}
}

// Open implements Store.
func (m *MemoryStore) Open(ctx context.Context, id string) (io.ReadCloser, *Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.RLock()
	b, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, mailerr.NotFound("attachment %s not found", id)
	}

	info := b.info
	return io.NopCloser(bytes.NewReader(b.data)), &info, nil
}
