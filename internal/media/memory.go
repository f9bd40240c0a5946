package media

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedBlob struct {
	blob Blob
	data []byte
}

// MemoryUploader keeps blobs in process memory.
type MemoryUploader struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{blobs: make(map[string]storedBlob)}
}

func (m *MemoryUploader) Upload(ctx context.Context, owner uuid.UUID, name, contentType string, r io.Reader) (*Blob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	blob := Blob{
		ID:          newBlobID(),
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		OwnerID:     owner,
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.blobs[blob.ID] = storedBlob{blob: blob, data: data}
	m.mu.Unlock()

	out := blob
	return &out, nil
}

func (m *MemoryUploader) Open(ctx context.Context, id string) (*Blob, io.ReadCloser, error) {
	m.mu.RLock()
	stored, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, NewBlobNotFoundError(id)
	}
	blob := stored.blob
	return &blob, io.NopCloser(bytes.NewReader(stored.data)), nil
}
