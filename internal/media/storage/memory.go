package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory keeps objects in process. It backs tests and single-binary dev.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
	baseURL string
}

func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "http://localhost:3003/media"
	}
	return &Memory{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: baseURL,
	}
}

func (m *Memory) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("object %s: expected %d bytes, read %d", key, size, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

func (m *Memory) URL(key string) string { return joinURL(m.baseURL, key) }

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Object returns a stored object and its content type.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, m.types[key], ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
