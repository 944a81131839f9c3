package memory

import (
	"context"
	"fmt"
	"sync"
)

// RawArchive keeps delivered payloads in process memory for development and
// tests. Paths mirror the GCS object layout.
type RawArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewRawArchive constructs a RawArchive.
func NewRawArchive() *RawArchive {
	return &RawArchive{objects: make(map[string][]byte)}
}

// Put stores the payload and returns a mem:// URI.
func (a *RawArchive) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	a.objects[path] = cp
	return "mem://" + path, nil
}

// Get returns a stored payload.
func (a *RawArchive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	return data, ok
}

// Len returns the number of archived payloads.
func (a *RawArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
