// Package memory keeps persisted entries in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/creator-suite/internal/storage"
)

// Persister stores entries in a map.
type Persister struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int64
}

// New creates an empty Persister. A positive maxBytes caps each entry.
func New(maxBytes int64) *Persister {
	return &Persister{data: make(map[string][]byte), maxBytes: maxBytes}
}

// Put stores a copy of data under key.
func (p *Persister) Put(_ context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := storage.CheckQuota(key, len(data), p.maxBytes); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the entry under key.
func (p *Persister) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes key.
func (p *Persister) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}
