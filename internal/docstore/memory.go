package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store used when no database is configured, and by
// tests. Documents survive only for the process lifetime.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Document)}
}

// Get retrieves a document. Returns ErrNotFound if it does not exist.
func (m *Memory) Get(_ context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][Key(key)]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make(Document, len(doc))
	for name, raw := range doc {
		copied[name] = raw
	}
	return copied, nil
}

// Set writes fields to a document, merging or replacing per the flag.
func (m *Memory) Set(_ context.Context, collection, key string, fields map[string]any, merge bool) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}

	id := Key(key)
	existing, ok := docs[id]
	if !ok || !merge {
		existing = make(Document, len(encoded))
		docs[id] = existing
	}
	for name, raw := range encoded {
		existing[name] = raw
	}
	return nil
}

// Count returns the number of documents in a collection.
func (m *Memory) Count(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}
