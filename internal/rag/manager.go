package rag

import (
	"context"
	"sync"

	"pdf-qa/internal/models"
)

// IndexManager owns the single resident index handle. Handles are never
// mutated, so readers keep using the one they got while Replace swaps in a
// newer build.
type IndexManager struct {
	mu    sync.RWMutex
	store models.IndexStore
	name  string
	want  models.EmbedderInfo
	index models.Index
}

// NewIndexManager only accepts indexes built in the embedding space want.
func NewIndexManager(store models.IndexStore, name string, want models.EmbedderInfo) *IndexManager {
	return &IndexManager{store: store, name: name, want: want}
}

// Current returns the resident handle, loading it from the store on first use.
// An index from another embedding space is refused and not kept.
func (m *IndexManager) Current(ctx context.Context) (models.Index, error) {
	m.mu.RLock()
	ix := m.index
	m.mu.RUnlock()
	if ix != nil {
		return ix, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != nil {
		return m.index, nil
	}
	ix, err := m.store.Load(ctx, m.name)
	if err != nil {
		return nil, err
	}
	if err := models.CheckCompatible(ix.Manifest(), m.want); err != nil {
		return nil, err
	}
	m.index = ix
	return ix, nil
}

func (m *IndexManager) Replace(ix models.Index) {
	m.mu.Lock()
	m.index = ix
	m.mu.Unlock()
}

func (m *IndexManager) Name() string { return m.name }
