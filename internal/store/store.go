// Package store persists per-device update records across restarts.
package store

import (
	"context"
	"sync"

	"github.com/autopeer-io/otabridge/internal/ota"
)

var _ ota.StateStore = (*Memory)(nil)

// Memory keeps records in process memory. It is used when no redis server is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]ota.Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]ota.Record)}
}

func (m *Memory) Load(_ context.Context) (map[string]ota.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ota.Record, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, deviceID string, record ota.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[deviceID] = record
	return nil
}

func (m *Memory) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, deviceID)
	return nil
}

func (m *Memory) Close() error { return nil }
