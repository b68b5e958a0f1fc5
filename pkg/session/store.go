package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists a session header and its entries in append order.
type Store interface {
	// Load returns the header (nil for an empty store) and all entries.
	Load(ctx context.Context) (*Header, []*Entry, error)
	// Append durably adds one entry after the existing ones.
	Append(ctx context.Context, entry *Entry) error
	// Rewrite atomically replaces the stored header and entries.
	Rewrite(ctx context.Context, header Header, entries []*Entry) error
	Close() error
}

// OpenStore picks a store by path: *.db and *.sqlite open SQLite, *.jsonl
// is used as the JSONL file, anything else is a session directory holding
// messages.jsonl. An empty path gives an in-memory store.
func OpenStore(ctx context.Context, path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return NewMemoryStore(), nil
		}
		return NewJSONLStore(filepath.Join(path, "messages.jsonl")), nil
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLiteStore(ctx, path)
	case ".jsonl":
		return NewJSONLStore(path), nil
	}
	return NewJSONLStore(filepath.Join(path, "messages.jsonl")), nil
}

// MemoryStore keeps entries in memory only.
type MemoryStore struct {
	mu      sync.Mutex
	header  *Header
	entries []*Entry
	// Appends and Rewrites count write calls, for tests.
	Appends  int
	Rewrites int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*Header, []*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		copyEntry := *entry
		entries = append(entries, &copyEntry)
	}
	if m.header == nil {
		return nil, entries, nil
	}
	header := *m.header
	return &header, entries, nil
}

func (m *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copyEntry := *entry
	m.entries = append(m.entries, &copyEntry)
	m.Appends++
	return nil
}

func (m *MemoryStore) Rewrite(ctx context.Context, header Header, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = &header
	m.entries = make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		copyEntry := *entry
		m.entries = append(m.entries, &copyEntry)
	}
	m.Rewrites++
	return nil
}

func (m *MemoryStore) Close() error { return nil }
