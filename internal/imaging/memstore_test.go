package imaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// memStore is an in-memory ObjectStore for tests. Listing order is
// lexicographic, matching the store's behavior.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	derived map[string][]byte

	failPuts   map[string]bool // by key
	failCopies map[string]bool // by destination key
	failLists  map[string]bool // by prefix
}

func newMemStore() *memStore {
	return &memStore{
		objects:    make(map[string][]byte),
		derived:    make(map[string][]byte),
		failPuts:   make(map[string]bool),
		failCopies: make(map[string]bool),
		failLists:  make(map[string]bool),
	}
}

func (m *memStore) seed(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(content)
}

func (m *memStore) seedDerived(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.derived[key] = []byte(content)
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) content(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.objects[key])
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts[key] {
		return fmt.Errorf("injected put failure for %s", key)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return bytes.Clone(data), nil
}

func (m *memStore) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCopies[dst] {
		return fmt.Errorf("injected copy failure for %s", dst)
	}
	data, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("no such key %s", src)
	}
	m.objects[dst] = bytes.Clone(data)
	return nil
}

func (m *memStore) CopyDerived(_ context.Context, derivedKey, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCopies[dst] {
		return fmt.Errorf("injected copy failure for %s", dst)
	}
	data, ok := m.derived[derivedKey]
	if !ok {
		return fmt.Errorf("no such derived key %s", derivedKey)
	}
	m.objects[dst] = bytes.Clone(data)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) DerivedExists(_ context.Context, derivedKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.derived[derivedKey]
	return ok, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLists[prefix] {
		return nil, fmt.Errorf("injected list failure for %s", prefix)
	}
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) ListDir(_ context.Context, prefix string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLists[prefix] {
		return nil, nil, fmt.Errorf("injected list failure for %s", prefix)
	}
	var keys []string
	folderSet := make(map[string]bool)
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			folderSet[rest[:idx]] = true
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	folders := make([]string, 0, len(folderSet))
	for folder := range folderSet {
		folders = append(folders, folder)
	}
	sort.Strings(folders)
	return keys, folders, nil
}

func (m *memStore) SignedURL(_ context.Context, key string) (string, error) {
	return "https://store.test/" + key + "?X-Amz-Expires=300", nil
}
