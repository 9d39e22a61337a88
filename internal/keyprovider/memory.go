package keyprovider

import (
	"sync"

	"github.com/illarion/lockersim/internal/crypto"
)

// MemoryStore keeps keys in process memory. Intended for tests.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string][]byte

	// Err, when set, is returned by every operation.
	Err error
	// Generated counts GenerateAndStore calls.
	Generated int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Load(alias string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	key, ok := m.keys[alias]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), key...), nil
}

func (m *MemoryStore) GenerateAndStore(alias string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	key, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	m.keys[alias] = key
	m.Generated++
	return append([]byte(nil), key...), nil
}

func (m *MemoryStore) Delete(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.keys[alias]; !ok {
		return ErrNotFound
	}
	delete(m.keys, alias)
	return nil
}
