package credential

import (
	"context"
	"sync"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// MemoryStore keeps credentials in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates a store seeded with the given credentials
func NewMemoryStore(seed map[string]Credential) *MemoryStore {
	creds := make(map[string]Credential, len(seed))
	for k, v := range seed {
		creds[k] = v
	}
	return &MemoryStore{creds: creds}
}

// Load implements Store
func (m *MemoryStore) Load(ctx context.Context, account string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.creds[account]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &cred, nil
}

// Save implements Store
func (m *MemoryStore) Save(ctx context.Context, account string, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[account] = cred
	return nil
}

// Seed stores cred only when account has no entry. It reports whether it was stored.
func (m *MemoryStore) Seed(ctx context.Context, account string, cred Credential) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[account]; ok {
		return false, nil
	}
	m.creds[account] = cred
	return true, nil
}
