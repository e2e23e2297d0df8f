package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// InMemoryRegistry is a map-backed Registry. Records can be changed at run
// time, which is how revocation between signing and submission is observed.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	creds map[string]PreparerCredential
}

func NewInMemoryRegistry(creds ...PreparerCredential) *InMemoryRegistry {
	r := &InMemoryRegistry{creds: make(map[string]PreparerCredential, len(creds))}
	for _, c := range creds {
		r.creds[normalizeID(c.ID)] = c
	}
	return r
}

// LoadRegistryFile seeds a registry from a JSON array of credentials.
func LoadRegistryFile(path string) (*InMemoryRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var creds []PreparerCredential
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials file %s: %w", path, err)
	}
	for i, c := range creds {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("credentials file %s: entry %d has no id", path, i)
		}
		if c.Status == "" {
			creds[i].Status = StatusActive
		}
	}
	return NewInMemoryRegistry(creds...), nil
}

func (r *InMemoryRegistry) Lookup(ctx context.Context, id string) (PreparerCredential, error) {
	if err := ctx.Err(); err != nil {
		return PreparerCredential{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[normalizeID(id)]
	if !ok {
		return PreparerCredential{}, &Error{ID: id, Err: ErrCredentialNotFound}
	}
	return c, nil
}

// Put inserts or replaces a credential.
func (r *InMemoryRegistry) Put(c PreparerCredential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[normalizeID(c.ID)] = c
}

// SetStatus changes the status of an existing credential.
func (r *InMemoryRegistry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeID(id)
	c, ok := r.creds[key]
	if !ok {
		return &Error{ID: id, Err: ErrCredentialNotFound}
	}
	c.Status = status
	r.creds[key] = c
	return nil
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
