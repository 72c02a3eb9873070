package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local tooling.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]service.Tenant
	byDomain map[string]uuid.UUID
	sealed   map[uuid.UUID]string
	now      func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[uuid.UUID]service.Tenant),
		byDomain: make(map[string]uuid.UUID),
		sealed:   make(map[uuid.UUID]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) List(ctx context.Context) ([]service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Domain < items[j].Domain })
	return items, nil
}

func (r *MemoryRepository) Create(ctx context.Context, in service.NewTenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byDomain[in.Domain]; exists {
		return service.Tenant{}, service.ErrConflictDomain
	}

	now := r.now()
	t := service.Tenant{ID: in.ID, Name: in.Name, Domain: in.Domain, CreatedAt: now, UpdatedAt: now}
	r.byID[t.ID] = t
	r.byDomain[t.Domain] = t.ID
	r.sealed[t.ID] = in.SealedURI
	return t, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, input service.UpdateInput) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}

	if input.Domain != nil && *input.Domain != t.Domain {
		if owner, exists := r.byDomain[*input.Domain]; exists && owner != id {
			return service.Tenant{}, service.ErrConflictDomain
		}
		delete(r.byDomain, t.Domain)
		t.Domain = *input.Domain
		r.byDomain[t.Domain] = id
	}
	if input.Name != nil {
		t.Name = *input.Name
	}
	t.UpdatedAt = r.now()

	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byDomain, t.Domain)
	delete(r.sealed, id)
	return t, nil
}

func (r *MemoryRepository) DomainTaken(ctx context.Context, domain string, exclude uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.byDomain[domain]
	return ok && owner != exclude, nil
}

// SealedURI returns the stored connection string of a tenant.
func (r *MemoryRepository) SealedURI(id uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uri, ok := r.sealed[id]
	return uri, ok
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
