package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// PostgresRepository implements the tenant repository on the landlord tenants table.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Tenant, error) {
	rows, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		tenants = append(tenants, toServiceTenant(rec))
	}
	return tenants, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t service.NewTenant) (service.Tenant, error) {
	out, err := r.store.Create(ctx, persistence.CreateTenantParams{
		ID:     t.ID,
		Name:   t.Name,
		Domain: t.Domain,
		DBURI:  t.SealedURI,
	})
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toServiceTenant(out), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) Update(ctx context.Context, id uuid.UUID, input service.UpdateInput) (service.Tenant, error) {
	rec, err := r.store.Update(ctx, id, persistence.UpdateTenantParams{
		Name:   input.Name,
		Domain: input.Domain,
	})
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Delete(ctx, id)
	if err != nil {
		return service.Tenant{}, mapErr(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) DomainTaken(ctx context.Context, domain string, exclude uuid.UUID) (bool, error) {
	return r.store.DomainTaken(ctx, domain, exclude)
}

func toServiceTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		ID:        rec.ID,
		Name:      rec.Name,
		Domain:    rec.Domain,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return service.ErrConflictDomain
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
