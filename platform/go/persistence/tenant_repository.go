package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tenantColumns = `id, name, domain, db_uri, created_at, updated_at`

// TenantRecord is a landlord-owned tenant row. DBURI holds the sealed connection string.
type TenantRecord struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Domain    string    `db:"domain"`
	DBURI     string    `db:"db_uri"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CreateTenantParams holds the values for a new tenant row.
type CreateTenantParams struct {
	ID     uuid.UUID
	Name   string
	Domain string
	DBURI  string
}

// UpdateTenantParams lists the mutable tenant fields; nil leaves a field unchanged.
type UpdateTenantParams struct {
	Name   *string
	Domain *string
	DBURI  *string
}

// TenantStore provides access to the landlord tenants table.
type TenantStore struct {
	db Querier
}

// NewTenantStore creates a store; assumes migrations already created the table.
func NewTenantStore(db Querier) *TenantStore {
	if db == nil {
		panic("tenant store requires a database handle")
	}
	return &TenantStore{db: db}
}

// Create inserts a tenant. A duplicate domain yields ErrConflict.
func (s *TenantStore) Create(ctx context.Context, params CreateTenantParams) (TenantRecord, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	if strings.TrimSpace(params.Domain) == "" {
		return TenantRecord{}, errors.New("tenant domain is required")
	}

	row := s.db.QueryRow(ctx, `
        INSERT INTO tenants (id, name, domain, db_uri)
        VALUES ($1, $2, $3, $4)
        RETURNING `+tenantColumns,
		params.ID, params.Name, params.Domain, params.DBURI,
	)
	return scanTenantRecord(row)
}

// Update changes the provided fields and bumps updated_at.
func (s *TenantStore) Update(ctx context.Context, id uuid.UUID, params UpdateTenantParams) (TenantRecord, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE tenants SET
            name = COALESCE($2, name),
            domain = COALESCE($3, domain),
            db_uri = COALESCE($4, db_uri),
            updated_at = now()
        WHERE id = $1
        RETURNING `+tenantColumns,
		id, params.Name, params.Domain, params.DBURI,
	)
	return scanTenantRecord(row)
}

// Delete removes the tenant row. The tenant database itself is left in place.
func (s *TenantStore) Delete(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	row := s.db.QueryRow(ctx, `DELETE FROM tenants WHERE id = $1 RETURNING `+tenantColumns, id)
	return scanTenantRecord(row)
}

// GetByID returns one tenant.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenantRecord(row)
}

// GetByDomain returns the tenant whose domain slug equals domain.
func (s *TenantStore) GetByDomain(ctx context.Context, domain string) (TenantRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE domain = $1`, domain)
	return scanTenantRecord(row)
}

// DomainTaken reports whether another tenant than exclude already uses domain.
func (s *TenantStore) DomainTaken(ctx context.Context, domain string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE domain = $1 AND id <> $2)`, domain, exclude,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check tenant domain: %w", err)
	}
	return taken, nil
}

// List returns every tenant ordered by domain.
func (s *TenantStore) List(ctx context.Context) ([]TenantRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[TenantRecord])
	if err != nil {
		return nil, fmt.Errorf("scan tenants: %w", err)
	}
	return records, nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Domain, &rec.DBURI, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return TenantRecord{}, mapRowErr(err)
	}
	return rec, nil
}
