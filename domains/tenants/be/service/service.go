package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/requesttrace"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound       = fmt.Errorf("tenant %w", problem.ErrNotFound)
	ErrConflictDomain = fmt.Errorf("tenant domain already exists: %w", problem.ErrConflict)
)

// Tenant is the registry view of a tenant. The connection string never leaves the
// landlord database.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Domain    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput represents the request to create a tenant. Domain defaults to the
// slug of Name.
type CreateInput struct {
	Name   string
	Domain *string
}

// UpdateInput represents mutable fields for a tenant.
type UpdateInput struct {
	Name   *string
	Domain *string
}

// NewTenant is a validated tenant ready to be stored.
type NewTenant struct {
	ID        uuid.UUID
	Name      string
	Domain    string
	SealedURI string
}

// Repository abstracts persistence.
type Repository interface {
	List(ctx context.Context) ([]Tenant, error)
	Create(ctx context.Context, t NewTenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Tenant, error)
	Delete(ctx context.Context, id uuid.UUID) (Tenant, error)
	DomainTaken(ctx context.Context, domain string, exclude uuid.UUID) (bool, error)
}

// Sealer protects tenant connection strings at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// Invalidator drops cached tenancy state for a tenant.
type Invalidator interface {
	Invalidate(id uuid.UUID, domain string)
}

// Config lists the service dependencies.
type Config struct {
	LandlordURI string
	Repo        Repository
	Provisioner DBProvisioner
	Sealer      Sealer
	Invalidator Invalidator
	Logger      *zap.Logger
}

// Service provides tenant registry operations.
type Service struct {
	landlordURI string
	repo        Repository
	provisioner DBProvisioner
	sealer      Sealer
	invalidator Invalidator
	logger      *zap.Logger
}

// New constructs a Service with required dependencies.
func New(cfg Config) *Service {
	if cfg.Repo == nil {
		panic("tenants repo is required")
	}
	if cfg.Provisioner == nil {
		panic("tenants provisioner is required")
	}
	if cfg.Sealer == nil {
		panic("tenants sealer is required")
	}
	if strings.TrimSpace(cfg.LandlordURI) == "" {
		panic("landlord uri is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		landlordURI: cfg.LandlordURI,
		repo:        cfg.Repo,
		provisioner: cfg.Provisioner,
		sealer:      cfg.Sealer,
		invalidator: cfg.Invalidator,
		logger:      cfg.Logger,
	}
}

// List returns every tenant.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.repo.List(ctx)
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// Create validates the tenant, provisions its database and registers it.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	name := strings.TrimSpace(input.Name)
	if err := tenant.ValidateName(name); err != nil {
		return Tenant{}, err
	}

	domainInput := name
	if input.Domain != nil {
		domainInput = *input.Domain
	}
	domain, err := tenant.DomainSlug(domainInput)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.ensureDomainFree(ctx, domain, uuid.Nil); err != nil {
		return Tenant{}, err
	}

	id := uuid.New()
	uri, err := tenant.TenantURI(s.landlordURI, id)
	if err != nil {
		return Tenant{}, fmt.Errorf("derive tenant uri: %w", err)
	}

	if _, err := s.provisioner.Ensure(ctx, DBProvisionRequest{
		TenantID:     id,
		DatabaseName: tenant.DatabaseName(id),
		URI:          uri,
	}); err != nil {
		return Tenant{}, fmt.Errorf("provision tenant database: %w", err)
	}

	sealed, err := s.sealer.Seal(uri)
	if err != nil {
		return Tenant{}, fmt.Errorf("seal tenant uri: %w", err)
	}

	created, err := s.repo.Create(ctx, NewTenant{ID: id, Name: name, Domain: domain, SealedURI: sealed})
	if errors.Is(err, problem.ErrConflict) {
		return Tenant{}, domainConflict()
	}
	if err != nil {
		return Tenant{}, err
	}

	s.logger.Info("tenant created", append(actor(ctx),
		zap.String("tenant_id", created.ID.String()),
		zap.String("tenant_domain", created.Domain),
	)...)
	return created, nil
}

// Update modifies mutable fields of a tenant. Cached tenancies are dropped so the next
// request sees the new domain.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Tenant, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}

	var next UpdateInput
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := tenant.ValidateName(name); err != nil {
			return Tenant{}, err
		}
		next.Name = &name
	}
	if input.Domain != nil {
		domain, err := tenant.DomainSlug(*input.Domain)
		if err != nil {
			return Tenant{}, err
		}
		if err := s.ensureDomainFree(ctx, domain, id); err != nil {
			return Tenant{}, err
		}
		next.Domain = &domain
	}

	updated, err := s.repo.Update(ctx, id, next)
	if errors.Is(err, problem.ErrConflict) {
		return Tenant{}, domainConflict()
	}
	if err != nil {
		return Tenant{}, err
	}

	s.invalidate(current)
	s.invalidate(updated)
	s.logger.Info("tenant updated", append(actor(ctx), zap.String("tenant_id", id.String()))...)
	return updated, nil
}

// Delete unregisters a tenant. The tenant database is kept.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.invalidate(deleted)
	s.logger.Info("tenant deleted", append(actor(ctx),
		zap.String("tenant_id", id.String()),
		zap.String("tenant_domain", deleted.Domain),
	)...)
	return nil
}

func (s *Service) ensureDomainFree(ctx context.Context, domain string, exclude uuid.UUID) error {
	taken, err := s.repo.DomainTaken(ctx, domain, exclude)
	if err != nil {
		return err
	}
	if taken {
		return domainConflict()
	}
	return nil
}

// domainConflict is reported as a field error so clients can show it next to the input.
func domainConflict() error {
	return &problem.ValidationError{
		Message: ErrConflictDomain.Error(),
		Fields:  problem.FieldErrors{"domain": {"domain is already in use"}},
		Err:     ErrConflictDomain,
	}
}

func (s *Service) invalidate(t Tenant) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(t.ID, t.Domain)
	}
}

// actor describes who changed the registry, for the audit log.
func actor(ctx context.Context) []zap.Field {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
	if audit.UserID != nil {
		fields = append(fields, zap.String("actor_id", audit.UserID.String()))
	}
	if audit.RequestID != "" {
		fields = append(fields, zap.String("request_id", audit.RequestID))
	}
	return fields
}
