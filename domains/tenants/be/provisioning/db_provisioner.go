package provisioning

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Migrator applies and inspects the tenant schema at a connection string.
type Migrator interface {
	Migrate(ctx context.Context, dsn string) error
	Version(ctx context.Context, dsn string) (int64, error)
}

// GooseMigrator runs the embedded tenant migrations.
type GooseMigrator struct{}

func (GooseMigrator) Migrate(ctx context.Context, dsn string) error {
	return persistence.Migrate(ctx, dsn, persistence.TenantMigrations)
}

func (GooseMigrator) Version(ctx context.Context, dsn string) (int64, error) {
	return persistence.MigrationVersion(ctx, dsn)
}

// DBProvisioner creates one physical database per tenant on the landlord's server and
// brings its schema up to date.
type DBProvisioner struct {
	admin    persistence.Querier
	migrator Migrator
	logger   *zap.Logger
}

// NewDBProvisioner builds a provisioner. admin must be connected to the landlord
// server with CREATEDB rights.
func NewDBProvisioner(admin persistence.Querier, migrator Migrator, logger *zap.Logger) *DBProvisioner {
	if admin == nil {
		panic("db provisioner requires an admin connection")
	}
	if migrator == nil {
		migrator = GooseMigrator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBProvisioner{admin: admin, migrator: migrator, logger: logger}
}

// Ensure creates the database when missing and applies pending migrations.
func (p *DBProvisioner) Ensure(ctx context.Context, req service.DBProvisionRequest) (service.DBProvisionResult, error) {
	if err := validate(req); err != nil {
		return service.DBProvisionResult{}, err
	}

	exists, err := p.exists(ctx, req.DatabaseName)
	if err != nil {
		return service.DBProvisionResult{}, err
	}

	created := false
	if !exists {
		// CREATE DATABASE cannot run inside a transaction block.
		if _, err := p.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{req.DatabaseName}.Sanitize()); err != nil {
			return service.DBProvisionResult{}, fmt.Errorf("create database %s: %w", req.DatabaseName, err)
		}
		created = true
		p.logger.Info("tenant database created", zap.String("database", req.DatabaseName))
	}

	if err := p.migrator.Migrate(ctx, req.URI); err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("migrate %s: %w", req.DatabaseName, err)
	}
	version, err := p.migrator.Version(ctx, req.URI)
	if err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("read %s version: %w", req.DatabaseName, err)
	}

	return service.DBProvisionResult{Ready: true, Created: created, SchemaVersion: version}, nil
}

// Check reports whether the database exists and has a schema.
func (p *DBProvisioner) Check(ctx context.Context, req service.DBProvisionRequest) (service.DBProvisionResult, error) {
	if err := validate(req); err != nil {
		return service.DBProvisionResult{}, err
	}

	exists, err := p.exists(ctx, req.DatabaseName)
	if err != nil || !exists {
		return service.DBProvisionResult{Ready: false}, err
	}

	version, err := p.migrator.Version(ctx, req.URI)
	if err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("read %s version: %w", req.DatabaseName, err)
	}
	return service.DBProvisionResult{Ready: version > 0, SchemaVersion: version}, nil
}

func (p *DBProvisioner) exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := p.admin.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return exists, nil
}

func validate(req service.DBProvisionRequest) error {
	if strings.TrimSpace(req.DatabaseName) == "" || strings.TrimSpace(req.URI) == "" {
		return fmt.Errorf("database name and uri required")
	}
	return nil
}

var _ service.DBProvisioner = (*DBProvisioner)(nil)
