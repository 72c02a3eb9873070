package provisioning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

type fakeAdmin struct {
	exists bool
	err    error
	stmts  []string
}

func (f *fakeAdmin) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	f.exists = true
	return pgconn.CommandTag{}, nil
}

func (f *fakeAdmin) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdmin) QueryRow(context.Context, string, ...any) pgx.Row {
	return boolRow{value: f.exists, err: f.err}
}

type fakeMigrator struct {
	version  int64
	migrated []string
	err      error
}

func (m *fakeMigrator) Migrate(_ context.Context, dsn string) error {
	if m.err != nil {
		return m.err
	}
	m.migrated = append(m.migrated, dsn)
	m.version = 1
	return nil
}

func (m *fakeMigrator) Version(context.Context, string) (int64, error) { return m.version, nil }

var acmeID = uuid.MustParse("0f8e4d1c-2b3a-4c5d-8e6f-7a8b9c0d1e2f")

const acmeDB = "tenant_0f8e4d1c2b3a4c5d8e6f7a8b9c0d1e2f"

func request(id uuid.UUID) service.DBProvisionRequest {
	return service.DBProvisionRequest{
		TenantID:     id,
		DatabaseName: tenant.DatabaseName(id),
		URI:          "postgres://u:p@db:5432/" + tenant.DatabaseName(id),
	}
}

func TestEnsureCreatesQuotedDatabaseOnce(t *testing.T) {
	admin := &fakeAdmin{}
	migrator := &fakeMigrator{}
	p := NewDBProvisioner(admin, migrator, nil)
	ctx := context.Background()

	res, err := p.Ensure(ctx, request(acmeID))
	require.NoError(t, err)
	require.True(t, res.Ready)
	require.True(t, res.Created)
	require.EqualValues(t, 1, res.SchemaVersion)
	require.Equal(t, []string{`CREATE DATABASE "`+acmeDB+`"`}, admin.stmts)

	res, err = p.Ensure(ctx, request(acmeID))
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Len(t, admin.stmts, 1)
	require.Len(t, migrator.migrated, 2, "migrations run on every ensure")
}

func TestEnsureSurfacesFailures(t *testing.T) {
	_, err := NewDBProvisioner(&fakeAdmin{}, &fakeMigrator{}, nil).Ensure(context.Background(), service.DBProvisionRequest{})
	require.Error(t, err)

	_, err = NewDBProvisioner(&fakeAdmin{err: errors.New("conn refused")}, &fakeMigrator{}, nil).Ensure(context.Background(), request(acmeID))
	require.ErrorContains(t, err, "check database "+acmeDB)

	_, err = NewDBProvisioner(&fakeAdmin{}, &fakeMigrator{err: errors.New("bad sql")}, nil).Ensure(context.Background(), request(acmeID))
	require.ErrorContains(t, err, "migrate "+acmeDB)
}

func TestCheckReportsMissingDatabase(t *testing.T) {
	res, err := NewDBProvisioner(&fakeAdmin{}, &fakeMigrator{}, nil).Check(context.Background(), request(acmeID))
	require.NoError(t, err)
	require.False(t, res.Ready)
}

func TestDBProvisionerAgainstPostgres(t *testing.T) {
	landlordURI := pgtest.Start(t)
	ctx := context.Background()

	admin, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: landlordURI})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(admin) })

	id := uuid.New()
	uri, err := tenant.TenantURI(landlordURI, id)
	require.NoError(t, err)
	require.True(t, strings.Contains(uri, "/"+tenant.DatabaseName(id)+"?"))

	req := service.DBProvisionRequest{TenantID: id, DatabaseName: tenant.DatabaseName(id), URI: uri}
	p := NewDBProvisioner(admin, GooseMigrator{}, nil)

	before, err := p.Check(ctx, req)
	require.NoError(t, err)
	require.False(t, before.Ready)

	res, err := p.Ensure(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Positive(t, res.SchemaVersion)

	again, err := p.Ensure(ctx, req)
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Equal(t, res.SchemaVersion, again.SchemaVersion)

	after, err := p.Check(ctx, req)
	require.NoError(t, err)
	require.True(t, after.Ready)

	// The tenant database carries the account tables.
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: uri})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })
	_, err = persistence.NewUserStore(pool).CreateUser(ctx, persistence.CreateUserParams{Email: "ada@example.com", Hash: "h"})
	require.NoError(t, err)
}
