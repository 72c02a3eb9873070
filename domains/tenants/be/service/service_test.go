package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/repo"
	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/requesttrace"
)

type stubProvisioner struct {
	mu       sync.Mutex
	requests []service.DBProvisionRequest
	err      error
}

func (p *stubProvisioner) Ensure(_ context.Context, req service.DBProvisionRequest) (service.DBProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return service.DBProvisionResult{}, p.err
	}
	p.requests = append(p.requests, req)
	return service.DBProvisionResult{Ready: true, Created: true, SchemaVersion: 1}, nil
}

func (p *stubProvisioner) Check(context.Context, service.DBProvisionRequest) (service.DBProvisionResult, error) {
	return service.DBProvisionResult{Ready: true, SchemaVersion: 1}, nil
}

type prefixSealer struct{}

func (prefixSealer) Seal(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

type recordingInvalidator struct {
	domains []string
}

func (r *recordingInvalidator) Invalidate(_ uuid.UUID, domain string) {
	r.domains = append(r.domains, domain)
}

type fixture struct {
	svc         *service.Service
	repo        *repo.MemoryRepository
	provisioner *stubProvisioner
	invalidated *recordingInvalidator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		repo:        repo.NewMemoryRepository(),
		provisioner: &stubProvisioner{},
		invalidated: &recordingInvalidator{},
	}
	f.svc = service.New(service.Config{
		LandlordURI: "postgres://app:pw@db:5432/landlord?sslmode=disable",
		Repo:        f.repo,
		Provisioner: f.provisioner,
		Sealer:      prefixSealer{},
		Invalidator: f.invalidated,
	})
	return f
}

func TestCreateProvisionsAndSealsTenantDatabase(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), service.CreateInput{Name: "Acme_Co"})
	require.NoError(t, err)
	require.Equal(t, "acme-co", created.Domain)
	require.Equal(t, "Acme_Co", created.Name)

	require.Len(t, f.provisioner.requests, 1)
	req := f.provisioner.requests[0]
	require.Equal(t, created.ID, req.TenantID)
	require.Equal(t, "tenant_"+strings.ReplaceAll(created.ID.String(), "-", ""), req.DatabaseName)
	require.Equal(t, "postgres://app:pw@db:5432/"+req.DatabaseName+"?sslmode=disable", req.URI)

	sealed, ok := f.repo.SealedURI(created.ID)
	require.True(t, ok)
	require.Equal(t, "sealed:"+req.URI, sealed)
}

func TestCreateWithExplicitDomain(t *testing.T) {
	f := newFixture(t)
	domain := "Globex"

	created, err := f.svc.Create(context.Background(), service.CreateInput{Name: "globex-corp", Domain: &domain})
	require.NoError(t, err)
	require.Equal(t, "globex", created.Domain)
}

func TestCreateNeverSharesADatabase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha, beta, gamma := "alpha", "beta", "gamma"

	// Names that normalize to the same identifier, each with its own domain.
	for _, in := range []service.CreateInput{
		{Name: "acme-co", Domain: &alpha},
		{Name: "ACME_CO", Domain: &beta},
		{Name: "Acme-Co", Domain: &gamma},
	} {
		_, err := f.svc.Create(ctx, in)
		require.NoError(t, err, in.Name)
	}

	// A domain freed by an update is registered again.
	first, err := f.svc.Create(ctx, service.CreateInput{Name: "initech"})
	require.NoError(t, err)
	renamed := "initech-old"
	_, err = f.svc.Update(ctx, first.ID, service.UpdateInput{Domain: &renamed})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, service.CreateInput{Name: "initech"})
	require.NoError(t, err)

	require.Len(t, f.provisioner.requests, 5)
	databases := map[string]bool{}
	uris := map[string]bool{}
	for _, req := range f.provisioner.requests {
		databases[req.DatabaseName] = true
		uris[req.URI] = true
	}
	require.Len(t, databases, 5)
	require.Len(t, uris, 5)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	bad := "two.labels"

	cases := []service.CreateInput{
		{Name: "ab"},
		{Name: "has space"},
		{Name: "valid-name", Domain: &bad},
	}
	for _, in := range cases {
		_, err := f.svc.Create(context.Background(), in)
		require.ErrorIs(t, err, problem.ErrValidation, in.Name)
		require.Equal(t, 422, problem.From(err).Status)
	}
	require.Empty(t, f.provisioner.requests, "nothing provisioned for invalid input")
}

func TestCreateDomainConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, service.CreateInput{Name: "acme"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, service.CreateInput{Name: "ACME"})
	require.ErrorIs(t, err, problem.ErrConflict)
	require.ErrorIs(t, err, problem.ErrValidation)

	d := problem.From(err)
	require.Equal(t, 422, d.Status)
	require.Contains(t, d.Errors, "domain")
	require.Len(t, f.provisioner.requests, 1, "conflict is detected before provisioning")
}

func TestCreateProvisioningFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.provisioner.err = errors.New("permission denied to create database")

	_, err := f.svc.Create(context.Background(), service.CreateInput{Name: "acme"})
	require.ErrorContains(t, err, "provision tenant database")

	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUpdateInvalidatesOldAndNewDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.CreateInput{Name: "acme"})
	require.NoError(t, err)

	domain := "acme-two"
	updated, err := f.svc.Update(ctx, created.ID, service.UpdateInput{Domain: &domain})
	require.NoError(t, err)
	require.Equal(t, "acme-two", updated.Domain)
	require.Equal(t, []string{"acme", "acme-two"}, f.invalidated.domains)

	// Keeping its own domain is not a conflict.
	same := "ACME-TWO"
	_, err = f.svc.Update(ctx, created.ID, service.UpdateInput{Domain: &same})
	require.NoError(t, err)
}

func TestUpdateConflictAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, service.CreateInput{Name: "acme"})
	require.NoError(t, err)
	globex, err := f.svc.Create(ctx, service.CreateInput{Name: "globex"})
	require.NoError(t, err)

	domain := "acme"
	_, err = f.svc.Update(ctx, globex.ID, service.UpdateInput{Domain: &domain})
	require.ErrorIs(t, err, problem.ErrConflict)

	name := strings.Repeat("x", 2)
	_, err = f.svc.Update(ctx, globex.ID, service.UpdateInput{Name: &name})
	require.ErrorIs(t, err, problem.ErrValidation)

	_, err = f.svc.Update(ctx, uuid.New(), service.UpdateInput{})
	require.ErrorIs(t, err, problem.ErrNotFound)
}

func TestDeleteInvalidatesTenancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.CreateInput{Name: "acme"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	require.Equal(t, []string{"acme"}, f.invalidated.domains)

	_, err = f.svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, created.ID), problem.ErrNotFound)
}

func TestRegistryChangesAreAuditLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := service.New(service.Config{
		LandlordURI: "postgres://app:pw@db:5432/landlord?sslmode=disable",
		Repo:        repo.NewMemoryRepository(),
		Provisioner: &stubProvisioner{},
		Sealer:      prefixSealer{},
		Logger:      zap.New(core),
	})

	userID := uuid.New()
	ctx := requesttrace.IntoContext(context.Background(), requesttrace.AuditInfo{
		ActorKind: requesttrace.ActorKindUser,
		UserID:    &userID,
		RequestID: "req-1",
	})
	created, err := svc.Create(ctx, service.CreateInput{Name: "acme"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(requesttrace.IntoContext(context.Background(), requesttrace.System("cli")), created.ID))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "tenant created", entries[0].Message)
	require.Equal(t, "user", entries[0].ContextMap()["actor_kind"])
	require.Equal(t, userID.String(), entries[0].ContextMap()["actor_id"])
	require.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	require.Equal(t, "tenant deleted", entries[1].Message)
	require.Equal(t, "system", entries[1].ContextMap()["actor_kind"])
}
