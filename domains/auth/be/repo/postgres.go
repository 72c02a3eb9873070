// Package repo binds the auth service to the stores of a tenancy database.
package repo

import (
	"github.com/zenGate-Global/tenantgate/domains/auth/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

// Postgres returns the persistence stores on the tenancy database.
func Postgres(t *tenant.Tenancy) service.Repositories {
	return service.Repositories{
		Users:    persistence.NewUserStore(t.DB),
		Sessions: persistence.NewSessionStore(t.DB),
		Tokens:   persistence.NewTokenStore(t.DB),
	}
}

var _ service.RepositoriesFor = Postgres
