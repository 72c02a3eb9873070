// Package connflags holds the connection flags shared by the admin commands.
package connflags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/requesttrace"
	"github.com/zenGate-Global/tenantgate/platform/go/secret"
)

// Flags are the landlord connection settings. Both default to the variables the API
// server reads.
type Flags struct {
	DatabaseURL string
	AppSecret   string
}

// Bind registers the flags on cmd.
func (f *Flags) Bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "Landlord PostgreSQL connection string (env DATABASE_URL)")
	cmd.Flags().StringVar(&f.AppSecret, "app-secret", os.Getenv("APP_SECRET"), "Application secret used to seal tenant connection strings (env APP_SECRET)")
}

// Validate reports missing settings. The secret is only needed by commands that touch
// tenant connection strings.
func (f *Flags) Validate(needSecret bool) error {
	if strings.TrimSpace(f.DatabaseURL) == "" {
		return errors.New("--database-url (or DATABASE_URL) is required")
	}
	if needSecret && f.AppSecret == "" {
		return errors.New("--app-secret (or APP_SECRET) is required")
	}
	return nil
}

// Pool opens a small pool on the landlord database.
func (f *Flags) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: f.DatabaseURL, MaxConns: 4})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	return pool, nil
}

// Sealer builds the sealer for tenant connection strings.
func (f *Flags) Sealer() (*secret.Sealer, error) {
	return secret.NewSealer(f.AppSecret)
}

// TenantURI returns the plain connection string of the tenant registered under domain.
func TenantURI(ctx context.Context, landlord persistence.Querier, sealer *secret.Sealer, domain string) (string, error) {
	rec, err := persistence.NewTenantStore(landlord).GetByDomain(ctx, strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return "", fmt.Errorf("find tenant %q: %w", domain, err)
	}
	uri, err := sealer.Open(rec.DBURI)
	if err != nil {
		return "", fmt.Errorf("open tenant %q connection string: %w", domain, err)
	}
	return uri, nil
}

// Context marks work started from the CLI in the audit trail.
func Context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return requesttrace.IntoContext(ctx, requesttrace.System("cli-"+uuid.NewString()))
}
