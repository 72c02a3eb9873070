package migrate

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/tenantgate/apps/cli/cmd/connflags"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Command applies the landlord schema and, with --tenants, every tenant schema.
func Command() *cobra.Command {
	var (
		flags       connflags.Flags
		tenants     bool
		concurrency int
	)

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(tenants); err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := persistence.Migrate(ctx, flags.DatabaseURL, persistence.LandlordMigrations); err != nil {
				return fmt.Errorf("migrate landlord: %w", err)
			}
			version, err := persistence.MigrationVersion(ctx, flags.DatabaseURL)
			if err != nil {
				return fmt.Errorf("read landlord version: %w", err)
			}
			fmt.Fprintf(out, "landlord: version %d\n", version)
			if !tenants {
				return nil
			}

			pool, err := flags.Pool(ctx)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)
			sealer, err := flags.Sealer()
			if err != nil {
				return err
			}
			records, err := persistence.NewTenantStore(pool).List(ctx)
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for _, rec := range records {
				g.Go(func() error {
					uri, err := sealer.Open(rec.DBURI)
					if err != nil {
						return fmt.Errorf("tenant %s: open connection string: %w", rec.Domain, err)
					}
					if err := persistence.Migrate(gctx, uri, persistence.TenantMigrations); err != nil {
						return fmt.Errorf("tenant %s: %w", rec.Domain, err)
					}
					v, err := persistence.MigrationVersion(gctx, uri)
					if err != nil {
						return fmt.Errorf("tenant %s: read version: %w", rec.Domain, err)
					}
					mu.Lock()
					fmt.Fprintf(out, "tenant %s: version %d\n", rec.Domain, v)
					mu.Unlock()
					return nil
				})
			}
			return g.Wait()
		},
	}

	flags.Bind(c)
	c.Flags().BoolVar(&tenants, "tenants", false, "Also migrate every registered tenant database")
	c.Flags().IntVar(&concurrency, "concurrency", 4, "Tenant databases migrated in parallel")
	return c
}
