package tenantcmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/apps/cli/cmd/connflags"
	"github.com/zenGate-Global/tenantgate/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/tenantgate/domains/tenants/be/repo"
	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Command groups tenant registry helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant registry (create/list/update/delete)",
	}

	cmd.AddCommand(createCommand(), listCommand(), updateCommand(), deleteCommand())
	return cmd
}

// withService runs fn with a tenant service bound to the landlord database. The API
// server's caches are not reachable from here; they pick up changes when their short
// record TTL lapses.
func withService(cmd *cobra.Command, flags *connflags.Flags, fn func(svc *service.Service) error) error {
	if err := flags.Validate(true); err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := flags.Pool(ctx)
	if err != nil {
		return err
	}
	defer persistence.ClosePool(pool)

	sealer, err := flags.Sealer()
	if err != nil {
		return err
	}

	svc := service.New(service.Config{
		LandlordURI: flags.DatabaseURL,
		Repo:        repo.NewPostgresRepository(persistence.NewTenantStore(pool)),
		Provisioner: provisioning.NewDBProvisioner(pool, provisioning.GooseMigrator{}, zap.NewNop()),
		Sealer:      sealer,
	})
	return fn(svc)
}

func createCommand() *cobra.Command {
	var (
		flags  connflags.Flags
		name   string
		domain string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and provision its database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, &flags, func(svc *service.Service) error {
				input := service.CreateInput{Name: name}
				if domain != "" {
					input.Domain = &domain
				}
				t, err := svc.Create(connflags.Context(cmd), input)
				if err != nil {
					return fmt.Errorf("create tenant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant created: %s (%s) domain=%s\n", t.Name, t.ID, t.Domain)
				return nil
			})
		},
	}

	flags.Bind(c)
	c.Flags().StringVar(&name, "name", "", "Tenant name (letters, digits, - and _)")
	c.Flags().StringVar(&domain, "domain", "", "Subdomain label (defaults to the lowercased name)")
	_ = c.MarkFlagRequired("name")
	return c
}

func listCommand() *cobra.Command {
	var flags connflags.Flags

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, &flags, func(svc *service.Service) error {
				tenants, err := svc.List(connflags.Context(cmd))
				if err != nil {
					return fmt.Errorf("list tenants: %w", err)
				}
				return printTenants(cmd.OutOrStdout(), tenants)
			})
		},
	}

	flags.Bind(c)
	return c
}

func updateCommand() *cobra.Command {
	var (
		flags  connflags.Flags
		name   string
		domain string
	)

	c := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Rename a tenant or change its domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			var input service.UpdateInput
			if cmd.Flags().Changed("name") {
				input.Name = &name
			}
			if cmd.Flags().Changed("domain") {
				input.Domain = &domain
			}
			if input.Name == nil && input.Domain == nil {
				return fmt.Errorf("nothing to update: pass --name and/or --domain")
			}

			return withService(cmd, &flags, func(svc *service.Service) error {
				t, err := svc.Update(connflags.Context(cmd), id, input)
				if err != nil {
					return fmt.Errorf("update tenant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant updated: %s (%s) domain=%s\n", t.Name, t.ID, t.Domain)
				return nil
			})
		},
	}

	flags.Bind(c)
	c.Flags().StringVar(&name, "name", "", "New tenant name")
	c.Flags().StringVar(&domain, "domain", "", "New subdomain label")
	return c
}

func deleteCommand() *cobra.Command {
	var flags connflags.Flags

	c := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Unregister a tenant (its database is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			return withService(cmd, &flags, func(svc *service.Service) error {
				if err := svc.Delete(connflags.Context(cmd), id); err != nil {
					return fmt.Errorf("delete tenant: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant deleted: %s\n", id)
				return nil
			})
		},
	}

	flags.Bind(c)
	return c
}

func printTenants(out io.Writer, tenants []service.Tenant) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDOMAIN\tCREATED")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Domain, t.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
