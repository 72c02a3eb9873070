package seed

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenantgate/apps/cli/cmd/connflags"
	"github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Command creates or resets an account. Without --tenant the account is a landlord
// operator; landlord sign-up is disabled, so this is how the first operator exists.
func Command() *cobra.Command {
	var (
		flags    connflags.Flags
		domain   string
		email    string
		password string
		verified bool
	)

	c := &cobra.Command{
		Use:   "seed",
		Short: "Create or reset a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(domain != ""); err != nil {
				return err
			}
			email = strings.TrimSpace(email)
			if email == "" || len(password) < 8 {
				return fmt.Errorf("--email and a --password of at least 8 characters are required")
			}
			ctx := cmd.Context()

			landlord, err := flags.Pool(ctx)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(landlord)

			target := landlord
			where := "landlord"
			if domain != "" {
				sealer, err := flags.Sealer()
				if err != nil {
					return err
				}
				uri, err := connflags.TenantURI(ctx, landlord, sealer, domain)
				if err != nil {
					return err
				}
				tenantPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: uri, MaxConns: 2})
				if err != nil {
					return fmt.Errorf("connect tenant %q: %w", domain, err)
				}
				defer persistence.ClosePool(tenantPool)
				target = tenantPool
				where = "tenant " + domain
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user, err := persistence.NewUserStore(target).UpsertUser(ctx, persistence.CreateUserParams{
				Email:    email,
				Hash:     hash,
				Verified: verified,
			})
			if err != nil {
				return fmt.Errorf("seed user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "User seeded in %s: %s (%s)\n", where, user.Email, user.ID)
			return nil
		},
	}

	flags.Bind(c)
	c.Flags().StringVar(&domain, "tenant", "", "Tenant domain label; empty seeds the landlord")
	c.Flags().StringVar(&email, "email", "", "Account email")
	c.Flags().StringVar(&password, "password", "", "Account password")
	c.Flags().BoolVar(&verified, "verified", true, "Mark the email as verified")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("password")
	return c
}
