package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the tenantgate admin CLI. Subcommands (tenant, migrate, seed) are attached here.
var rootCmd = &cobra.Command{
	Use:           "tenantgate",
	Short:         "tenantgate admin CLI",
	Long:          "Administrative utilities for tenantgate (tenant registry, migrations, account seeding).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
