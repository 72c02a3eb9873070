package root

import (
	"github.com/zenGate-Global/tenantgate/apps/cli/cmd/migrate"
	"github.com/zenGate-Global/tenantgate/apps/cli/cmd/seed"
	tenantcmd "github.com/zenGate-Global/tenantgate/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(migrate.Command())
	Root().AddCommand(seed.Command())
}
