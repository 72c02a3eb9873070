package tenant

import (
	"context"

	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
)

// Kind discriminates the two tenancy variants.
type Kind int

const (
	KindLandlord Kind = iota + 1
	KindTenant
)

func (k Kind) String() string {
	switch k {
	case KindLandlord:
		return "landlord"
	case KindTenant:
		return "tenant"
	default:
		return "unknown"
	}
}

// Tenancy is the database a request is served from. Values are built once by the
// Resolver, cached per host and shared by concurrent requests; they must not be mutated.
// Record is set only when Kind is KindTenant.
type Tenancy struct {
	Kind   Kind
	Domain string
	DB     persistence.DB
	Record *persistence.TenantRecord
}

// IsLandlord reports whether t is the landlord variant.
func (t *Tenancy) IsLandlord() bool {
	return t != nil && t.Kind == KindLandlord
}

type ctxKey string

const tenancyKey ctxKey = "TENANTGATE_TENANCY"

// WithTenancy returns a derived context carrying t.
func WithTenancy(ctx context.Context, t *Tenancy) context.Context {
	return context.WithValue(ctx, tenancyKey, t)
}

// FromContext extracts the Tenancy and a boolean indicating presence.
func FromContext(ctx context.Context) (*Tenancy, bool) {
	t, ok := ctx.Value(tenancyKey).(*Tenancy)
	return t, ok && t != nil
}
