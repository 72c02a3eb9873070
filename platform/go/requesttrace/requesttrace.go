package requesttrace

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "TENANTGATE_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability and auditing.
// UserID is set only when ActorKind is user. TenantID is nil for landlord requests and
// for work that runs outside any tenancy.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *uuid.UUID
	TenantID  *uuid.UUID
	Tenancy   string
	RequestID string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	audit, ok := ctx.Value(ctxAuditInfo).(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromPrincipal builds an AuditInfo for an authenticated request.
func FromPrincipal(p *auth.Principal, t *tenant.Tenancy, requestID string) (AuditInfo, error) {
	if p == nil {
		return AuditInfo{}, errors.New("principal is required to build audit info")
	}
	if p.User.ID == uuid.Nil {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	userID := p.User.ID
	audit := AuditInfo{ActorKind: ActorKindUser, UserID: &userID, RequestID: requestID}
	withTenancy(&audit, t)
	return audit, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests (e.g., sign-in) where no user is known yet.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// AnonymousIn is Anonymous scoped to a tenancy.
func AnonymousIn(t *tenant.Tenancy, requestID string) AuditInfo {
	audit := Anonymous(requestID)
	withTenancy(&audit, t)
	return audit
}

// System builds an AuditInfo for background/system operations such as the admin CLI.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}

func withTenancy(audit *AuditInfo, t *tenant.Tenancy) {
	if t == nil {
		return
	}
	audit.Tenancy = t.Kind.String()
	if t.Record != nil {
		id := t.Record.ID
		audit.TenantID = &id
	}
}
