package service

import (
	"context"

	"github.com/google/uuid"
)

// DBProvisioner creates and checks the physical database of a tenant.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type DBProvisioner interface {
	Ensure(ctx context.Context, req DBProvisionRequest) (DBProvisionResult, error)
	Check(ctx context.Context, req DBProvisionRequest) (DBProvisionResult, error)
}

type DBProvisionRequest struct {
	TenantID     uuid.UUID
	DatabaseName string
	URI          string
}

type DBProvisionResult struct {
	Ready         bool
	Created       bool
	SchemaVersion int64
}
