// Package sqlassets embeds the goose migrations for the landlord and tenant databases.
package sqlassets

import "embed"

// Migrations holds both migration sets; see LandlordDir and TenantDir.
//
//go:embed migrations/landlord/*.sql migrations/tenant/*.sql
var Migrations embed.FS

const (
	LandlordDir = "migrations/landlord"
	TenantDir   = "migrations/tenant"
)
