package tenant

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// ValidateName checks a tenant name: letters, digits, hyphens and underscores.
func ValidateName(name string) error {
	if len(strings.TrimSpace(name)) < 3 {
		return problem.Invalid("name", "tenant name needs to be at least 3 characters")
	}
	if !namePattern.MatchString(name) {
		return problem.Invalid("name", "tenant name may only contain letters, digits, hyphens and underscores")
	}
	return nil
}

// DomainSlug normalizes a name into the subdomain label that routes to the tenant.
func DomainSlug(input string) (string, error) {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(input)), "_", "-")
	if slug == "" {
		return "", problem.Invalid("domain", "domain is required")
	}
	if len(slug) > 63 || !slugPattern.MatchString(slug) {
		return "", problem.Invalid("domain", fmt.Sprintf("invalid domain %q: must be a single DNS label", input))
	}
	return slug, nil
}

// DatabaseName returns the physical database name for a tenant. It is keyed on the
// immutable tenant id; names and domains are neither unique after normalization nor
// stable across updates.
func DatabaseName(id uuid.UUID) string {
	return "tenant_" + strings.ReplaceAll(id.String(), "-", "")
}

// TenantURI derives a tenant connection string from the landlord one by swapping the
// database path.
func TenantURI(landlordURI string, id uuid.UUID) (string, error) {
	u, err := url.Parse(landlordURI)
	if err != nil {
		return "", fmt.Errorf("parse landlord uri: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("landlord uri must be a URL, got %q", u.Redacted())
	}
	u.Path = "/" + DatabaseName(id)
	u.RawPath = ""
	return u.String(), nil
}

// SplitHost lowercases host, strips any port and returns it with its labels.
func SplitHost(host string) (string, []string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", nil
	}
	return host, strings.Split(host, ".")
}
