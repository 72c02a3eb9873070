package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the window length of a Rate.
type Unit string

const (
	Second Unit = "s"
	Minute Unit = "m"
	Hour   Unit = "h"
	Day    Unit = "d"
)

// Duration returns the window length for u. Unknown units fall back to a minute.
func (u Unit) Duration() time.Duration {
	switch u {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Rate allows Limit requests per Unit.
type Rate struct {
	Limit int
	Unit  Unit
}

// Window returns the counting window of r.
func (r Rate) Window() time.Duration {
	return r.Unit.Duration()
}

func (r Rate) String() string {
	return strconv.Itoa(r.Limit) + "/" + string(r.Unit)
}

// ParseRate parses the "<limit>/<unit>" form, e.g. "10/h".
func ParseRate(s string) (Rate, error) {
	limitPart, unitPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("rate %q: expected <limit>/<unit>", s)
	}
	limit, err := strconv.Atoi(limitPart)
	if err != nil || limit < 0 {
		return Rate{}, fmt.Errorf("rate %q: invalid limit", s)
	}
	unit := Unit(unitPart)
	switch unit {
	case Second, Minute, Hour, Day:
	default:
		return Rate{}, fmt.Errorf("rate %q: unit must be one of s, m, h, d", s)
	}
	return Rate{Limit: limit, Unit: unit}, nil
}

// UnmarshalText lets rates load from environment variables.
func (r *Rate) UnmarshalText(text []byte) error {
	parsed, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Tiers configures the two identification strengths. Clients without a user agent
// (CLIs, scripts) are counted by address alone; browsers by address and agent.
type Tiers struct {
	IP   Rate
	IPUA Rate
}

// DefaultTiers is the global admission policy.
func DefaultTiers() Tiers {
	return Tiers{
		IP:   Rate{Limit: 10, Unit: Hour},
		IPUA: Rate{Limit: 60, Unit: Minute},
	}
}

// PasswordResetTiers is the stricter policy for password reset requests.
func PasswordResetTiers() Tiers {
	return Tiers{
		IP:   Rate{Limit: 10, Unit: Hour},
		IPUA: Rate{Limit: 1, Unit: Minute},
	}
}
