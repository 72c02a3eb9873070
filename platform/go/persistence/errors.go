package persistence

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

// Store errors wrap the admission taxonomy so callers can classify them with errors.Is.
var (
	ErrNotFound = fmt.Errorf("record %w", problem.ErrNotFound)
	ErrConflict = fmt.Errorf("record %w", problem.ErrConflict)
	ErrExpired  = fmt.Errorf("token expired: %w", problem.ErrUnauthorized)
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapRowErr translates driver errors for single-row reads and writes.
func mapRowErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
