package graphdb

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes this package cares about.
const (
	codeUniqueViolation  = "23505"
	codeDeadlockDetected = "40P01"
)

func pgError(err error) *pgconn.PgError {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	pe := pgError(err)
	return pe != nil && pe.Code == codeUniqueViolation
}

// IsDeadlock reports whether err is a database deadlock. The message check
// covers drivers and proxies that lose the SQLSTATE on the way up.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	if pe := pgError(err); pe != nil && pe.Code == codeDeadlockDetected {
		return true
	}
	return strings.Contains(err.Error(), "deadlock detected")
}
