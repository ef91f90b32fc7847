package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound names the "single-row lookup found nothing" condition. The
// lookups in this package do not return it: they report absence as a nil
// result or as a validation message instead.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidRange is returned by range queries where start > end.
var ErrInvalidRange = errors.New("store: invalid range")

// uniqueViolationCode is Postgres's SQLSTATE for a unique_violation.
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, the conflict error category.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
