package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrStaleStatus is returned by conditional updates when the row exists but
// its status no longer matches any of the expected values.
var ErrStaleStatus = errors.New("status changed concurrently")

// ErrDuplicateEmail is returned when an account insert hits users_email_key.
var ErrDuplicateEmail = errors.New("email already registered")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func rollback(tx interface{ Rollback() error }, committed *bool) {
	if !*committed {
		_ = tx.Rollback()
	}
}
