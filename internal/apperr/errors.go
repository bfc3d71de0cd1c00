// Package apperr defines sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrCancelled = errors.New("operation cancelled")
)
