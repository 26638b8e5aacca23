package storage

import "errors"

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrIntegrityConflict is returned when a unique-constraint conflict
	// survives the post-rollback existence re-check.
	ErrIntegrityConflict = errors.New("storage integrity conflict")
)
