package models

import "errors"

var (
	// ErrAdapterUnavailable means the understanding call failed after its
	// single retry; nothing was persisted.
	ErrAdapterUnavailable = errors.New("understanding adapter unavailable")

	// ErrSchemaViolation means an extraction produced a field the registry
	// does not recognize. The field is dropped and processing continues.
	ErrSchemaViolation = errors.New("field not recognized by schema")

	// ErrSessionExpired means a clarification session went stale; callers
	// start a fresh session instead of surfacing an error.
	ErrSessionExpired = errors.New("clarification session expired")

	// ErrInvalidIdentity means a raw owner identity failed normalization.
	// Rejected before any query is issued.
	ErrInvalidIdentity = errors.New("malformed owner identity")

	// ErrReferentialIntegrity means a record referenced a row that no
	// longer exists; resolved by nulling the reference.
	ErrReferentialIntegrity = errors.New("dangling reference")

	ErrNotFound = errors.New("not found")
)
