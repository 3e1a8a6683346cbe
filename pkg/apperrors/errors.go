package apperrors

import "errors"

// Error kinds surfaced by the storage adapters. Adapters wrap one of these
// with the query, table, column or host involved; callers test with errors.Is.
var (
	ErrConnectivity = errors.New("backend unreachable")
	ErrConfig       = errors.New("invalid configuration")
	ErrSchema       = errors.New("malformed schema request")
	ErrShape        = errors.New("row shape mismatch")
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("unexpected persistence result")
	ErrProtocol     = errors.New("unexpected backend response")
)

// ErrConflict marks a write rejected by a uniqueness constraint. It is always
// wrapped together with ErrPersistence and is never retried.
var ErrConflict = errors.New("conflict")
