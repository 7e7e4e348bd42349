package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Storage backends and the
// transaction cache return these (optionally wrapped) so the orchestrator and
// transports can classify failures without knowing the backend:
//   - ErrNotFound: entity does not exist or is soft-deleted
//   - ErrConflict: a uniqueness or foreign key constraint rejected the write
//   - ErrUnavailable: backend temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
