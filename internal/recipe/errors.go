package recipe

import "errors"

// Sentinel errors shared by the repository and its callers.
var (
	ErrNotFound           = errors.New("recipe: not found")
	ErrStorageUnavailable = errors.New("recipe: storage unavailable")
	ErrInvalidDraft       = errors.New("recipe: invalid draft")
	// ErrDataIntegrity signals an identifier rewrite that could not be
	// applied atomically. The transaction is rolled back before it surfaces.
	ErrDataIntegrity = errors.New("recipe: data integrity fault")
)
