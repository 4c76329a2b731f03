package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or token does not exist in the store
// - ErrExpired: token deadline has passed
// - ErrAlreadyUsed: token already consumed
// - ErrInvalidState: aggregate in wrong status for the requested operation
// - ErrConcurrentModification: optimistic-lock loss, caller should refetch
//
// For validation errors (bad input, out-of-range fields), use
// pkg/domain-errors directly.
var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrExpired                = errors.New("expired")
	ErrAlreadyUsed            = errors.New("already used")
	ErrInvalidState           = errors.New("invalid state")
	ErrConcurrentModification = errors.New("concurrent modification")
)
