// Package store implements the persistence layer over PostgreSQL.
// Each store owns one table family and exposes the operations the
// services need; services hold narrow interfaces over these types.
package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a guarded status update matched no
	// row, i.e. the entity was not in the required source state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientCredits indicates the balance cannot cover a deduction.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAlreadyRefunded indicates a refund for this reference was already
	// recorded; the duplicate is a no-op.
	ErrAlreadyRefunded = errors.New("reference already refunded")
)
