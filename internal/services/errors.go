// Package services implements the unified storage facade: the single entry
// point the rest of the application uses for product CRUD and sync control.
// This file centralizes the service-level error values so handlers can map
// them to HTTP results consistently.
package services

import "errors"

var (
	// ErrProductNotFound indicates the requested product exists in no
	// reachable tier.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidProduct is returned when a record is missing the fields the
	// store cannot derive (currently: a name).
	ErrInvalidProduct = errors.New("product name is required")

	// ErrLocalUnavailable is the fatal case: the local tier rejected the
	// write, so the record may not survive a restart.
	ErrLocalUnavailable = errors.New("local store unavailable")
)
