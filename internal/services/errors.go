// Package services holds the persona engine's business logic: lore
// extraction, persona reply generation, the per-message pipeline, and the
// read-only fan queries behind the admin API.
//
// This file centralizes service-level error values so handlers can map them
// to HTTP results consistently.
package services

import "errors"

var (
	// ErrFanNotFound indicates that no memory record exists for the fan id.
	ErrFanNotFound = errors.New("fan not found")

	// ErrEmptyFanID is returned when a lookup is attempted with a blank id.
	ErrEmptyFanID = errors.New("fan id is empty")
)
