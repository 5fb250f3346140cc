// Package simerr holds the error categories shared by the simulation packages.
// Callers wrap these with fmt.Errorf("...: %w", ...) and test with errors.Is.
package simerr

import "errors"

var (
	// ErrConfiguration marks setup problems: a missing raster band, a missing
	// survival rate for a life stage, or inconsistent thresholds. Fatal before tick 1.
	ErrConfiguration = errors.New("configuration error")

	// ErrSpatialLookup marks a position or index outside the loaded raster extent.
	ErrSpatialLookup = errors.New("spatial lookup error")

	// ErrInvalidState marks a broken scheduler contract, e.g. dispersal
	// requested for an agent that is not breeding.
	ErrInvalidState = errors.New("invalid state")
)
