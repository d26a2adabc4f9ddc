// Package position describes the unrestricted positioning API the
// coordinator reads device location from.
package position

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position request timed out")
)

// Options mirrors the knobs of a platform getCurrentPosition call.
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	// MaximumAge is the oldest cached fix the caller will accept.
	MaximumAge time.Duration
}

type Coords struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters
}

type Position struct {
	Coords    Coords
	Timestamp int64 // unix ms
}

// Provider returns the current device position.
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}
