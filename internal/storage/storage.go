// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/heidestein/routetrack/pkg/core"
)

var (
	// ErrStorage is wrapped by every error a Store returns.
	ErrStorage = errors.New("storage error")
	// ErrTrackExists is returned by CreateTrack when the id is taken.
	ErrTrackExists = errors.New("track already exists")
	// ErrTrackNotFound is returned when an operation needs an existing track.
	ErrTrackNotFound = errors.New("track not found")
	// ErrInvalidPoint is returned by AppendPoint for malformed input.
	ErrInvalidPoint = errors.New("invalid point")
	// ErrUnsupported is returned when the driver cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by driver")
)

// ImportStats reports how many rows an Import added or replaced.
type ImportStats struct {
	Tracks int64
	Labels int64
	Points int64
}

// Store is the durable track store.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// Track management
	CreateTrack(ctx context.Context, id string) (string, error)
	FinalizeTrack(ctx context.Context, id string, distance float64) error
	GetTrackMeta(ctx context.Context, id string) (*core.TrackSummary, error)
	ListTracks(ctx context.Context) ([]core.TrackSummary, error)
	SetLabel(ctx context.Context, id string, text string) error
	DeleteTrack(ctx context.Context, id string) error

	// Points
	NextSegmentIndex(ctx context.Context, id string) (int, error)
	AppendPoint(ctx context.Context, id string, segmentIndex int, p core.Point) error
	LoadPoints(ctx context.Context, id string) ([]core.Segment, error)

	// Bulk
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) (ImportStats, error)
}
