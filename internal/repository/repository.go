package repository

import (
	"context"

	"flowatlas/internal/domain"
)

// Repository defines the interface for topology record access.
// GetTopology returns (nil, nil) for an unknown application; the service
// layer converts that into an UNKNOWN-zone record so callers never see
// "not found".
type Repository interface {
	GetTopology(ctx context.Context, appCode string) (*domain.TopologyRecord, error)
	ListTopologies(ctx context.Context) ([]domain.TopologyRecord, error)
	UpsertTopology(ctx context.Context, rec *domain.TopologyRecord) error
	DeleteTopology(ctx context.Context, appCode string) error

	// Reset removes all topology records (explicit reset only; records
	// are otherwise never deleted).
	Reset(ctx context.Context) error

	// Close releases resources
	Close() error
}
