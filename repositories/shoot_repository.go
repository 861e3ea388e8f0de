package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

var (
	ErrShootNotFound   = errors.New("shoot not found")
	ErrCodeTaken       = errors.New("shoot code is already in use")
	ErrVersionConflict = errors.New("shoot was modified concurrently")
)

// ShootRepository stores whole shoot aggregates keyed by code. Expired shoots are
// treated as absent by Get and CodeExists regardless of whether they were evicted yet.
type ShootRepository interface {
	// Create stores a new shoot. It fails with ErrCodeTaken if a non-expired
	// shoot already owns the code.
	Create(ctx context.Context, shoot *models.Shoot) error
	Get(ctx context.Context, code string) (*models.Shoot, error)
	// Save replaces the stored aggregate only if its version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	Save(ctx context.Context, shoot *models.Shoot, expectedVersion int64) error
	CodeExists(ctx context.Context, code string) (bool, error)
	// DeleteExpired removes the shoot under code only if it had expired at now.
	// A live shoot that reused the code is left alone and ErrShootNotFound is
	// returned.
	DeleteExpired(ctx context.Context, code string, now time.Time) error
	ListExpired(ctx context.Context, now time.Time) ([]*models.Shoot, error)
}
