package store

import (
	"context"
	"errors"
	"time"

	"github.com/ykvlv/investmate/internal/domain"
)

var ErrNotFound = errors.New("alert not found")

// Repo defines storage operations for scheduled alerts.
type Repo interface {
	InsertAlert(ctx context.Context, a *domain.Alert) error
	GetAlert(ctx context.Context, id string) (*domain.Alert, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Alert, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Alert, error)
	// Claim persists a's post-firing state only if the stored row is still
	// PENDING at observedAt. It reports whether this caller won the firing.
	Claim(ctx context.Context, a *domain.Alert, observedAt time.Time) (bool, error)
	// Cancel moves a PENDING alert to CANCELLED and reports whether it did.
	Cancel(ctx context.Context, id string) (bool, error)
	Close() error
}
