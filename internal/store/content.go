package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
)

// ContentStore defines the interface for content item persistence.
// Version: 1.0
type ContentStore interface {
	// Create saves a new content item.
	// Returns ErrFingerprintExists if an item with the same fingerprint exists.
	Create(ctx context.Context, item *domain.ContentItem) error

	// GetByID retrieves a content item by ID.
	// Returns ErrContentNotFound if the item does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error)

	// GetByFingerprint retrieves a content item by fingerprint.
	// Returns ErrContentNotFound if no item has that fingerprint.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentItem, error)

	// ListByOwner returns the items the owner uploaded first, newest first,
	// and the total number of them.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, page Page) ([]*domain.ContentItem, int, error)

	// DeleteUnreferenced removes the item unless a pending or processing task
	// references it. The check and the delete happen atomically.
	// Returns ErrContentInUse or ErrContentNotFound.
	DeleteUnreferenced(ctx context.Context, id uuid.UUID) error
}
