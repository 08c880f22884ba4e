package domain

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the length in bytes of a content fingerprint.
const FingerprintSize = blake2b.Size256

// ContentItem represents one uploaded, deduplicated blob.
// At most one ContentItem exists per fingerprint; items are never mutated.
type ContentItem struct {
	ID          uuid.UUID `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	OwnerID     uuid.UUID `json:"owner_id"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageRef  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fingerprint returns the hex encoded BLAKE2b-256 digest of data.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewContentItem builds a ContentItem for data owned by ownerID.
// The storage reference is filled in by the content service once the blob is written.
func NewContentItem(ownerID uuid.UUID, data []byte) (*ContentItem, error) {
	item := &ContentItem{
		ID:          uuid.New(),
		Fingerprint: Fingerprint(data),
		OwnerID:     ownerID,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate checks that the item is well formed.
func (c *ContentItem) Validate() error {
	if c.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if c.OwnerID == uuid.Nil {
		return NewValidationError("owner_id", "cannot be empty", ErrInvalidID)
	}
	if c.SizeBytes <= 0 {
		return NewValidationError("content", "cannot be empty", ErrEmptyContent)
	}
	if len(c.Fingerprint) != hex.EncodedLen(FingerprintSize) {
		return NewValidationError("fingerprint", "has invalid length", ErrValidation)
	}
	return nil
}
