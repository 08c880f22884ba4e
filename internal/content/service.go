// Package content implements the content store: fingerprinting, dedup,
// blob storage, and deletion of unreferenced items.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/lock"
	"github.com/phrazzld/docsage-api/internal/metrics"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/store"
)

// Common sentinel errors for the content service
var (
	// ErrStorageUnavailable indicates the blob or index write failed and
	// nothing was stored.
	ErrStorageUnavailable = errors.New("content storage unavailable")

	// ErrContentTooLarge indicates the upload exceeds the configured size limit.
	ErrContentTooLarge = errors.New("content exceeds size limit")
)

// BlobStore persists content bytes under a key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Config holds content service settings.
type Config struct {
	MaxBytes  int64
	CacheSize int
	CacheTTL  time.Duration
}

// Service stores uploaded content once per fingerprint.
type Service struct {
	items  store.ContentStore
	blobs  BlobStore
	locks  *lock.MutexMap
	cache  *expirable.LRU[string, uuid.UUID]
	config Config
	logger *slog.Logger
}

// NewService creates a content Service.
func NewService(items store.ContentStore, blobs BlobStore, config Config, logger *slog.Logger) *Service {
	if config.CacheSize <= 0 {
		config.CacheSize = 1024
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &Service{
		items:  items,
		blobs:  blobs,
		locks:  lock.NewMutexMap(),
		cache:  expirable.NewLRU[string, uuid.UUID](config.CacheSize, nil, config.CacheTTL),
		config: config,
		logger: logger.With("component", "content_service"),
	}
}

// Put stores data for ownerID, or returns the existing item with the same
// fingerprint. isNew reports whether this call created the item.
func (s *Service) Put(ctx context.Context, data []byte, ownerID uuid.UUID) (*domain.ContentItem, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(data) == 0 {
		return nil, false, domain.NewValidationError("content", "cannot be empty", domain.ErrEmptyContent)
	}
	if s.config.MaxBytes > 0 && int64(len(data)) > s.config.MaxBytes {
		return nil, false, fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLarge, len(data), s.config.MaxBytes)
	}

	item, err := domain.NewContentItem(ownerID, data)
	if err != nil {
		return nil, false, err
	}

	s.locks.Lock(item.Fingerprint)
	defer s.locks.Unlock(item.Fingerprint)

	if existing, err := s.lookup(ctx, item.Fingerprint); err == nil {
		metrics.ContentUploads.WithLabelValues("duplicate").Inc()
		log.Debug("content already stored", "content_id", existing.ID, "fingerprint", existing.Fingerprint)
		return existing, false, nil
	} else if !store.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	ref, err := s.blobs.Put(ctx, item.Fingerprint, data)
	if err != nil {
		log.Error("failed to write blob", "fingerprint", item.Fingerprint, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	item.StorageRef = ref

	if err := s.items.Create(ctx, item); err != nil {
		if store.IsDuplicateError(err) {
			// Another process indexed the same fingerprint first; its row
			// points at the same content-addressed blob.
			winner, getErr := s.items.GetByFingerprint(ctx, item.Fingerprint)
			if getErr == nil {
				s.cache.Add(winner.Fingerprint, winner.ID)
				metrics.ContentUploads.WithLabelValues("duplicate").Inc()
				return winner, false, nil
			}
			err = getErr
		} else {
			s.rollbackBlob(ctx, item.Fingerprint, ref)
		}
		log.Error("failed to index content", "fingerprint", item.Fingerprint, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.cache.Add(item.Fingerprint, item.ID)
	metrics.ContentUploads.WithLabelValues("new").Inc()
	log.Info("content stored", "content_id", item.ID, "size_bytes", item.SizeBytes)
	return item, true, nil
}

// rollbackBlob removes a blob whose index write failed, unless another
// instance has since indexed the same fingerprint and now relies on it.
func (s *Service) rollbackBlob(ctx context.Context, fingerprint, ref string) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if _, err := s.items.GetByFingerprint(ctx, fingerprint); err == nil {
		log.Warn("keeping blob indexed by another writer", "fingerprint", fingerprint)
		return
	} else if !store.IsNotFoundError(err) {
		log.Warn("keeping blob, index state unknown", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := s.blobs.Delete(ctx, ref); err != nil {
		log.Error("failed to roll back blob", "fingerprint", fingerprint, "error", err)
	}
}

// Get returns the item with the given id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	return s.items.GetByID(ctx, id)
}

// Open returns the bytes of the item with the given id.
func (s *Service) Open(ctx context.Context, id uuid.UUID) ([]byte, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, item.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", id, err)
	}
	return data, nil
}

// Delete removes an item owned by ownerID. Items of other owners are
// reported as not found. Returns store.ErrContentInUse while an active task
// references the item.
func (s *Service) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.OwnerID != ownerID {
		return store.ErrContentNotFound
	}

	return s.locks.With(item.Fingerprint, func() error {
		if err := s.items.DeleteUnreferenced(ctx, id); err != nil {
			return err
		}
		s.cache.Remove(item.Fingerprint)

		if err := s.blobs.Delete(ctx, item.StorageRef); err != nil {
			// The index row is gone; an orphaned blob is harmless and is
			// overwritten if the same content is uploaded again.
			logger.FromContextOrDefault(ctx, s.logger).
				Warn("failed to delete blob", "content_id", id, "error", err)
		}
		return nil
	})
}

// List returns a page of the items ownerID uploaded first, newest first.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, page store.Page) ([]*domain.ContentItem, int, error) {
	items, total, err := s.items.ListByOwner(ctx, ownerID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list content: %w", err)
	}
	return items, total, nil
}

// lookup resolves a fingerprint to its indexed item. The cache only maps
// fingerprints to ids; the row is always read from the index, since another
// instance may have deleted it.
func (s *Service) lookup(ctx context.Context, fingerprint string) (*domain.ContentItem, error) {
	if id, ok := s.cache.Get(fingerprint); ok {
		item, err := s.items.GetByID(ctx, id)
		if err == nil {
			metrics.ContentCacheHits.Inc()
			return item, nil
		}
		if !store.IsNotFoundError(err) {
			return nil, err
		}
		s.cache.Remove(fingerprint)
	}
	item, err := s.items.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	s.cache.Add(fingerprint, item.ID)
	return item, nil
}
