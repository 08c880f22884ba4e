package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/store"
)

// ContentStore is the store.ContentStore view over a Store's content maps.
// TaskStore.Create and ContentStore.Create collide, hence the separate type.
type ContentStore struct {
	s *Store
}

// Contents returns the content view of the store.
func (s *Store) Contents() *ContentStore {
	return &ContentStore{s: s}
}

var _ store.ContentStore = (*ContentStore)(nil)

// Create implements store.ContentStore.
func (c *ContentStore) Create(ctx context.Context, item *domain.ContentItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.byFingerprint[item.Fingerprint]; ok {
		return store.ErrFingerprintExists
	}
	if _, ok := c.s.contents[item.ID]; ok {
		return store.ErrDuplicate
	}
	cp := *item
	c.s.contents[item.ID] = &cp
	c.s.byFingerprint[item.Fingerprint] = item.ID
	return nil
}

// GetByID implements store.ContentStore.
func (c *ContentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	item, ok := c.s.contents[id]
	if !ok {
		return nil, store.ErrContentNotFound
	}
	cp := *item
	return &cp, nil
}

// GetByFingerprint implements store.ContentStore.
func (c *ContentStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentItem, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	id, ok := c.s.byFingerprint[fingerprint]
	if !ok {
		return nil, store.ErrContentNotFound
	}
	cp := *c.s.contents[id]
	return &cp, nil
}

// ListByOwner implements store.ContentStore.
func (c *ContentStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	page store.Page,
) ([]*domain.ContentItem, int, error) {
	c.s.mu.RLock()
	var matched []*domain.ContentItem
	for _, item := range c.s.contents {
		if item.OwnerID == ownerID {
			cp := *item
			matched = append(matched, &cp)
		}
	}
	c.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := page.Offset()
	if start >= total {
		return []*domain.ContentItem{}, total, nil
	}
	end := total
	if page.Size > 0 && start+page.Size < total {
		end = start + page.Size
	}
	return matched[start:end], total, nil
}

// DeleteUnreferenced implements store.ContentStore.
func (c *ContentStore) DeleteUnreferenced(ctx context.Context, id uuid.UUID) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	item, ok := c.s.contents[id]
	if !ok {
		return store.ErrContentNotFound
	}
	for _, t := range c.s.tasks {
		if t.ContentID == id && !t.Status.IsTerminal() {
			return store.ErrContentInUse
		}
	}
	delete(c.s.contents, id)
	delete(c.s.byFingerprint, item.Fingerprint)
	return nil
}
