package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/store"
)

// PostgresContentStore implements the store.ContentStore interface using PostgreSQL.
type PostgresContentStore struct {
	db store.DBTX
}

var _ store.ContentStore = (*PostgresContentStore)(nil)

// NewPostgresContentStore creates a new PostgresContentStore
func NewPostgresContentStore(db store.DBTX) *PostgresContentStore {
	return &PostgresContentStore{db: db}
}

const contentColumns = `id, fingerprint, owner_id, size_bytes, storage_ref, created_at`

func scanContent(row rowScanner) (*domain.ContentItem, error) {
	var item domain.ContentItem
	if err := row.Scan(
		&item.ID, &item.Fingerprint, &item.OwnerID, &item.SizeBytes, &item.StorageRef, &item.CreatedAt,
	); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

// Create implements store.ContentStore.
func (s *PostgresContentStore) Create(ctx context.Context, item *domain.ContentItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_items (`+contentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.Fingerprint, item.OwnerID, item.SizeBytes, item.StorageRef, item.CreatedAt,
	)
	if err != nil {
		mapped := MapError(err)
		if !store.IsDuplicateError(mapped) {
			logger.FromContext(ctx).Error("failed to create content item",
				"content_id", item.ID,
				"error", err)
		}
		return mapped
	}
	return nil
}

// GetByID implements store.ContentStore.
func (s *PostgresContentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	return s.getOne(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)
}

// GetByFingerprint implements store.ContentStore.
func (s *PostgresContentStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentItem, error) {
	return s.getOne(ctx, `SELECT `+contentColumns+` FROM content_items WHERE fingerprint = $1`, fingerprint)
}

func (s *PostgresContentStore) getOne(ctx context.Context, query string, arg any) (*domain.ContentItem, error) {
	item, err := scanContent(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item: %w", MapError(err))
	}
	return item, nil
}

// ListByOwner implements store.ContentStore.
func (s *PostgresContentStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	page store.Page,
) ([]*domain.ContentItem, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_items WHERE owner_id = $1`, ownerID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count content items: %w", MapError(err))
	}
	if total == 0 {
		return []*domain.ContentItem{}, 0, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM content_items
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		ownerID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list content items: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	items := []*domain.ContentItem{}
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan content item: %w", MapError(err))
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate content items: %w", MapError(err))
	}
	return items, total, nil
}

// DeleteUnreferenced implements store.ContentStore. The reference check and
// the delete are one statement.
func (s *PostgresContentStore) DeleteUnreferenced(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM content_items c
		WHERE c.id = $1
			AND NOT EXISTS (
				SELECT 1 FROM tasks t
				WHERE t.content_id = c.id AND t.status IN ('pending', 'processing')
			)`,
		id)
	if err != nil {
		return fmt.Errorf("failed to delete content item: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check content item: %w", MapError(err))
	}
	if !exists {
		return store.ErrContentNotFound
	}
	return store.ErrContentInUse
}
