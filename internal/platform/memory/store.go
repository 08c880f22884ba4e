// Package memory provides in-process implementations of the store interfaces.
// They back the test suites and single-node deployments that run without
// PostgreSQL, and honour the same compare-and-swap contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/store"
)

// Store holds tasks and content items behind a single lock so that
// DeleteUnreferenced can inspect tasks atomically. Store itself is the
// task store; Contents returns the content view.
type Store struct {
	mu            sync.RWMutex
	tasks         map[uuid.UUID]*domain.Task
	contents      map[uuid.UUID]*domain.ContentItem
	byFingerprint map[string]uuid.UUID
	now           func() time.Time
}

var _ store.TaskStore = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		tasks:         make(map[uuid.UUID]*domain.Task),
		contents:      make(map[uuid.UUID]*domain.ContentItem),
		byFingerprint: make(map[string]uuid.UUID),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create implements store.TaskStore.
func (s *Store) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	if !task.Status.IsTerminal() {
		if t := s.findActiveLocked(task.OwnerID, task.ContentID, task.Type); t != nil {
			return store.ErrActiveTaskExists
		}
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get implements store.TaskStore.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// List implements store.TaskStore.
func (s *Store) List(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.TaskFilter,
	page store.Page,
) ([]*domain.Task, int, error) {
	s.mu.RLock()
	var matched []*domain.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := page.Offset()
	if start >= total {
		return []*domain.Task{}, total, nil
	}
	end := total
	if page.Size > 0 && start+page.Size < total {
		end = start + page.Size
	}
	return matched[start:end], total, nil
}

// FindActive implements store.TaskStore.
func (s *Store) FindActive(
	ctx context.Context,
	ownerID, contentID uuid.UUID,
	taskType domain.TaskType,
) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.findActiveLocked(ownerID, contentID, taskType); t != nil {
		return t.Clone(), nil
	}
	return nil, store.ErrTaskNotFound
}

func (s *Store) findActiveLocked(ownerID, contentID uuid.UUID, taskType domain.TaskType) *domain.Task {
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && t.ContentID == contentID && t.Type == taskType && !t.Status.IsTerminal() {
			return t
		}
	}
	return nil
}

// FindLatestCompleted implements store.TaskStore.
func (s *Store) FindLatestCompleted(
	ctx context.Context,
	ownerID, contentID uuid.UUID,
	taskType domain.TaskType,
) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || t.ContentID != contentID || t.Type != taskType ||
			t.Status != domain.TaskStatusCompleted {
			continue
		}
		if latest == nil || t.CompletedAt.After(*latest.CompletedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, store.ErrTaskNotFound
	}
	return latest.Clone(), nil
}

// Transition implements store.TaskStore.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, req store.TransitionRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !req.Allows(t.Status, t.DispatchToken) || !domain.CanTransition(t.Status, req.To) {
		return nil, fmt.Errorf("%w: task %s is %s", store.ErrTransitionConflict, id, t.Status)
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	applyTransition(t, req, at)
	return t.Clone(), nil
}

// applyTransition mutates t according to req. Callers hold the lock.
func applyTransition(t *domain.Task, req store.TransitionRequest, at time.Time) {
	t.Status = req.To
	t.UpdatedAt = at
	if req.ClaimAttempt {
		t.Attempts++
	}
	switch req.To {
	case domain.TaskStatusProcessing:
		if t.StartedAt == nil {
			started := at
			t.StartedAt = &started
		}
	case domain.TaskStatusCompleted:
		t.Progress = 100
		t.Result = append([]byte(nil), req.Result...)
		t.Error = nil
	case domain.TaskStatusFailed, domain.TaskStatusCancelled:
		t.Result = nil
		if req.Error != nil {
			e := *req.Error
			t.Error = &e
		}
	}
	if req.To.IsTerminal() {
		completed := at
		t.CompletedAt = &completed
	}
}

// DiscardPending implements store.TaskStore.
func (s *Store) DiscardPending(ctx context.Context, id uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusPending || t.DispatchToken != token {
		return fmt.Errorf("%w: task %s is %s", store.ErrTransitionConflict, id, t.Status)
	}
	delete(s.tasks, id)
	return nil
}

// UpdateProgress implements store.TaskStore.
func (s *Store) UpdateProgress(
	ctx context.Context,
	id uuid.UUID,
	token string,
	progress int,
) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing || t.DispatchToken != token {
		return nil, fmt.Errorf("%w: task %s is %s", store.ErrTransitionConflict, id, t.Status)
	}
	progress = domain.ClampProgress(progress)
	if progress > t.Progress {
		t.Progress = progress
	}
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// ListByStatus implements store.TaskStore.
func (s *Store) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	return s.collect(func(t *domain.Task) bool { return t.Status == status }), nil
}

// ListStale implements store.TaskStore.
func (s *Store) ListStale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := s.now().Add(-olderThan)
	return s.collect(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusProcessing && t.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *Store) collect(match func(*domain.Task) bool) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CountByStatus implements store.TaskStore.
func (s *Store) CountByStatus(ctx context.Context, ownerID uuid.UUID) (map[domain.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			counts[t.Status]++
		}
	}
	return counts, nil
}
