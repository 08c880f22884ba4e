package content_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/content"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/blobstore"
	"github.com/phrazzld/docsage-api/internal/platform/memory"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, items store.ContentStore, blobs content.BlobStore) *content.Service {
	t.Helper()
	return content.NewService(items, blobs, content.Config{MaxBytes: 1024}, testLogger())
}

func newFileBlobs(t *testing.T) *blobstore.FileStore {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	return blobs
}

func TestPutDeduplicatesByFingerprint(t *testing.T) {
	mem := memory.NewStore()
	svc := newService(t, mem.Contents(), newFileBlobs(t))
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first, isNew, err := svc.Put(ctx, []byte("annual report"), alice)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, domain.Fingerprint([]byte("annual report")), first.Fingerprint)
	assert.Equal(t, int64(len("annual report")), first.SizeBytes)

	second, isNew, err := svc.Put(ctx, []byte("annual report"), bob)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, alice, second.OwnerID, "the first uploader keeps ownership")

	data, err := svc.Open(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("annual report"), data)
}

func TestPutConcurrentUploadsCreateOneItem(t *testing.T) {
	mem := memory.NewStore()
	svc := newService(t, mem.Contents(), newFileBlobs(t))

	const uploaders = 16
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, uploaders)
	created := make([]bool, uploaders)
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, isNew, err := svc.Put(context.Background(), []byte("same bytes"), uuid.New())
			if assert.NoError(t, err) {
				ids[i], created[i] = item.ID, isNew
			}
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount)
}

func TestPutValidation(t *testing.T) {
	svc := newService(t, memory.NewStore().Contents(), newFileBlobs(t))
	ctx := context.Background()

	_, _, err := svc.Put(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	_, _, err = svc.Put(ctx, make([]byte, 2048), uuid.New())
	assert.ErrorIs(t, err, content.ErrContentTooLarge)
}

type failingBlobs struct{ content.BlobStore }

func (failingBlobs) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestPutBlobFailureStoresNothing(t *testing.T) {
	mem := memory.NewStore()
	svc := newService(t, mem.Contents(), failingBlobs{})

	_, _, err := svc.Put(context.Background(), []byte("doc"), uuid.New())
	assert.ErrorIs(t, err, content.ErrStorageUnavailable)

	_, err = mem.Contents().GetByFingerprint(context.Background(), domain.Fingerprint([]byte("doc")))
	assert.ErrorIs(t, err, store.ErrContentNotFound)
}

type failingIndex struct{ store.ContentStore }

func (failingIndex) Create(context.Context, *domain.ContentItem) error {
	return errors.New("connection reset")
}

type recordingBlobs struct {
	*blobstore.FileStore
	deleted []string
}

func (r *recordingBlobs) Delete(ctx context.Context, ref string) error {
	r.deleted = append(r.deleted, ref)
	return r.FileStore.Delete(ctx, ref)
}

func TestPutIndexFailureRollsBackBlob(t *testing.T) {
	blobs := &recordingBlobs{FileStore: newFileBlobs(t)}
	svc := newService(t, failingIndex{memory.NewStore().Contents()}, blobs)

	_, _, err := svc.Put(context.Background(), []byte("doc"), uuid.New())
	assert.ErrorIs(t, err, content.ErrStorageUnavailable)

	require.Len(t, blobs.deleted, 1)
	_, err = blobs.Get(context.Background(), blobs.deleted[0])
	assert.ErrorIs(t, err, blobstore.ErrBlobNotFound)
}

// racingIndex simulates another process indexing the fingerprint between
// this service's lookup and its write.
type racingIndex struct {
	store.ContentStore
	winner *domain.ContentItem
}

func (r racingIndex) Create(ctx context.Context, item *domain.ContentItem) error {
	if err := r.ContentStore.Create(ctx, r.winner); err != nil {
		return err
	}
	return r.ContentStore.Create(ctx, item)
}

func TestPutLosingIndexRaceReturnsWinner(t *testing.T) {
	data := []byte("contested")
	winner, err := domain.NewContentItem(uuid.New(), data)
	require.NoError(t, err)
	winner.StorageRef = "elsewhere"

	svc := newService(t, racingIndex{ContentStore: memory.NewStore().Contents(), winner: winner}, newFileBlobs(t))

	got, isNew, err := svc.Put(context.Background(), data, uuid.New())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, winner.ID, got.ID)
}

func TestDelete(t *testing.T) {
	mem := memory.NewStore()
	blobs := newFileBlobs(t)
	svc := newService(t, mem.Contents(), blobs)
	ctx := context.Background()
	owner := uuid.New()

	item, _, err := svc.Put(ctx, []byte("to delete"), owner)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, item.ID, uuid.New()), store.ErrContentNotFound)

	tk, err := domain.NewTask(owner, item.ID, domain.TaskTypeExtract, nil)
	require.NoError(t, err)
	require.NoError(t, mem.Create(ctx, tk))
	assert.ErrorIs(t, svc.Delete(ctx, item.ID, owner), store.ErrContentInUse)

	_, err = mem.Transition(ctx, tk.ID, store.TransitionRequest{
		From:  domain.ActiveStatuses,
		To:    domain.TaskStatusCancelled,
		Error: &domain.TaskError{Kind: domain.ErrorKindCancelled},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, item.ID, owner))
	_, err = svc.Get(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrContentNotFound)
	_, err = blobs.Get(ctx, item.StorageRef)
	assert.ErrorIs(t, err, blobstore.ErrBlobNotFound)

	// Re-uploading after delete creates a fresh item.
	again, isNew, err := svc.Put(ctx, []byte("to delete"), owner)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, item.ID, again.ID)
}

// interruptedIndex fails the caller's write after another writer has
// indexed the same fingerprint.
type interruptedIndex struct {
	store.ContentStore
	winner *domain.ContentItem
}

func (r interruptedIndex) Create(ctx context.Context, item *domain.ContentItem) error {
	if err := r.ContentStore.Create(ctx, r.winner); err != nil {
		return err
	}
	return errors.New("connection reset")
}

func TestPutIndexFailureKeepsBlobOfConcurrentWinner(t *testing.T) {
	data := []byte("shared blob")
	winner, err := domain.NewContentItem(uuid.New(), data)
	require.NoError(t, err)

	blobs := &recordingBlobs{FileStore: newFileBlobs(t)}
	svc := newService(t, interruptedIndex{ContentStore: memory.NewStore().Contents(), winner: winner}, blobs)

	_, _, err = svc.Put(context.Background(), data, uuid.New())
	assert.ErrorIs(t, err, content.ErrStorageUnavailable)
	assert.Empty(t, blobs.deleted)
}

func TestPutAcrossInstancesSeesDeletion(t *testing.T) {
	mem := memory.NewStore()
	blobs := newFileBlobs(t)
	first := newService(t, mem.Contents(), blobs)
	second := newService(t, mem.Contents(), blobs)
	ctx := context.Background()
	owner := uuid.New()

	item, isNew, err := first.Put(ctx, []byte("doc"), owner)
	require.NoError(t, err)
	require.True(t, isNew)

	// Warm the second instance's fingerprint cache.
	cached, isNew, err := second.Put(ctx, []byte("doc"), uuid.New())
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, item.ID, cached.ID)

	require.NoError(t, first.Delete(ctx, item.ID, owner))

	again, isNew, err := second.Put(ctx, []byte("doc"), owner)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, item.ID, again.ID)

	got, err := second.Get(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, again.Fingerprint, got.Fingerprint)
	data, err := first.Open(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), data)
}

func TestList(t *testing.T) {
	mem := memory.NewStore()
	svc := newService(t, mem.Contents(), newFileBlobs(t))
	ctx := context.Background()
	owner := uuid.New()

	for _, body := range []string{"one", "two", "three"} {
		_, _, err := svc.Put(ctx, []byte(body), owner)
		require.NoError(t, err)
	}
	_, _, err := svc.Put(ctx, []byte("four"), uuid.New())
	require.NoError(t, err)

	items, total, err := svc.List(ctx, owner, store.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, owner, item.OwnerID)
	}
}
