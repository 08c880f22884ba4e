package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/api"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTask(t *testing.T, s *testServer, owner, contentID uuid.UUID, taskType string) (*http.Response, api.CreateTaskResponse) {
	t.Helper()
	resp := s.doJSON(t, owner, http.MethodPost, "/api/tasks", map[string]interface{}{
		"content_id": contentID.String(),
		"type":       taskType,
	})
	var out api.CreateTaskResponse
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		decode(t, resp, &out)
	}
	return resp, out
}

func TestCreateTaskIsIdempotentWhileActive(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	c := s.upload(t, owner, "Some document text.")

	resp, first := createTask(t, s, owner, c.Content.ID, "summarize")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "created", first.Outcome)
	assert.Equal(t, "pending", first.Task.Status)
	assert.Equal(t, c.Content.ID, first.Task.ContentID)

	resp, second := createTask(t, s, owner, c.Content.ID, "summarize")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "existing", second.Outcome)
	assert.Equal(t, first.Task.ID, second.Task.ID)

	depth, err := s.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateTaskReturnsCachedResult(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	c := s.upload(t, owner, "Cached document.")

	_, first := createTask(t, s, owner, c.Content.ID, "extract")
	ctx := context.Background()
	_, err := s.store.Transition(ctx, first.Task.ID, store.TransitionRequest{
		From:         []domain.TaskStatus{domain.TaskStatusPending},
		To:           domain.TaskStatusProcessing,
		ClaimAttempt: true,
	})
	require.NoError(t, err)
	_, err = s.store.Transition(ctx, first.Task.ID, store.TransitionRequest{
		From:   []domain.TaskStatus{domain.TaskStatusProcessing},
		To:     domain.TaskStatusCompleted,
		Result: []byte(`{"entities":[]}`),
	})
	require.NoError(t, err)

	resp, cached := createTask(t, s, owner, c.Content.ID, "extract")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cached", cached.Outcome)
	assert.Equal(t, first.Task.ID, cached.Task.ID)
	assert.JSONEq(t, `{"entities":[]}`, string(cached.Task.Result))

	resp = s.doJSON(t, owner, http.MethodPost, "/api/tasks", map[string]interface{}{
		"content_id": c.Content.ID.String(),
		"type":       "extract",
		"force":      true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var forced api.CreateTaskResponse
	decode(t, resp, &forced)
	assert.NotEqual(t, first.Task.ID, forced.Task.ID)
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	c := s.upload(t, owner, "Validation document.")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"content_id":`, http.StatusBadRequest},
		{"unknown field", `{"content_id":"` + c.Content.ID.String() + `","type":"qa","extra":1}`, http.StatusBadRequest},
		{"missing type", `{"content_id":"` + c.Content.ID.String() + `"}`, http.StatusBadRequest},
		{"unsupported type", `{"content_id":"` + c.Content.ID.String() + `","type":"translate"}`, http.StatusBadRequest},
		{"invalid content id", `{"content_id":"abc","type":"qa"}`, http.StatusBadRequest},
		{"qa without question", `{"content_id":"` + c.Content.ID.String() + `","type":"qa"}`, http.StatusBadRequest},
		{"options not an object", `{"content_id":"` + c.Content.ID.String() + `","type":"rewrite","options":[1]}`, http.StatusBadRequest},
		{"unknown content", `{"content_id":"` + uuid.NewString() + `","type":"summarize"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.do(t, owner, http.MethodPost, "/api/tasks", "application/json", []byte(tc.body))
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestCreateTaskQueueSaturated(t *testing.T) {
	s := newTestServer(t, 1)
	owner := uuid.New()
	a := s.upload(t, owner, "first document")
	b := s.upload(t, owner, "second document")

	resp, _ := createTask(t, s, owner, a.Content.ID, "summarize")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = createTask(t, s, owner, b.Content.ID, "summarize")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGetTaskHidesOtherOwners(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	c := s.upload(t, owner, "Private document.")
	_, created := createTask(t, s, owner, c.Content.ID, "mindmap")

	resp := s.do(t, owner, http.MethodGet, "/api/tasks/"+created.Task.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got api.TaskResponse
	decode(t, resp, &got)
	assert.Equal(t, "mindmap", got.Type)

	resp = s.do(t, uuid.New(), http.MethodGet, "/api/tasks/"+created.Task.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", decodeError(t, resp))
}

func TestListTasks(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	for i, text := range []string{"one", "two", "three"} {
		c := s.upload(t, owner, strings.Repeat(text, i+1))
		resp, _ := createTask(t, s, owner, c.Content.ID, "summarize")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	c := s.upload(t, owner, "extract me")
	createTask(t, s, owner, c.Content.ID, "extract")

	resp := s.do(t, owner, http.MethodGet, "/api/tasks?type=summarize&page=1&page_size=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page api.TaskListResponse
	decode(t, resp, &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Tasks, 2)

	resp = s.do(t, owner, http.MethodGet, "/api/tasks?status=pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &page)
	assert.Equal(t, 4, page.Total)

	resp = s.do(t, owner, http.MethodGet, "/api/tasks?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, owner, http.MethodGet, "/api/tasks?page=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	c := s.upload(t, owner, "Cancel me.")
	_, created := createTask(t, s, owner, c.Content.ID, "rewrite")

	path := "/api/tasks/" + created.Task.ID.String() + "/cancel"
	resp := s.do(t, uuid.New(), http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, owner, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled api.TaskResponse
	decode(t, resp, &cancelled)
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "cancelled", cancelled.Error.Kind)

	resp = s.do(t, owner, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTaskStats(t *testing.T) {
	s := newTestServer(t, 10)
	owner := uuid.New()
	a := s.upload(t, owner, "stats one")
	b := s.upload(t, owner, "stats two")
	createTask(t, s, owner, a.Content.ID, "summarize")
	_, second := createTask(t, s, owner, b.Content.ID, "summarize")
	s.do(t, owner, http.MethodPost, "/api/tasks/"+second.Task.ID.String()+"/cancel", "", nil)

	resp := s.do(t, owner, http.MethodGet, "/api/tasks/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats api.StatsResponse
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 2, stats.Total)
}
