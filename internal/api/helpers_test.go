package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/api"
	"github.com/phrazzld/docsage-api/internal/api/middleware"
	"github.com/phrazzld/docsage-api/internal/config"
	"github.com/phrazzld/docsage-api/internal/content"
	"github.com/phrazzld/docsage-api/internal/events"
	"github.com/phrazzld/docsage-api/internal/platform/blobstore"
	"github.com/phrazzld/docsage-api/internal/platform/memory"
	"github.com/phrazzld/docsage-api/internal/service"
	"github.com/phrazzld/docsage-api/internal/service/auth"
	"github.com/phrazzld/docsage-api/internal/task"
	"github.com/stretchr/testify/require"
)

const testMaxUpload = 1024

type noopCanceller struct{}

func (noopCanceller) CancelRunning(uuid.UUID) bool { return false }

type testServer struct {
	server *httptest.Server
	jwt    auth.JWTService
	hub    *events.Hub
	store  *memory.Store
	queue  *task.MemoryQueue
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ceiling int) *testServer {
	t.Helper()
	log := discardLogger()

	jwtService, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            "test-secret-that-is-at-least-32-characters",
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	st := memory.NewStore()
	contents := content.NewService(st.Contents(), blobs, content.Config{MaxBytes: testMaxUpload}, log)
	queue := task.NewMemoryQueue(task.QueueConfig{Capacity: 100}, log)
	hub := events.NewHub(8, log)
	orch := service.NewOrchestrator(st, contents, queue, noopCanceller{}, hub,
		service.OrchestratorConfig{QueueCeiling: ceiling}, log)

	authMW := middleware.NewAuthMiddleware(jwtService)
	contentHandler := api.NewContentHandler(contents, testMaxUpload)
	taskHandler := api.NewTaskHandler(orch)
	wsHandler := api.NewWSHandler(hub, api.WSConfig{
		PingInterval: 50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
	})

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware(log))
	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.Authenticate)
		r.Post("/contents", contentHandler.Upload)
		r.Get("/contents", contentHandler.ListContents)
		r.Get("/contents/{id}", contentHandler.GetContent)
		r.Get("/contents/{id}/download", contentHandler.DownloadContent)
		r.Delete("/contents/{id}", contentHandler.DeleteContent)
		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/stats", taskHandler.GetStats)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
	})
	r.With(authMW.AuthenticateQuery).Get("/ws/tasks", wsHandler.Stream)

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		hub.Close()
		queue.Close()
	})

	return &testServer{server: server, jwt: jwtService, hub: hub, store: st, queue: queue}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := s.jwt.GenerateToken(context.Background(), userID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, userID uuid.UUID, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) doJSON(t *testing.T, userID uuid.UUID, method, path string, payload interface{}) *http.Response {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return s.do(t, userID, method, path, "application/json", body)
}

func (s *testServer) upload(t *testing.T, userID uuid.UUID, text string) api.UploadContentResponse {
	t.Helper()
	resp := s.do(t, userID, http.MethodPost, "/api/contents", "text/plain", []byte(text))
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, resp.StatusCode)
	var out api.UploadContentResponse
	decode(t, resp, &out)
	return out
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		TraceID string `json:"trace_id"`
	}
	decode(t, resp, &body)
	return body.Error
}
