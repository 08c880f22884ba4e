// Package client is a Go client for the document analysis API. Besides the
// REST calls it offers Watch, which follows task updates over the WebSocket
// channel and degrades to polling when the channel stays unavailable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/api"
)

// Default watch tuning.
const (
	DefaultReconnectBase  = 500 * time.Millisecond
	DefaultReconnectMax   = 30 * time.Second
	DefaultMaxReconnects  = 5
	DefaultPollInterval   = 5 * time.Second
	DefaultReadTimeout    = 90 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("api error %d: %s (trace %s)", e.StatusCode, e.Message, e.TraceID)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client calls the API as one user, identified by Token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// ReconnectBase and ReconnectMax bound the exponential backoff between
	// WebSocket reconnects. MaxReconnects is the number of consecutive
	// failed reconnects after which Watch falls back to polling.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxReconnects uint64

	// PollInterval is the ListTasks interval once Watch is polling.
	PollInterval time.Duration

	// ReadTimeout drops a silent WebSocket connection. It must exceed the
	// server ping interval.
	ReadTimeout time.Duration

	Logger *slog.Logger
}

// New creates a Client with default settings.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Token:         token,
		HTTP:          &http.Client{Timeout: defaultRequestTimeout},
		ReconnectBase: DefaultReconnectBase,
		ReconnectMax:  DefaultReconnectMax,
		MaxReconnects: DefaultMaxReconnects,
		PollInterval:  DefaultPollInterval,
		ReadTimeout:   DefaultReadTimeout,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ListOptions filters and pages ListTasks. Zero values use server defaults.
type ListOptions struct {
	Status   string
	Type     string
	Page     int
	PageSize int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// UploadContent stores data and returns the content item. IsNew is false
// when identical content already existed.
func (c *Client) UploadContent(ctx context.Context, data []byte) (*api.UploadContentResponse, error) {
	var out api.UploadContentResponse
	if err := c.do(ctx, http.MethodPost, "/api/contents", "application/octet-stream", bytes.NewReader(data), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContents returns a page of the content the caller uploaded first.
// Status and Type in opts are ignored.
func (c *Client) ListContents(ctx context.Context, opts ListOptions) (*api.ContentListResponse, error) {
	opts.Status, opts.Type = "", ""
	var out api.ContentListResponse
	if err := c.do(ctx, http.MethodGet, "/api/contents"+opts.query(), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadContent returns the stored bytes of a content item.
func (c *Client) DownloadContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var out []byte
	if err := c.do(ctx, http.MethodGet, "/api/contents/"+id.String()+"/download", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTask requests analysis of stored content.
func (c *Client) CreateTask(ctx context.Context, req api.CreateTaskRequest) (*api.CreateTaskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var out api.CreateTaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (*api.TaskResponse, error) {
	var out api.TaskResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id.String(), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns a page of the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (*api.TaskListResponse, error) {
	var out api.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks"+opts.query(), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask cancels an active task and returns its final state.
func (c *Client) CancelTask(ctx context.Context, id uuid.UUID) (*api.TaskResponse, error) {
	var out api.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id.String()+"/cancel", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			TraceID string `json:"trace_id"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Error
			apiErr.TraceID = payload.TraceID
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
