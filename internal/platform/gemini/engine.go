package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/docsage-api/internal/config"
	"github.com/phrazzld/docsage-api/internal/task"
	"google.golang.org/genai"
)

// generator is the subset of genai.Models the engine calls.
type generator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Engine implements task.AnalysisEngine with the Gemini API.
type Engine struct {
	models  generator
	model   string
	content task.ContentReader
	logger  *slog.Logger
}

var _ task.AnalysisEngine = (*Engine)(nil)

// NewEngine creates an Engine with a Gemini API client.
func NewEngine(
	ctx context.Context,
	cfg config.LLMConfig,
	content task.ContentReader,
	logger *slog.Logger,
) (*Engine, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return newEngine(client.Models, cfg.ModelName, content, logger), nil
}

func newEngine(models generator, model string, content task.ContentReader, logger *slog.Logger) *Engine {
	return &Engine{
		models:  models,
		model:   model,
		content: content,
		logger:  logger.With("component", "gemini_engine", "model", model),
	}
}

// Execute implements task.AnalysisEngine.
func (e *Engine) Execute(ctx context.Context, req task.Request, progress task.ProgressFunc) (json.RawMessage, error) {
	data, err := e.content.Open(ctx, req.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	progress(10)

	prompt, err := buildPrompt(req.Type, string(data), req.Options)
	if err != nil {
		return nil, err
	}
	progress(20)

	e.logger.DebugContext(ctx, "calling model",
		"task_id", req.TaskID,
		"task_type", req.Type,
		"prompt_length", len(prompt))

	resp, err := e.models.GenerateContent(ctx, e.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	progress(90)

	result, err := parseResponse(resp)
	if err != nil {
		e.logger.WarnContext(ctx, "model reply rejected",
			"task_id", req.TaskID,
			"error", err)
		return nil, err
	}
	return result, nil
}

// classify maps API failures onto the engine error contract.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: gemini returned %d: %s", task.ErrTransient, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("gemini returned %d: %s", apiErr.Code, apiErr.Message)
	}
	// Transport failures never reached the model.
	return fmt.Errorf("%w: gemini request failed: %v", task.ErrTransient, err)
}

func parseResponse(resp *genai.GenerateContentResponse) (json.RawMessage, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: %s", ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}

	text := strings.TrimSpace(resp.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	text = strings.TrimSpace(text)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: reply is not a JSON object: %v", ErrInvalidResponse, err)
	}
	return json.RawMessage(text), nil
}
