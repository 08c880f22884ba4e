package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
)

// ErrTransient marks an engine failure worth retrying (rate limits,
// unavailable upstreams). Any other engine error fails the task permanently.
var ErrTransient = errors.New("transient engine error")

// Request describes one unit of engine work.
type Request struct {
	TaskID    uuid.UUID
	Type      domain.TaskType
	ContentID uuid.UUID
	Options   json.RawMessage
}

// ProgressFunc reports progress in percent. Implementations must tolerate
// repeated and out-of-order values.
type ProgressFunc func(progress int)

// AnalysisEngine performs the analysis for a task. Execute must return
// promptly once ctx is done.
type AnalysisEngine interface {
	Execute(ctx context.Context, req Request, progress ProgressFunc) (json.RawMessage, error)
}

// EngineFunc adapts a function to AnalysisEngine.
type EngineFunc func(ctx context.Context, req Request, progress ProgressFunc) (json.RawMessage, error)

func (f EngineFunc) Execute(ctx context.Context, req Request, progress ProgressFunc) (json.RawMessage, error) {
	return f(ctx, req, progress)
}

// ContentReader loads stored content bytes for an engine.
type ContentReader interface {
	Open(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// QAOptions are the options accepted by qa tasks.
type QAOptions struct {
	Question string `json:"question"`
}

// EchoEngine is a deterministic local engine used for development and tests.
// It derives results from the content text without calling a model.
type EchoEngine struct {
	content ContentReader
	step    time.Duration
}

// NewEchoEngine creates an EchoEngine that pauses for step between its
// progress reports.
func NewEchoEngine(content ContentReader, step time.Duration) *EchoEngine {
	return &EchoEngine{content: content, step: step}
}

// Execute implements AnalysisEngine.
func (e *EchoEngine) Execute(ctx context.Context, req Request, progress ProgressFunc) (json.RawMessage, error) {
	data, err := e.content.Open(ctx, req.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	text := strings.TrimSpace(string(data))

	for _, p := range []int{25, 50, 75} {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.step):
		}
		progress(p)
	}

	var result any
	switch req.Type {
	case domain.TaskTypeExtract:
		result = map[string]any{
			"text":       text,
			"characters": utf8.RuneCountInString(text),
		}
	case domain.TaskTypeSummarize:
		result = map[string]any{"summary": firstSentence(text)}
	case domain.TaskTypeQA:
		var opts QAOptions
		if len(req.Options) > 0 {
			if err := json.Unmarshal(req.Options, &opts); err != nil {
				return nil, fmt.Errorf("invalid qa options: %w", err)
			}
		}
		if opts.Question == "" {
			return nil, errors.New("qa task requires a question")
		}
		result = map[string]any{"question": opts.Question, "answer": firstSentence(text)}
	case domain.TaskTypeRewrite:
		result = map[string]any{"text": strings.Join(strings.Fields(text), " ")}
	case domain.TaskTypeMindmap:
		children := []map[string]any{}
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				children = append(children, map[string]any{"label": line})
			}
		}
		result = map[string]any{"root": firstSentence(text), "children": children}
	default:
		return nil, fmt.Errorf("unsupported task type %q", req.Type)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return out, nil
}

func firstSentence(text string) string {
	if i := strings.IndexAny(text, ".!?\n"); i >= 0 {
		return strings.TrimSpace(text[:i+1])
	}
	return text
}
