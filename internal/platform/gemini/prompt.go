package gemini

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/task"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// promptData represents the data passed to the prompt templates
type promptData struct {
	Text     string
	Question string
	Style    string
}

// RewriteOptions are the options accepted by rewrite tasks.
type RewriteOptions struct {
	Style string `json:"style"`
}

// buildPrompt renders the template for the task type.
func buildPrompt(taskType domain.TaskType, text string, options json.RawMessage) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	data := promptData{Text: text}

	switch taskType {
	case domain.TaskTypeQA:
		var opts task.QAOptions
		if len(options) > 0 {
			if err := json.Unmarshal(options, &opts); err != nil {
				return "", fmt.Errorf("invalid qa options: %w", err)
			}
		}
		if strings.TrimSpace(opts.Question) == "" {
			return "", ErrMissingQuestion
		}
		data.Question = opts.Question
	case domain.TaskTypeRewrite:
		var opts RewriteOptions
		if len(options) > 0 {
			if err := json.Unmarshal(options, &opts); err != nil {
				return "", fmt.Errorf("invalid rewrite options: %w", err)
			}
		}
		data.Style = opts.Style
	}

	tmpl := prompts.Lookup(string(taskType) + ".tmpl")
	if tmpl == nil {
		return "", fmt.Errorf("no prompt for task type %q", taskType)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
