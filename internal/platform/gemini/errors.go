package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the engine is constructed with incomplete settings.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyContent is returned when the stored content has no text.
	ErrEmptyContent = errors.New("content is empty")

	// ErrContentBlocked is returned when the model refuses the content on safety grounds.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse is returned when the model reply is missing or not a JSON object.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrMissingQuestion is returned for qa tasks without a question.
	ErrMissingQuestion = errors.New("qa task requires a question")
)
