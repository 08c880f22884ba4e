// Package gemini provides a task.AnalysisEngine backed by Google's Gemini API.
//
// Each task type has an embedded prompt template that asks the model for a
// JSON object. The engine loads the content bytes, renders the prompt, calls
// the model with a JSON response type, and validates that the reply is a JSON
// object before handing it back as the task result.
//
// Rate limiting and unavailable upstreams are reported as task.ErrTransient so
// the worker pool retries them; blocked content and malformed replies fail
// the task.
package gemini
