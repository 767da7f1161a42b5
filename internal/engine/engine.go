package engine

import "context"

// Engine abstracts the language model backend. Both the embedding path and
// the answer/resolution path go through this interface so tests can
// substitute fakes without a running backend.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
