package retrieval

import "fmt"

// EmbeddingError marks a failure to produce a vector for one text. It is
// retryable unless Err says otherwise (empty input, oversized input).
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RetrievalError marks a search backend failure. "No results" is never a
// RetrievalError; an empty result set is a valid outcome.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
