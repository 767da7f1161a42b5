package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mattsre/lore/internal/engine"
)

// maxEmbedChars bounds the input size sent to the embedding model.
const maxEmbedChars = 8192

// Embedder wraps an Engine to generate text embeddings of a fixed dimension.
type Embedder struct {
	engine engine.Engine
	model  string
	dims   int
	retry  engine.RetryConfig
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// dims is the vector dimensionality the index expects; vectors of any other
// length are rejected.
func NewEmbedder(e engine.Engine, model string, dims int) *Embedder {
	return &Embedder{engine: e, model: model, dims: dims, retry: engine.DefaultRetryConfig()}
}

// Dims returns the vector dimensionality this Embedder enforces.
func (e *Embedder) Dims() int { return e.dims }

// Embed returns the embedding vector for a single text. Transient upstream
// failures are retried with backoff before the error is surfaced.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EmbeddingError{Err: errors.New("empty text")}
	}
	if len(text) > maxEmbedChars {
		return nil, &EmbeddingError{Err: fmt.Errorf("text length %d exceeds limit %d", len(text), maxEmbedChars)}
	}

	var vec []float32
	err := engine.Retry(ctx, e.retry, func(ctx context.Context) error {
		var embedErr error
		vec, embedErr = e.engine.Embed(ctx, e.model, text)
		return embedErr
	})
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if e.dims > 0 && len(vec) != e.dims {
		return nil, &EmbeddingError{Err: fmt.Errorf("model returned %d dimensions, index expects %d", len(vec), e.dims)}
	}
	return vec, nil
}

// BatchFailure reports one failed item of a batch by its input index.
type BatchFailure struct {
	Index int
	Err   error
}

// BatchResult holds the outcome of EmbedBatch. Vectors has the same length
// and order as the input; entries for failed items are nil and listed in
// Failed so the caller can retry only those.
type BatchResult struct {
	Vectors [][]float32
	Failed  []BatchFailure
}

// Ok reports whether every item embedded successfully.
func (r BatchResult) Ok() bool { return len(r.Failed) == 0 }

// EmbedBatch embeds multiple texts concurrently. Individual failures do not
// abort the batch; they are collected in the result. Only context
// cancellation returns an error.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (BatchResult, error) {
	res := BatchResult{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return res, nil
	}

	failures := make([]error, len(texts))
	g := new(errgroup.Group)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vec, err := e.Embed(ctx, text)
			if err != nil {
				failures[i] = err
				return nil
			}
			res.Vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	for i, err := range failures {
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, Err: err})
		}
	}
	return res, nil
}
