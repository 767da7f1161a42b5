package retrieval

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// rrfK is the reciprocal rank fusion constant. 60 is the value from the
// original RRF paper and dampens the advantage of rank-1 results.
const rrfK = 60

// DefaultMinSimilarity is the cosine floor below which vector hits are
// treated as noise.
const DefaultMinSimilarity = 0.25

// Searcher is the index read surface the Retriever depends on.
type Searcher interface {
	VectorSearch(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error)
	LexicalSearch(ctx context.Context, query string, topK int, filter Filter) ([]Hit, error)
	GetByIDs(ctx context.Context, ids []string) ([]Hit, error)
}

// Retriever runs hybrid search: a lexical full-text query and a vector
// similarity query in parallel, fused into one ranking.
type Retriever struct {
	embedder      *Embedder
	index         Searcher
	minSimilarity float64
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithMinSimilarity overrides the cosine floor for vector candidates.
func WithMinSimilarity(min float64) RetrieverOption {
	return func(r *Retriever) { r.minSimilarity = min }
}

// NewRetriever creates a Retriever backed by the given Embedder and index.
func NewRetriever(embedder *Embedder, index Searcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{embedder: embedder, index: index, minSimilarity: DefaultMinSimilarity}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns up to k chunks ranked by fused relevance. An empty result
// is a valid outcome, not an error; errors mean the embedder or the index
// backend failed.
//
// Both branches fetch more than k candidates so fusion has overlap to work
// with; each chunk's fused score is the sum of reciprocal ranks across the
// branches that returned it. Ties break by document then sequence so
// repeated identical queries return identical orderings.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := k * 2
	var vecHits, lexHits []Hit

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.index.VectorSearch(gCtx, vec, fetch, filter)
		if err != nil {
			return &RetrievalError{Op: "vector search", Err: err}
		}
		for _, h := range hits {
			if h.Score >= r.minSimilarity {
				vecHits = append(vecHits, h)
			}
		}
		return nil
	})
	g.Go(func() error {
		hits, err := r.index.LexicalSearch(gCtx, query, fetch, filter)
		if err != nil {
			return &RetrievalError{Op: "lexical search", Err: err}
		}
		lexHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(vecHits, lexHits)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// fuse merges ranked lists with reciprocal rank fusion, de-duplicating by
// chunk ID and keeping each chunk's summed score.
func fuse(lists ...[]Hit) []Hit {
	byID := make(map[string]*Hit)
	var order []string
	for _, list := range lists {
		for rank, h := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if existing, ok := byID[h.ChunkID]; ok {
				existing.Score += contribution
				continue
			}
			h.Score = contribution
			byID[h.ChunkID] = &h
			order = append(order, h.ChunkID)
		}
	}

	fused := make([]Hit, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].DocumentID != fused[j].DocumentID {
			return fused[i].DocumentID < fused[j].DocumentID
		}
		return fused[i].Seq < fused[j].Seq
	})
	return fused
}
