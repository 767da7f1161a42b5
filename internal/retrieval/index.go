package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Hit is one chunk returned from the index, with its score. The score's
// meaning depends on the search that produced it: cosine similarity for
// vector search, bm25-derived relevance for lexical search, fused rank score
// after merging.
type Hit struct {
	ChunkID    string
	DocumentID string
	Version    int
	Seq        int
	Text       string
	Start      int
	End        int
	Tag        string
	Score      float64
}

// Filter restricts a search to a subset of the index. Zero value matches
// everything.
type Filter struct {
	DocumentIDs []string
	Tag         string
}

// SQLiteIndex reads the chunk_index and chunk_fts tables. Vector search is a
// brute-force cosine scan; good enough until the chunk count reaches the low
// hundreds of thousands. Writes go through the index writer, not here.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for search operations. The chunk
// tables must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// DB exposes the underlying connection for the index writer.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

const hitColumns = "id, document_id, version, seq, text_chunk, start_offset, end_offset, tag"

func scanHit(rows *sql.Rows) (Hit, error) {
	var h Hit
	err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Version, &h.Seq, &h.Text, &h.Start, &h.End, &h.Tag)
	return h, err
}

func (f Filter) clause(args *[]interface{}) string {
	var parts []string
	if len(f.DocumentIDs) > 0 {
		parts = append(parts, "document_id IN (?"+strings.Repeat(",?", len(f.DocumentIDs)-1)+")")
		for _, id := range f.DocumentIDs {
			*args = append(*args, id)
		}
	}
	if f.Tag != "" {
		parts = append(parts, "tag = ?")
		*args = append(*args, f.Tag)
	}
	if len(parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

// idScore holds only the ID and score during the scan phase of VectorSearch.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float64
}

type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// VectorSearch performs brute-force cosine similarity search over all stored
// vectors, returning the top-K most similar chunks, score descending.
func (s *SQLiteIndex) VectorSearch(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	var args []interface{}
	query := "SELECT id, embedding FROM chunk_index" + filter.clause(&args)

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float64, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	// Phase 2: fetch full rows only for the winners.
	hits, err := s.GetByIDs(ctx, topIDs)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = scores[hits[i].ChunkID]
	}
	sortHitsByScore(hits)
	return hits, nil
}

// LexicalSearch runs an FTS5 full-text query over chunk text, returning the
// top-K matches, score descending. Query terms are quoted so user input is
// never interpreted as FTS5 syntax.
func (s *SQLiteIndex) LexicalSearch(ctx context.Context, query string, topK int, filter Filter) ([]Hit, error) {
	match := ftsMatchExpr(query)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	args := []interface{}{match}
	var where string
	if len(filter.DocumentIDs) > 0 {
		where += " AND c.document_id IN (?" + strings.Repeat(",?", len(filter.DocumentIDs)-1) + ")"
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	if filter.Tag != "" {
		where += " AND c.tag = ?"
		args = append(args, filter.Tag)
	}
	args = append(args, topK)

	q := `SELECT c.id, c.document_id, c.version, c.seq, c.text_chunk, c.start_offset, c.end_offset, c.tag, bm25(chunk_fts) AS rank
		FROM chunk_fts
		JOIN chunk_index c ON c.id = chunk_fts.chunk_id
		WHERE chunk_fts MATCH ?` + where + `
		ORDER BY rank ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Version, &h.Seq, &h.Text, &h.Start, &h.End, &h.Tag, &rank); err != nil {
			return nil, fmt.Errorf("scanning fts row: %w", err)
		}
		// bm25() returns lower-is-better; negate so higher is better.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetByIDs returns chunks matching the given IDs, without scores.
func (s *SQLiteIndex) GetByIDs(ctx context.Context, ids []string) ([]Hit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT " + hitColumns + " FROM chunk_index WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by IDs: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h, err := scanHit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of chunks in the index.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_index").Scan(&count)
	return count, err
}

// ftsMatchExpr builds an FTS5 MATCH expression from free-form query text.
// Each term is double-quoted; terms are OR-ed for recall, bm25 handles
// precision.
func ftsMatchExpr(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " OR ")
}

// sortHitsByScore sorts hits by Score descending. Used for small slices (topK).
func sortHitsByScore(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

// EncodeVector serializes a float32 slice to little-endian bytes for storage.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity between a and b given a's precomputed
// norm. Mismatched lengths score zero.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bSum float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSum += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bSum)
	if bNorm == 0 || aNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}
