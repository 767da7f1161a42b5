package retrieval

import (
	"context"
	"database/sql"
	"testing"

	"github.com/mattsre/lore/internal/storage"
)

type seedChunk struct {
	id    string
	docID string
	seq   int
	text  string
	tag   string
	vec   []float32
}

func openTestIndex(t *testing.T, chunks []seedChunk) *SQLiteIndex {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for _, c := range chunks {
		insertChunk(t, s.DB(), c)
	}
	return NewSQLiteIndex(s.DB())
}

func insertChunk(t *testing.T, db *sql.DB, c seedChunk) {
	t.Helper()
	tag := c.tag
	if tag == "" {
		tag = "body"
	}
	_, err := db.Exec(`
		INSERT INTO chunk_index (id, document_id, version, seq, text_chunk, start_offset, end_offset, tag, embedding, created_at)
		VALUES (?, ?, 1, ?, ?, 0, ?, ?, ?, datetime('now'))`,
		c.id, c.docID, c.seq, c.text, len(c.text), tag, EncodeVector(c.vec),
	)
	if err != nil {
		t.Fatalf("inserting chunk %s: %v", c.id, err)
	}
	if _, err := db.Exec(`INSERT INTO chunk_fts (chunk_id, text_chunk) VALUES (?, ?)`, c.id, c.text); err != nil {
		t.Fatalf("inserting fts row %s: %v", c.id, err)
	}
}

func testChunks() []seedChunk {
	return []seedChunk{
		{id: "c1", docID: "doc-a", seq: 0, text: "Deploy via terraform apply from the infra directory.", vec: []float32{1, 0, 0}},
		{id: "c2", docID: "doc-a", seq: 1, text: "Onboarding starts with paperwork and a laptop.", vec: []float32{0, 1, 0}},
		{id: "c3", docID: "doc-b", seq: 0, text: "The lunch menu rotates weekly.", vec: []float32{0, 0, 1}},
	}
}

func TestVectorSearch_RanksByCosine(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.VectorSearch(context.Background(), []float32{0.9, 0.1, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("top hit: got %s, want c1", hits[0].ChunkID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestVectorSearch_ZeroQueryVector(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.VectorSearch(context.Background(), []float32{0, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if hits != nil {
		t.Errorf("got %v, want nil", hits)
	}
}

func TestVectorSearch_DocumentFilter(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.VectorSearch(context.Background(), []float32{0, 0, 1}, 5, Filter{DocumentIDs: []string{"doc-a"}})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID != "doc-a" {
			t.Errorf("filter leaked document %s", h.DocumentID)
		}
	}
}

func TestLexicalSearch_MatchesTerms(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.LexicalSearch(context.Background(), "terraform deploy", 5, Filter{})
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("top hit: got %s, want c1", hits[0].ChunkID)
	}
}

func TestLexicalSearch_NoMatchIsEmpty(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.LexicalSearch(context.Background(), "zeppelin", 5, Filter{})
	if err != nil {
		t.Fatalf("LexicalSearch: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestLexicalSearch_QuotesUserInput(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	// FTS5 operators in the raw query must not cause a syntax error.
	_, err := idx.LexicalSearch(context.Background(), `deploy AND ("NOT* -`, 5, Filter{})
	if err != nil {
		t.Fatalf("LexicalSearch with operator characters: %v", err)
	}
}

func TestGetByIDs(t *testing.T) {
	idx := openTestIndex(t, testChunks())

	hits, err := idx.GetByIDs(context.Background(), []string{"c2", "c3"})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}

	hits, err = idx.GetByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetByIDs nil: %v", err)
	}
	if hits != nil {
		t.Errorf("got %v, want nil", hits)
	}
}

func TestFtsMatchExpr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"deploy", `"deploy"`},
		{"how do I deploy", `"how" OR "do" OR "I" OR "deploy"`},
		{`"quoted" (input)`, `"quoted" OR "input"`},
		{"", ""},
		{"!!!", ""},
	}
	for _, c := range cases {
		if got := ftsMatchExpr(c.in); got != c.want {
			t.Errorf("ftsMatchExpr(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d floats, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
