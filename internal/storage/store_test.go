package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies the indexes created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_chunk_index_document", "idx_turns_conversation", "idx_feedback_events_turn", "idx_jobs_claim"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s: got %d, want 1", idx, count)
		}
	}
}

func TestChunkFTSTableExists(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chunk_fts'").Scan(&count)
	if err != nil {
		t.Fatalf("querying chunk_fts: %v", err)
	}
	if count != 1 {
		t.Errorf("chunk_fts table: got %d, want 1", count)
	}
}

// --- Documents ---

func TestSaveAndGetDocument(t *testing.T) {
	s := openTestStore(t)

	doc := Document{
		ID:         uuid.NewString(),
		Title:      "Runbook",
		SourceType: "markdown",
		Content:    []byte("# Runbook\n\nRestart the thing."),
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != doc.Title {
		t.Errorf("Title: got %q, want %q", got.Title, doc.Title)
	}
	if got.Status != DocPending {
		t.Errorf("Status: got %q, want %q", got.Status, DocPending)
	}
	if got.Version != 1 {
		t.Errorf("Version: got %d, want 1", got.Version)
	}
	if string(got.Content) != string(doc.Content) {
		t.Errorf("Content: got %q, want %q", got.Content, doc.Content)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetDocument("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestReplaceDocumentContent(t *testing.T) {
	s := openTestStore(t)

	id := uuid.NewString()
	if err := s.SaveDocument(Document{ID: id, Title: "v1", SourceType: "text"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.SetDocumentStatus(id, DocIndexed, ""); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}

	v, err := s.ReplaceDocumentContent(id, "v2", "text", []byte("new body"))
	if err != nil {
		t.Fatalf("ReplaceDocumentContent: %v", err)
	}
	if v != 2 {
		t.Errorf("version: got %d, want 2", v)
	}

	got, err := s.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != DocPending {
		t.Errorf("Status after replace: got %q, want %q", got.Status, DocPending)
	}
	if got.Title != "v2" {
		t.Errorf("Title: got %q, want v2", got.Title)
	}
}

func TestSetDocumentStatus_ErrorForcesFailed(t *testing.T) {
	s := openTestStore(t)

	id := uuid.NewString()
	if err := s.SaveDocument(Document{ID: id, Title: "d", SourceType: "text"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.SetDocumentStatus(id, DocIndexed, "embed upstream down"); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}

	got, err := s.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != DocFailed {
		t.Errorf("Status: got %q, want %q", got.Status, DocFailed)
	}
	if got.LastError != "embed upstream down" {
		t.Errorf("LastError: got %q", got.LastError)
	}
}

func TestListDocuments(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		err := s.SaveDocument(Document{ID: fmt.Sprintf("doc-%d", i), Title: fmt.Sprintf("t%d", i), SourceType: "text"})
		if err != nil {
			t.Fatalf("SaveDocument %d: %v", i, err)
		}
	}

	docs, err := s.ListDocuments(10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for _, d := range docs {
		if len(d.Content) != 0 {
			t.Errorf("ListDocuments returned content for %s", d.ID)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	s := openTestStore(t)

	id := uuid.NewString()
	if err := s.SaveDocument(Document{ID: id, Title: "d", SourceType: "text"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.DeleteDocument(id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteDocument(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

// --- Conversations ---

func TestAppendTurnAssignsSequence(t *testing.T) {
	s := openTestStore(t)

	conv, err := s.CreateConversation(uuid.NewString())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for i := 1; i <= 3; i++ {
		turn, err := s.AppendTurn(Turn{
			ID:               uuid.NewString(),
			ConversationID:   conv.ID,
			Question:         fmt.Sprintf("q%d", i),
			ResolvedQuestion: fmt.Sprintf("q%d", i),
			ChunkIDs:         []string{"c1"},
			Answer:           "a",
			Citations:        []string{"c1"},
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		if turn.Seq != i {
			t.Errorf("turn %d: Seq = %d, want %d", i, turn.Seq, i)
		}
	}

	got, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(got.Turns))
	}
	if got.Turns[0].Question != "q1" || got.Turns[2].Question != "q3" {
		t.Errorf("turns out of order: %v", got.Turns)
	}
	if !got.LastActivity.After(conv.LastActivity.Add(-time.Second)) {
		t.Errorf("last_activity not bumped")
	}
}

func TestAppendTurnUnknownConversation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AppendTurn(Turn{ID: uuid.NewString(), ConversationID: "ghost", Question: "q"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGetTurnRoundTrip(t *testing.T) {
	s := openTestStore(t)

	conv, err := s.CreateConversation(uuid.NewString())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	turn, err := s.AppendTurn(Turn{
		ID:               uuid.NewString(),
		ConversationID:   conv.ID,
		Question:         "what broke?",
		ResolvedQuestion: "what broke?",
		ChunkIDs:         []string{"c1", "c2"},
		Answer:           "the pager [S1]",
		Citations:        []string{"c1"},
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	got, err := s.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if len(got.ChunkIDs) != 2 || got.ChunkIDs[1] != "c2" {
		t.Errorf("ChunkIDs: got %v", got.ChunkIDs)
	}
	if len(got.Citations) != 1 || got.Citations[0] != "c1" {
		t.Errorf("Citations: got %v", got.Citations)
	}
}

// --- Feedback ---

func feedbackTurn(t *testing.T, s *Store) Turn {
	t.Helper()
	conv, err := s.CreateConversation(uuid.NewString())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	turn, err := s.AppendTurn(Turn{ID: uuid.NewString(), ConversationID: conv.ID, Question: "q", ResolvedQuestion: "q"})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	return turn
}

func TestSaveFeedbackSupersedes(t *testing.T) {
	s := openTestStore(t)
	turn := feedbackTurn(t, s)

	if err := s.SaveFeedback(Feedback{TurnID: turn.ID, Author: "sam", Kind: "positive"}); err != nil {
		t.Fatalf("first SaveFeedback: %v", err)
	}
	if err := s.SaveFeedback(Feedback{TurnID: turn.ID, Author: "sam", Kind: "negative", Comment: "wrong doc"}); err != nil {
		t.Fatalf("second SaveFeedback: %v", err)
	}

	active, err := s.GetFeedback(turn.ID)
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active feedback rows, want 1", len(active))
	}
	if active[0].Kind != "negative" {
		t.Errorf("Kind: got %q, want negative", active[0].Kind)
	}

	var events int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM feedback_events WHERE turn_id = ?", turn.ID).Scan(&events); err != nil {
		t.Fatalf("counting events: %v", err)
	}
	if events != 2 {
		t.Errorf("feedback_events: got %d, want 2", events)
	}
}

func TestSaveFeedbackUnknownTurn(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveFeedback(Feedback{TurnID: "ghost", Author: "sam", Kind: "positive"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCountFeedback(t *testing.T) {
	s := openTestStore(t)
	t1 := feedbackTurn(t, s)
	t2 := feedbackTurn(t, s)

	if err := s.SaveFeedback(Feedback{TurnID: t1.ID, Author: "a", Kind: "positive"}); err != nil {
		t.Fatalf("SaveFeedback: %v", err)
	}
	if err := s.SaveFeedback(Feedback{TurnID: t2.ID, Author: "a", Kind: "negative"}); err != nil {
		t.Fatalf("SaveFeedback: %v", err)
	}
	if err := s.SaveFeedback(Feedback{TurnID: t2.ID, Author: "b", Kind: "negative"}); err != nil {
		t.Fatalf("SaveFeedback: %v", err)
	}

	counts, err := s.CountFeedback("")
	if err != nil {
		t.Fatalf("CountFeedback: %v", err)
	}
	if counts["positive"] != 1 || counts["negative"] != 2 {
		t.Errorf("counts: got %v, want positive=1 negative=2", counts)
	}

	counts, err = s.CountFeedback("1999-01-01")
	if err != nil {
		t.Fatalf("CountFeedback day: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("counts for past day: got %v, want empty", counts)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "ingest_document", PayloadJSON: `{"document_id":"d1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"ingest_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a job, got nil")
	}
	if claimed.ID != "job-1" {
		t.Errorf("ID: got %q, want job-1", claimed.ID)
	}
	if claimed.Status != "running" {
		t.Errorf("Status: got %q, want running", claimed.Status)
	}

	again, err := s.ClaimNextJob([]string{"ingest_document"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job again: %+v", again)
	}
}

func TestClaimNextJob_RespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-later", Type: "ingest_document", RunAfter: time.Now().Add(time.Hour)}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"ingest_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed future job: %+v", claimed)
	}
}

func TestFailJob_BackoffThenPermanent(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-f", Type: "ingest_document", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if err := s.FailJob("job-f", "boom"); err != nil {
		t.Fatalf("first FailJob: %v", err)
	}
	var status string
	var runAfter string
	if err := s.db.QueryRow("SELECT status, run_after FROM jobs WHERE id = 'job-f'").Scan(&status, &runAfter); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "pending" {
		t.Errorf("status after first failure: got %q, want pending", status)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !ra.After(time.Now().UTC()) {
		t.Errorf("run_after not in the future: %v", ra)
	}

	if err := s.FailJob("job-f", "boom again"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'job-f'").Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "failed" {
		t.Errorf("status after max attempts: got %q, want failed", status)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-c", Type: "ingest_document"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"ingest_document"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("job-c"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'job-c'").Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" {
		t.Errorf("status: got %q, want completed", status)
	}

	if err := s.CompleteJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob unknown: got %v, want ErrNotFound", err)
	}
}
