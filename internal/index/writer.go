package index

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mattsre/lore/internal/retrieval"
)

// ConsistencyError signals that an upsert would interleave with a newer
// already-committed version of the same document. Writes for that document
// must stop until the caller re-reads the registry.
type ConsistencyError struct {
	DocumentID string
	Committed  int
	Incoming   int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("document %s: index holds version %d, refusing stale version %d",
		e.DocumentID, e.Committed, e.Incoming)
}

// Record is one chunk ready for indexing. Vector must be populated; the
// writer refuses batches containing empty vectors.
type Record struct {
	DocumentID string
	Version    int
	Seq        int
	Text       string
	Start      int
	End        int
	Tag        string
	Vector     []float32
}

// ChunkID derives the deterministic index row ID for a (document, version,
// seq) triple. Re-submitting the same batch overwrites the same rows instead
// of duplicating them.
func ChunkID(documentID string, version, seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d:%d", documentID, version, seq))).String()
}

// Writer commits chunk batches to the search index. All writes for one
// document are serialized through a per-document lock, and each version swap
// happens in a single transaction: readers see either the fully-old or
// fully-new record set, never a mix.
type Writer struct {
	db    *sql.DB
	locks sync.Map // document ID -> *sync.Mutex
}

// NewWriter wraps an existing *sql.DB for index writes.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) lock(documentID string) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(documentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Upsert commits a document version's records and removes any prior
// version's records in the same transaction. Returns the number of records
// committed. All records must share documentID and version; a batch holding
// a version older than what the index already has fails with
// ConsistencyError.
func (w *Writer) Upsert(ctx context.Context, documentID string, version int, records []Record) (int, error) {
	for _, r := range records {
		if r.DocumentID != documentID || r.Version != version {
			return 0, fmt.Errorf("record seq %d belongs to %s v%d, batch is %s v%d",
				r.Seq, r.DocumentID, r.Version, documentID, version)
		}
		if len(r.Vector) == 0 {
			return 0, fmt.Errorf("record seq %d has empty vector", r.Seq)
		}
	}

	mu := w.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var committed sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM chunk_index WHERE document_id = ?`, documentID,
	).Scan(&committed); err != nil {
		return 0, fmt.Errorf("checking committed version: %w", err)
	}
	if committed.Valid && int(committed.Int64) > version {
		return 0, &ConsistencyError{DocumentID: documentID, Committed: int(committed.Int64), Incoming: version}
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunk_index (id, document_id, version, seq, text_chunk, start_offset, end_offset, tag, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer insert.Close()

	for _, r := range records {
		id := ChunkID(documentID, version, r.Seq)
		blob := retrieval.EncodeVector(r.Vector)
		if _, err := insert.ExecContext(ctx, id, documentID, version, r.Seq, r.Text, r.Start, r.End, r.Tag, blob); err != nil {
			return 0, fmt.Errorf("inserting record seq %d: %w", r.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_fts WHERE chunk_id = ?`, id); err != nil {
			return 0, fmt.Errorf("clearing fts row seq %d: %w", r.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_fts (chunk_id, text_chunk) VALUES (?, ?)`, id, r.Text); err != nil {
			return 0, fmt.Errorf("inserting fts row seq %d: %w", r.Seq, err)
		}
	}

	// New records are in place; now drop the stale version's rows.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_fts WHERE chunk_id IN
			(SELECT id FROM chunk_index WHERE document_id = ? AND version <> ?)`,
		documentID, version); err != nil {
		return 0, fmt.Errorf("deleting stale fts rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_index WHERE document_id = ? AND version <> ?`,
		documentID, version); err != nil {
		return 0, fmt.Errorf("deleting stale records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return len(records), nil
}

// DeleteDocument removes all index records for a document.
func (w *Writer) DeleteDocument(ctx context.Context, documentID string) error {
	mu := w.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_fts WHERE chunk_id IN
			(SELECT id FROM chunk_index WHERE document_id = ?)`, documentID); err != nil {
		return fmt.Errorf("deleting fts rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_index WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return tx.Commit()
}
