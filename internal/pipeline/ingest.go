package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattsre/lore/internal/chunker"
	"github.com/mattsre/lore/internal/index"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
)

// JobIngestDocument is the queue type for document indexing jobs.
const JobIngestDocument = "ingest_document"

// IngestPayload is the JSON body of an ingest_document job.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

// EnqueueIngest queues an indexing job for the document.
func EnqueueIngest(store JobStore, documentID string) error {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobIngestDocument,
		PayloadJSON: string(payload),
	})
}

// JobStore abstracts the job queue and document registry operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	SetDocumentStatus(id, status, errMsg string) error
}

// BatchEmbedder generates embeddings for chunk texts with partial-failure
// reporting.
type BatchEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) (retrieval.BatchResult, error)
}

// IndexUpserter commits chunk batches to the search index.
type IndexUpserter interface {
	Upsert(ctx context.Context, documentID string, version int, records []index.Record) (int, error)
}

// Ingestor processes ingest_document jobs: extract, chunk, embed, index.
// A version either commits completely or fails completely; the document's
// registry status records the outcome either way.
type Ingestor struct {
	store    JobStore
	chunker  *chunker.Chunker
	embedder BatchEmbedder
	writer   IndexUpserter
	poll     time.Duration
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewIngestor(store JobStore, ch *chunker.Chunker, embedder BatchEmbedder, writer IndexUpserter, pollInterval time.Duration) *Ingestor {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Ingestor{
		store:    store,
		chunker:  ch,
		embedder: embedder,
		writer:   writer,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Ingestor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("ingest iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Ingestor) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobIngestDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("ingest job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Ingestor) processJob(ctx context.Context, job *storage.Job) error {
	var payload IngestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	if err := w.indexDocument(ctx, doc); err != nil {
		// ParseError and exhausted embedding retries are terminal for
		// this version; the registry carries the reason.
		if statusErr := w.store.SetDocumentStatus(doc.ID, storage.DocFailed, err.Error()); statusErr != nil {
			w.logger.Error("failed to record document failure", "document_id", doc.ID, "error", statusErr)
		}
		return err
	}

	if err := w.store.SetDocumentStatus(doc.ID, storage.DocIndexed, ""); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}
	return nil
}

// indexDocument runs the full chunk-embed-index path for one document
// version. No records are committed unless every chunk embedded.
func (w *Ingestor) indexDocument(ctx context.Context, doc storage.Document) error {
	text, err := chunker.Extract(doc.Content, doc.SourceType)
	if err != nil {
		return err
	}

	chunks, err := w.chunker.Chunk(text)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return &chunker.ParseError{Format: doc.SourceType, Err: errors.New("document has no extractable text")}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	batch, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	// Retry just the failed subset once before giving up on the version.
	for _, f := range batch.Failed {
		vec, err := w.embedder.Embed(ctx, texts[f.Index])
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", f.Index, err)
		}
		batch.Vectors[f.Index] = vec
	}

	records := make([]index.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = index.Record{
			DocumentID: doc.ID,
			Version:    doc.Version,
			Seq:        ch.Seq,
			Text:       ch.Text,
			Start:      ch.Start,
			End:        ch.End,
			Tag:        ch.Tag,
			Vector:     batch.Vectors[i],
		}
	}

	n, err := w.writer.Upsert(ctx, doc.ID, doc.Version, records)
	if err != nil {
		return err
	}
	w.logger.Info("document indexed", "document_id", doc.ID, "version", doc.Version, "chunks", n)
	return nil
}
