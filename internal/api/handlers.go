package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattsre/lore/internal/chunker"
	"github.com/mattsre/lore/internal/convo"
	"github.com/mattsre/lore/internal/feedback"
	"github.com/mattsre/lore/internal/pipeline"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
	"github.com/mattsre/lore/internal/synthesis"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxRequestBodySize = 1 << 20 // 1MB

// Asker answers a question within a conversation.
type Asker interface {
	Ask(ctx context.Context, conversationID, question string) (storage.Turn, error)
}

// IndexDeleter removes a document's chunks from the search index.
type IndexDeleter interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// Deps holds the dependencies of the management API.
type Deps struct {
	Store    *storage.Store
	Convos   *convo.Manager
	Feedback *feedback.Aggregator
	Asker    Asker
	Index    IndexDeleter
	Token    string
}

// NewHandler returns the management API router. All routes except /health
// require the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleIngestDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/ask", handleAsk(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Get("/feedback/stats", handleFeedbackStats(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// IngestRequest is the body of POST /documents. Content carries text
// sources directly; ContentBase64 carries binary sources (pdf, docx).
// Setting ID to an existing document's ID supersedes its content with a
// new version.
type IngestRequest struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	SourceType    string `json:"source_type"`
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
}

func handleIngestDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Content == "" && req.ContentBase64 == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or content_base64 is required")
			return
		}
		if req.SourceType == "" {
			req.SourceType = chunker.SourceMarkdown
		}

		content := []byte(req.Content)
		if req.ContentBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			content = decoded
		}

		docID := req.ID
		version := 1
		if docID == "" {
			docID = uuid.NewString()
		}

		v, err := deps.Store.ReplaceDocumentContent(docID, req.Title, req.SourceType, content)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			doc := storage.Document{
				ID:         docID,
				Title:      req.Title,
				SourceType: req.SourceType,
				Content:    content,
			}
			if err := deps.Store.SaveDocument(doc); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
				return
			}
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		default:
			version = v
		}

		if err := pipeline.EnqueueIngest(deps.Store, docID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"id":      docID,
			"version": version,
			"status":  "queued",
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		docs, err := deps.Store.ListDocuments(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetDocument(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		if err := deps.Index.DeleteDocument(r.Context(), id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete index entries: %v", err)
			return
		}
		if err := deps.Store.DeleteDocument(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// AskRequest is the body of POST /ask. An empty ConversationID starts a
// new conversation.
type AskRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		turn, err := deps.Asker.Ask(r.Context(), req.ConversationID, req.Question)
		if err != nil {
			var embErr *retrieval.EmbeddingError
			var retErr *retrieval.RetrievalError
			var genErr *synthesis.GenerationError
			if errors.As(err, &embErr) || errors.As(err, &retErr) || errors.As(err, &genErr) {
				httpError(w, http.StatusBadGateway, "api_error", "answering failed: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(turn)
	}
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	TurnID  string `json:"turn_id"`
	Author  string `json:"author"`
	Kind    string `json:"kind"`
	Comment string `json:"comment"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		fb, err := deps.Feedback.Record(req.TurnID, req.Author, feedback.Kind(req.Kind), req.Comment)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "turn not found")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fb)
	}
}

func handleFeedbackStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("day")

		stats, err := deps.Feedback.Stats(day)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

// ConversationResponse is a conversation plus its lazily evaluated state.
type ConversationResponse struct {
	storage.Conversation
	State string `json:"state"`
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, err := deps.Convos.Get(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ConversationResponse{
			Conversation: conv,
			State:        deps.Convos.State(conv).String(),
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
