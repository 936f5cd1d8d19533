// Package main implements the docdex API server: filtered similarity
// search over the indexed collections plus a document inventory read
// from the artifact store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/search"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
	"github.com/docdex/docdex/pkg/metrics"
	"github.com/docdex/docdex/pkg/mid"
	"github.com/docdex/docdex/pkg/resilience"
)

var met = metrics.New()

// API metrics
var (
	mRequests = met.CounterVec("docdex_api_requests_total", "HTTP requests, by method and status class", "method", "status")
	mLatency  = met.HistogramVec("docdex_api_request_duration_seconds", "HTTP request time, by method and status class", nil, "method", "status")
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	QdrantURL   string
	Collection  string
	Provider    string
	Model       string
	OllamaURL   string
	ArtifactDir string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		QdrantURL:   envOr("QDRANT_ADDR", "localhost:6334"),
		Collection:  envOr("DOCDEX_COLLECTION", domain.DefaultCollection),
		Provider:    envOr("EMBED_PROVIDER", "ollama"),
		Model:       os.Getenv("EMBED_MODEL"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		ArtifactDir: envOr("DOCDEX_ARTIFACT_DIR", "./data/artifacts"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb, err := embedder.New(cfg.Provider, cfg.Model, cfg.OllamaURL)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	vectorStore, err := semantic.New(cfg.QdrantURL)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	artifacts, err := artifact.NewStore(cfg.ArtifactDir)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	searchSvc := search.New(emb, vectorStore, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/healthz", handleHealth(vectorStore))
	mux.HandleFunc("POST /api/v1/search", handleSearch(searchSvc, cfg.Collection, logger))
	mux.HandleFunc("GET /api/v1/documents", handleDocuments(artifacts, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(mRequests, mLatency),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("docdex-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

// collectionLister is the slice of the vector store the health check uses.
type collectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

func handleHealth(store collectionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if _, err := store.Collections(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// SearchRequest is the JSON body for POST /api/v1/search.
type SearchRequest struct {
	Query       string   `json:"query"`
	Collection  string   `json:"collection,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	DocumentID  string   `json:"document_id,omitempty"`
	SourceTypes []string `json:"source_types,omitempty"`
}

// SearchResponse is the JSON response for POST /api/v1/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Matches []search.Match `json:"matches"`
	TookMS  int64          `json:"took_ms"`
}

func handleSearch(svc *search.Service, defaultCollection string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		collection := req.Collection
		if collection == "" {
			collection = defaultCollection
		}

		start := time.Now()
		matches, err := svc.Search(r.Context(), req.Query, search.Options{
			Collection:  collection,
			TopK:        req.TopK,
			DocumentID:  req.DocumentID,
			SourceTypes: req.SourceTypes,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrConfiguration):
				http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
			case errors.Is(err, resilience.ErrCircuitOpen):
				http.Error(w, `{"error":"search temporarily unavailable"}`, http.StatusServiceUnavailable)
			default:
				logger.Error("search failed", "err", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
			return
		}
		if matches == nil {
			matches = []search.Match{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{
			Query:   req.Query,
			Matches: matches,
			TookMS:  time.Since(start).Milliseconds(),
		})
	}
}

// DocumentSummary is one row of GET /api/v1/documents.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Source     string    `json:"source,omitempty"`
	Nodes      int       `json:"nodes"`
	Chunks     int       `json:"chunks"`
	SavedAt    time.Time `json:"saved_at"`
}

// DocumentsResponse is the JSON response for GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
}

func handleDocuments(artifacts *artifact.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids, err := artifacts.Documents()
		if err != nil {
			logger.Error("list documents failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		docs := make([]DocumentSummary, 0, len(ids))
		for _, id := range ids {
			rec, err := artifacts.LoadNodes(id)
			if err != nil {
				logger.Warn("skipping unreadable node record", "document_id", id, "err", err)
				continue
			}
			row := DocumentSummary{
				DocumentID: id,
				Title:      rec.Meta.Title,
				Source:     rec.Source,
				Nodes:      len(rec.Nodes),
				SavedAt:    rec.SavedAt,
			}
			if chunks, err := artifacts.LoadChunks(id); err == nil {
				row.Chunks = len(chunks.Chunks)
			}
			docs = append(docs, row)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DocumentsResponse{Documents: docs, Count: len(docs)})
	}
}
