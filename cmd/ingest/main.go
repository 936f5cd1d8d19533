// Command ingest indexes converted HTML documents into the vector store.
// It scans a directory of <document-id>.html files, runs the new or
// changed ones through the pipeline, and optionally keeps watching the
// directory or consuming conversion events from NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/chunker"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/ingest"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
	"github.com/docdex/docdex/pkg/fn"
	"github.com/docdex/docdex/pkg/metrics"
)

var met = metrics.New()

// Ingest metrics
var (
	mDocsTotal   = met.CounterVec("docdex_ingest_documents_total", "Documents processed, by outcome", "outcome")
	mFailures    = met.CounterVec("docdex_ingest_failures_total", "Document failures, by pipeline stage", "stage")
	mNodesTotal  = met.Counter("docdex_ingest_nodes_total", "Content nodes parsed")
	mChunksTotal = met.Counter("docdex_ingest_chunks_total", "Chunks written to the vector store")
	mQueueDepth  = met.Gauge("docdex_ingest_queue_depth", "Documents waiting in the current scan")
	mLastScan    = met.Gauge("docdex_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mDocDur      = met.Histogram("docdex_ingest_document_duration_seconds", "Per-document pipeline time", nil)
	mScanDur     = met.Histogram("docdex_ingest_scan_duration_seconds", "Full scan time", nil)
)

func main() {
	_ = godotenv.Load()

	var (
		dataDir     = flag.String("dir", envOr("DOCDEX_DATA_DIR", "./data/html"), "directory of converted HTML files")
		artifactDir = flag.String("artifacts", envOr("DOCDEX_ARTIFACT_DIR", "./data/artifacts"), "artifact directory for node and chunk records")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("DOCDEX_COLLECTION", domain.DefaultCollection), "vector collection name")
		provider    = flag.String("provider", envOr("EMBED_PROVIDER", "ollama"), "embedding provider (ollama or openai)")
		model       = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model (provider default when empty)")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		workers     = flag.Int("workers", 4, "documents processed in parallel")
		targetSize  = flag.Int("target-size", chunker.DefaultTargetSize, "chunk target size in characters")
		maxSize     = flag.Int("max-size", chunker.DefaultMaxSize, "chunk hard size limit in characters")
		force       = flag.Bool("force", false, "reprocess documents whose artifacts are current")
		watch       = flag.Duration("watch", 0, "rescan interval; 0 scans once and exits")
		natsURL     = flag.String("nats", os.Getenv("NATS_URL"), "NATS URL for conversion events (empty disables)")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort, log)

	emb, err := embedder.New(*provider, *model, *ollamaURL)
	if err != nil {
		log.Error("embedder init failed", "error", err)
		os.Exit(1)
	}
	log.Info("embedder ready", "provider", *provider, "model", emb.Model(), "dims", emb.Dims())

	vs, err := semantic.New(*qdrantAddr)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	coll := semantic.CollectionName(*collection)
	if err := vs.EnsureCollection(ctx, coll, emb.Dims()); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", coll, "dims", emb.Dims())

	artifacts, err := artifact.NewStore(*artifactDir)
	if err != nil {
		log.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	chk, err := chunker.New(chunker.Config{
		TargetSize:        *targetSize,
		MaxSize:           *maxSize,
		RespectBoundaries: true,
	})
	if err != nil {
		log.Error("chunker config invalid", "error", err)
		os.Exit(1)
	}

	deps := ingest.Deps{
		Embedder:   emb,
		Store:      vs,
		Artifacts:  artifacts,
		Chunker:    chk,
		Collection: coll,
		Logger:     log,
	}
	pipeline := ingest.NewPipeline(deps)

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("docdex-ingest"))
		if err != nil {
			log.Error("nats connect failed", "url", *natsURL, "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sub, err := ingest.StartConsumer(nc, deps)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Drain()
		log.Info("consuming conversion events", "url", *natsURL, "subject", ingest.ConvertedSubject)
	}

	os.MkdirAll(*dataDir, 0o755)

	scan := func() int {
		start := time.Now()
		mLastScan.Set(float64(time.Now().Unix()))

		docs, err := pendingDocuments(*dataDir, artifacts, *force)
		if err != nil {
			mFailures.WithLabelValues("scan").Inc()
			log.Error("scan failed", "dir", *dataDir, "error", err)
			return 1
		}
		if len(docs) == 0 {
			log.Info("nothing to index", "dir", *dataDir)
			return 0
		}

		mQueueDepth.Set(float64(len(docs)))
		log.Info("indexing batch", "documents", len(docs), "workers", *workers)

		results := fn.ParMapResult(docs, *workers, func(doc domain.RawDocument) fn.Result[ingest.StoredDocument] {
			docStart := time.Now()
			summary, err := ingest.Process(ctx, pipeline, doc)
			mDocDur.Observe(time.Since(docStart).Seconds())
			mQueueDepth.Dec()
			if err != nil {
				return fn.Err[ingest.StoredDocument](err)
			}
			return fn.Ok(summary)
		})

		indexed, failed := 0, 0
		for _, r := range results {
			summary, err := r.Unwrap()
			if err != nil {
				failed++
				stage, docID := "pipeline", "unknown"
				var perr *domain.ProcessError
				if errors.As(err, &perr) {
					stage, docID = perr.Stage, perr.DocumentID
				}
				mDocsTotal.WithLabelValues("failed").Inc()
				mFailures.WithLabelValues(stage).Inc()
				log.Error("document failed", "document_id", docID, "stage", stage, "error", err)
				continue
			}
			indexed++
			mDocsTotal.WithLabelValues("indexed").Inc()
			mNodesTotal.Add(float64(summary.Nodes))
			mChunksTotal.Add(float64(summary.Written))
			log.Info("document indexed",
				"document_id", summary.DocumentID,
				"title", summary.Title,
				"nodes", summary.Nodes,
				"chunks", summary.Chunks,
				"written", summary.Written)
		}

		mScanDur.Observe(time.Since(start).Seconds())
		log.Info("scan done", "indexed", indexed, "failed", failed, "elapsed", time.Since(start).Round(time.Millisecond))
		return failed
	}

	failed := scan()
	if *watch <= 0 && *natsURL == "" {
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	if *watch > 0 {
		log.Info("watching", "dir", *dataDir, "interval", *watch)
		ticker := time.NewTicker(*watch)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("shutting down")
				return
			case <-ticker.C:
				scan()
			}
		}
	}

	// NATS-only mode: block until interrupted.
	<-ctx.Done()
	log.Info("shutting down")
}

// pendingDocuments loads the HTML files that have no artifact record or
// changed since the last run. Hidden files and subdirectories are skipped.
func pendingDocuments(dir string, artifacts *artifact.Store, force bool) ([]domain.RawDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var docs []domain.RawDocument
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") || name[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docID := strings.TrimSuffix(name, ".html")
		if !force && !artifacts.Stale(docID, info.ModTime()) {
			continue
		}
		path := filepath.Join(dir, name)
		html, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, domain.RawDocument{
			DocumentID: docID,
			HTML:       string(html),
			Source:     path,
			FetchedAt:  info.ModTime(),
		})
	}
	return docs, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
