// Command reindex rebuilds vector collection records from persisted chunk
// artifacts without re-parsing any HTML. Run it after switching embedding
// models or wiping a collection. With -prune each document's existing
// records are deleted before the rewrite, so chunks that no longer exist
// in the artifacts disappear from the collection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/ingest"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
	"github.com/docdex/docdex/pkg/fn"
)

func main() {
	_ = godotenv.Load()

	var (
		artifactDir = flag.String("artifacts", envOr("DOCDEX_ARTIFACT_DIR", "./data/artifacts"), "artifact directory with chunk records")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("DOCDEX_COLLECTION", domain.DefaultCollection), "vector collection name")
		provider    = flag.String("provider", envOr("EMBED_PROVIDER", "ollama"), "embedding provider (ollama or openai)")
		model       = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model (provider default when empty)")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		workers     = flag.Int("workers", 4, "documents reindexed in parallel")
		prune       = flag.Bool("prune", false, "delete each document's records before rewriting")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	artifacts, err := artifact.NewStore(*artifactDir)
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}

	ids := flag.Args()
	if len(ids) == 0 {
		ids, err = artifacts.Documents()
		if err != nil {
			log.Fatalf("list documents: %v", err)
		}
	}
	if len(ids) == 0 {
		log.Printf("no chunk artifacts under %s, nothing to do", *artifactDir)
		return
	}

	emb, err := embedder.New(*provider, *model, *ollamaURL)
	if err != nil {
		log.Fatalf("embedder: %v", err)
	}

	vs, err := semantic.New(*qdrantAddr)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer vs.Close()
	coll := semantic.CollectionName(*collection)
	if err := vs.EnsureCollection(ctx, coll, emb.Dims()); err != nil {
		log.Fatalf("ensure collection: %v", err)
	}

	log.Printf("Reindexing %d documents into %q (model %s, %d dims, prune=%v)",
		len(ids), coll, emb.Model(), emb.Dims(), *prune)

	// The parse and chunk stages are skipped: chunk artifacts already hold
	// the final chunk boundaries, so only embed and store run.
	tail := fn.Then(ingest.NewEmbed(emb), ingest.NewStore(vs, coll, fn.DefaultRetry))

	results := fn.ParMapResult(ids, *workers, func(id string) fn.Result[ingest.StoredDocument] {
		doc, err := loadChunkedDoc(artifacts, id)
		if err != nil {
			return fn.Err[ingest.StoredDocument](err)
		}
		if *prune {
			if err := vs.DeleteByDocument(ctx, coll, id); err != nil {
				return fn.Err[ingest.StoredDocument](fmt.Errorf("prune %s: %w", id, err))
			}
		}
		return tail(ctx, doc)
	})

	var done, failed int
	for i, r := range results {
		summary, err := r.Unwrap()
		if err != nil {
			failed++
			log.Printf("[%d] %s: %v", i, ids[i], err)
			continue
		}
		done++
		log.Printf("[%d] %s: %d chunks written", i, summary.DocumentID, summary.Written)
	}

	log.Printf("Done! Reindexed: %d, Failed: %d, Total: %d", done, failed, len(ids))
	if failed > 0 {
		os.Exit(1)
	}
}

// loadChunkedDoc rebuilds the pipeline's chunked form from artifacts. The
// node record is optional; without it the summary just lacks title and
// node count.
func loadChunkedDoc(artifacts *artifact.Store, id string) (ingest.ChunkedDoc, error) {
	rec, err := artifacts.LoadChunks(id)
	if err != nil {
		return ingest.ChunkedDoc{}, fmt.Errorf("load chunks %s: %w", id, err)
	}

	var doc ingest.ChunkedDoc
	doc.Raw = domain.RawDocument{DocumentID: id}
	doc.Chunks = rec.Chunks
	if nodes, err := artifacts.LoadNodes(id); err == nil {
		doc.Meta = nodes.Meta
		doc.Nodes = nodes.Nodes
		doc.Raw.Source = nodes.Source
	}
	return doc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
