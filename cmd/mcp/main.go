// Command mcp serves the document index over the Model Context Protocol
// on stdio, so agent frontends can search collections and fetch chunks as
// tools. Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/search"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
)

func main() {
	_ = godotenv.Load()

	var (
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("DOCDEX_COLLECTION", domain.DefaultCollection), "default vector collection for tools")
		provider   = flag.String("provider", envOr("EMBED_PROVIDER", "ollama"), "embedding provider (ollama or openai)")
		model      = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model (provider default when empty)")
		ollamaURL  = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emb, err := embedder.New(*provider, *model, *ollamaURL)
	if err != nil {
		logger.Error("embedder init failed", "error", err)
		os.Exit(1)
	}

	vs, err := semantic.New(*qdrantAddr)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()

	srv := newServer(search.New(emb, vs, logger), vs, *collection)

	logger.Info("mcp server starting", "collection", *collection, "model", emb.Model())
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
