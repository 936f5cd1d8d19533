// Command search runs a one-shot query against an indexed collection and
// prints the ranked matches. Handy for smoke testing an index from the
// shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/search"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
)

func main() {
	_ = godotenv.Load()

	var (
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("DOCDEX_COLLECTION", domain.DefaultCollection), "vector collection name")
		provider    = flag.String("provider", envOr("EMBED_PROVIDER", "ollama"), "embedding provider (ollama or openai)")
		model       = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model (provider default when empty)")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		topK        = flag.Int("k", search.DefaultTopK, "number of matches")
		documentID  = flag.String("document", "", "restrict matches to one document id")
		sourceTypes = flag.String("source-types", "", "comma-separated node types (paragraph,table,figure,...)")
		timeout     = flag.Duration("timeout", 30*time.Second, "overall query timeout")
		asJSON      = flag.Bool("json", false, "print matches as JSON")
	)
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: search [flags] <query terms>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

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

	opts := search.Options{
		Collection: *collection,
		TopK:       *topK,
		DocumentID: *documentID,
	}
	for _, st := range strings.Split(*sourceTypes, ",") {
		if st = strings.TrimSpace(st); st != "" {
			opts.SourceTypes = append(opts.SourceTypes, st)
		}
	}

	start := time.Now()
	matches, err := search.New(emb, vs, logger).Search(ctx, query, opts)
	if err != nil {
		logger.Error("search failed", "error", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(matches)
		return
	}

	if len(matches) == 0 {
		fmt.Println("no matches")
		return
	}
	fmt.Printf("%d matches in %s\n\n", len(matches), time.Since(start).Round(time.Millisecond))
	for i, m := range matches {
		fmt.Printf("%2d. [%.3f] %s", i+1, m.Score, m.DocumentID)
		if len(m.SectionPath) > 0 {
			fmt.Printf("  %s", strings.Join(m.SectionPath, " > "))
		}
		fmt.Println()
		fmt.Printf("    %s\n\n", snippet(m.Text, 240))
	}
}

// snippet collapses whitespace and truncates on a word boundary.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return s[:cut] + "..."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
