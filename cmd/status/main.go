// Command status reports how far each document has made it through the
// pipeline: source HTML on disk, node and chunk artifacts, and records in
// the vector store. Artifacts older than their source HTML are flagged
// stale.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/fn"
)

// Row is the per-document status line.
type Row struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	HTML       bool   `json:"html"`
	Nodes      int    `json:"nodes"`
	Chunks     int    `json:"chunks"`
	Stored     int64  `json:"stored"` // -1 when the store was not checked
	Stale      bool   `json:"stale"`
	State      string `json:"state"` // pending, stale, chunked, indexed, orphaned
}

// Report is the -json output shape.
type Report struct {
	Documents []Row          `json:"documents"`
	Summary   map[string]int `json:"summary"`
}

func main() {
	_ = godotenv.Load()

	var (
		dataDir     = flag.String("dir", envOr("DOCDEX_DATA_DIR", "./data/html"), "directory of converted HTML files")
		artifactDir = flag.String("artifacts", envOr("DOCDEX_ARTIFACT_DIR", "./data/artifacts"), "artifact directory")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("DOCDEX_COLLECTION", domain.DefaultCollection), "vector collection name")
		noStore     = flag.Bool("no-store", false, "skip vector store record counts")
		asJSON      = flag.Bool("json", false, "emit the report as JSON")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	artifacts, err := artifact.NewStore(*artifactDir)
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}

	htmlMods, err := htmlModTimes(*dataDir)
	if err != nil {
		log.Fatalf("scan %s: %v", *dataDir, err)
	}

	artifactIDs, err := artifacts.Documents()
	if err != nil {
		log.Fatalf("list artifacts: %v", err)
	}

	var vs *semantic.VectorStore
	if !*noStore {
		vs, err = semantic.New(*qdrantAddr)
		if err != nil {
			log.Fatalf("qdrant connect: %v", err)
		}
		defer vs.Close()
		probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
		if _, err := vs.Collections(probeCtx); err != nil {
			log.Printf("vector store unreachable at %s, skipping record counts: %v", *qdrantAddr, err)
			vs = nil
		}
		probeCancel()
	}

	ids := allDocumentIDs(htmlMods, artifactIDs)
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, buildRow(ctx, id, htmlMods, artifacts, vs, *collection))
	}

	grouped := fn.GroupBy(rows, func(r Row) string { return r.State })
	summary := make(map[string]int, len(grouped))
	for state, group := range grouped {
		summary[state] = len(group)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(Report{Documents: rows, Summary: summary})
		return
	}

	printTable(rows, summary)

	if stale := fn.Filter(rows, func(r Row) bool { return r.Stale }); len(stale) > 0 {
		fmt.Printf("\n%d stale documents; rerun ingest to refresh them\n", len(stale))
	}
}

// buildRow assembles one document's status from disk, artifacts, and the
// vector store.
func buildRow(ctx context.Context, id string, htmlMods map[string]time.Time, artifacts *artifact.Store, vs *semantic.VectorStore, collection string) Row {
	row := Row{DocumentID: id, Stored: -1}

	mod, hasHTML := htmlMods[id]
	row.HTML = hasHTML

	if rec, err := artifacts.LoadNodes(id); err == nil {
		row.Title = rec.Meta.Title
		row.Nodes = len(rec.Nodes)
	}
	if rec, err := artifacts.LoadChunks(id); err == nil {
		row.Chunks = len(rec.Chunks)
	}
	if hasHTML && row.Nodes > 0 {
		row.Stale = artifacts.Stale(id, mod)
	}

	if vs != nil {
		countCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if n, err := vs.Count(countCtx, collection, map[string]string{semantic.FieldDocumentID: id}); err == nil {
			row.Stored = int64(n)
		}
		cancel()
	}

	switch {
	case !row.HTML:
		row.State = "orphaned"
	case row.Nodes == 0:
		row.State = "pending"
	case row.Stale:
		row.State = "stale"
	case row.Stored > 0:
		row.State = "indexed"
	default:
		row.State = "chunked"
	}
	return row
}

// htmlModTimes maps document id to source file modification time.
func htmlModTimes(dir string) (map[string]time.Time, error) {
	mods := make(map[string]time.Time)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return mods, nil
		}
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") || name[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mods[strings.TrimSuffix(name, ".html")] = info.ModTime()
	}
	return mods, nil
}

// allDocumentIDs merges ids seen on disk with ids that have artifacts.
func allDocumentIDs(htmlMods map[string]time.Time, artifactIDs []string) []string {
	ids := make([]string, 0, len(htmlMods))
	for id := range htmlMods {
		ids = append(ids, id)
	}
	ids = append(ids, artifactIDs...)
	ids = fn.Unique(ids)
	sort.Strings(ids)
	return ids
}

func printTable(rows []Row, summary map[string]int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tSTATE\tHTML\tNODES\tCHUNKS\tSTORED\tTITLE")
	for _, r := range rows {
		stored := "-"
		if r.Stored >= 0 {
			stored = fmt.Sprintf("%d", r.Stored)
		}
		html := "-"
		if r.HTML {
			html = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.DocumentID, r.State, html, r.Nodes, r.Chunks, stored, truncate(r.Title, 40))
	}
	w.Flush()

	states := make([]string, 0, len(summary))
	for s := range summary {
		states = append(states, s)
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s %d", s, summary[s]))
	}
	fmt.Printf("\n%d documents: %s\n", len(rows), strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
