package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/search"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/docmeta"
)

// --- Stubs ---

type stubLister struct {
	names []string
	err   error
}

func (s stubLister) Collections(context.Context) ([]string, error) {
	return s.names, s.err
}

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

func (s stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, s.err
}

func (s stubEmbedder) Dims() int     { return len(s.vector) }
func (s stubEmbedder) Model() string { return "stub" }

type stubSearcher struct {
	results       []semantic.SearchResult
	err           error
	gotCollection string
	gotK          uint64
}

func (s *stubSearcher) QueryAny(_ context.Context, collection string, _ []float32, k uint64, _ map[string][]string) ([]semantic.SearchResult, error) {
	s.gotCollection = collection
	s.gotK = k
	return s.results, s.err
}

func testService(store *stubSearcher) *search.Service {
	return search.New(stubEmbedder{vector: []float32{1, 0}}, store, nil)
}

// --- Tests ---

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/healthz", nil)
	handleHealth(stubLister{names: []string{"docs"}})(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/healthz", nil)
	handleHealth(stubLister{err: errors.New("store down")})(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "degraded" {
		t.Fatalf("expected status degraded, got %s", resp["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	store := &stubSearcher{
		results: []semantic.SearchResult{
			{
				Chunk: domain.Chunk{
					ID:   "paper-0",
					Text: "multi-head attention",
					Meta: domain.ChunkMetadata{DocumentID: "paper", OrderStart: 0, OrderEnd: 2},
				},
				Score: 0.9,
			},
		},
	}
	handler := handleSearch(testService(store), "docs", nil)

	body := `{"query":"attention","top_k":3}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/search", bytes.NewBufferString(body))
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	if resp.Matches[0].ID != "paper-0" || resp.Matches[0].Score != 0.9 {
		t.Fatalf("unexpected match: %+v", resp.Matches[0])
	}
	if store.gotCollection != "docs" {
		t.Fatalf("expected default collection docs, got %s", store.gotCollection)
	}
	if store.gotK != 3 {
		t.Fatalf("expected top_k 3, got %d", store.gotK)
	}
}

func TestSearchEndpoint_NoMatchesIsEmptyArray(t *testing.T) {
	handler := handleSearch(testService(&stubSearcher{}), "docs", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/search", bytes.NewBufferString(`{"query":"nothing here"}`))
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"matches":[]`)) {
		t.Fatalf("expected empty matches array, got %s", body)
	}
}

func TestSearchEndpoint_EmptyQuery(t *testing.T) {
	handler := handleSearch(testService(&stubSearcher{}), "docs", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/search", bytes.NewBufferString(`{"query":"  "}`))
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchEndpoint_InvalidJSON(t *testing.T) {
	handler := handleSearch(testService(&stubSearcher{}), "docs", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/search", bytes.NewBufferString("not json"))
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDocumentsEndpoint(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	err = store.SaveNodes(artifact.NodeRecord{
		DocumentID: "paper",
		Source:     "/data/html/paper.html",
		Meta:       docmeta.Meta{Title: "A Paper"},
		Nodes: []domain.ContentNode{
			{ID: "paper-n0", Type: domain.NodeHeading, Text: "A Paper", Order: 0},
			{ID: "paper-n1", Type: domain.NodeParagraph, Text: "Body.", Order: 1},
		},
	})
	if err != nil {
		t.Fatalf("SaveNodes: %v", err)
	}
	err = store.SaveChunks(artifact.ChunkRecord{
		DocumentID: "paper",
		Chunks:     []domain.Chunk{{ID: "paper-0", Text: "A Paper Body."}},
	})
	if err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/documents", nil)
	handleDocuments(store, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp DocumentsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Documents) != 1 {
		t.Fatalf("expected 1 document, got %+v", resp)
	}
	doc := resp.Documents[0]
	if doc.DocumentID != "paper" || doc.Title != "A Paper" || doc.Nodes != 2 || doc.Chunks != 1 {
		t.Fatalf("unexpected summary: %+v", doc)
	}
}

func TestDocumentsEndpoint_Empty(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/documents", nil)
	handleDocuments(store, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp DocumentsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 0 {
		t.Fatalf("expected 0 documents, got %d", resp.Count)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", cfg.CORSOrigin)
	}
	if cfg.Collection != domain.DefaultCollection {
		t.Fatalf("expected default collection %s, got %s", domain.DefaultCollection, cfg.Collection)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}
