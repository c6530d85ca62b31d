package chunker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

func TestChunkDocumentEndToEnd(t *testing.T) {
	counter := newFakeCounter()
	doc := &ParsedDocument{
		PageHeight: 842,
		Items: []Item{
			{Kind: ItemSectionHeader, Order: 0, Page: 1, Label: "h1", Text: "Findings"},
			{Kind: ItemText, Order: 1, Page: 1, Text: "The survey reported a notable result. 3 respondents disagreed with the majority view on this particular topic, which is worth noting."},
			{Kind: ItemText, Order: 2, Page: 1, Label: "footnote", Text: "[^3] Source: field notes, unreferenced in most reports but kept here for completeness and traceability."},
		},
	}

	chunks := ChunkDocument(doc, counter, 512)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if c.Text == "" {
			t.Error("expected every emitted chunk to have non-empty Text")
		}
		if c.TokenCount == 0 {
			t.Error("expected every emitted chunk to have a non-zero TokenCount")
		}
	}
}

type fakeChunkStore struct {
	documentID string
	chunks     []model.Chunk
	err        error
}

func (s *fakeChunkStore) BulkInsert(ctx context.Context, documentID string, chunks []model.Chunk) error {
	if s.err != nil {
		return s.err
	}
	s.documentID = documentID
	s.chunks = chunks
	return nil
}

type fakeEmbedder struct {
	dims int
	err  error
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func writeParsedDocument(t *testing.T, dir string) {
	t.Helper()
	export := map[string]any{
		"texts": []map[string]any{
			{"self_ref": "#/texts/0", "label": "text", "text": "A standalone paragraph long enough on its own to survive the short-chunk drop threshold easily.", "prov": []map[string]any{
				{"page_no": 1, "bbox": []float64{0, 700, 400, 720}},
			}},
		},
	}
	writeJSON(t, filepath.Join(dir, ParsedDocumentFile), export)
}

func TestIndexerProcessMissingParsedFolderReturnsOutcomeFailure(t *testing.T) {
	ix := NewIndexer(&fakeChunkStore{}, nil, "cl100k_base")
	doc := &model.Document{ID: "doc-1"}

	outcome, err := ix.Process(context.Background(), doc, false)

	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if outcome.Success {
		t.Error("expected outcome.Success = false for a document with no parsed folder")
	}
}

func TestIndexerProcessSavesChunksAndEmbeddings(t *testing.T) {
	dir := t.TempDir()
	writeParsedDocument(t, dir)

	store := &fakeChunkStore{}
	embedder := &fakeEmbedder{dims: 4}
	ix := NewIndexer(store, embedder, "cl100k_base")
	doc := &model.Document{ID: "doc-1", ParsedFolder: dir}

	outcome, err := ix.Process(context.Background(), doc, true)

	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome = %+v, want Success", outcome)
	}
	if store.documentID != "doc-1" {
		t.Errorf("store.documentID = %q, want doc-1", store.documentID)
	}
	if len(store.chunks) == 0 {
		t.Fatal("expected chunks to reach the store")
	}
	for _, c := range store.chunks {
		if c.ID == "" || c.DocumentID != "doc-1" {
			t.Errorf("chunk missing ID/DocumentID: %+v", c)
		}
		if len(c.DenseEmbedding) != 4 {
			t.Errorf("chunk DenseEmbedding len = %d, want 4", len(c.DenseEmbedding))
		}
	}
}

func TestIndexerProcessWithoutSaveChunksSkipsStore(t *testing.T) {
	dir := t.TempDir()
	writeParsedDocument(t, dir)

	store := &fakeChunkStore{}
	ix := NewIndexer(store, nil, "cl100k_base")
	doc := &model.Document{ID: "doc-1", ParsedFolder: dir}

	outcome, err := ix.Process(context.Background(), doc, false)

	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome = %+v, want Success", outcome)
	}
	if store.chunks != nil {
		t.Error("expected BulkInsert not to be called when saveChunks is false")
	}
}

func TestIndexerProcessStoreFailureReturnsGoError(t *testing.T) {
	dir := t.TempDir()
	writeParsedDocument(t, dir)

	store := &fakeChunkStore{err: errors.New("boom")}
	ix := NewIndexer(store, nil, "cl100k_base")
	doc := &model.Document{ID: "doc-1", ParsedFolder: dir}

	_, err := ix.Process(context.Background(), doc, true)

	if err == nil {
		t.Fatal("expected a Go error when the store fails")
	}
}
