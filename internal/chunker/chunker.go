package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
	"github.com/connexus-ai/evallab-pipeline/internal/stage"
)

// ParsedDocumentFile is the name the parser writes its document export
// under inside a document's parsed folder.
const ParsedDocumentFile = "document.json"

// Embedder produces a dense vector per input text. Implementations may
// call out to a local or remote embedding server.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore persists a document's full set of chunks, replacing whatever
// was stored for that document before (C1).
type ChunkStore interface {
	BulkInsert(ctx context.Context, documentID string, chunks []model.Chunk) error
}

// Indexer implements stage.Indexer: it loads a document's parsed export,
// chunks it, optionally embeds and stores the chunks, and reports a stage
// outcome.
type Indexer struct {
	Store        ChunkStore
	Embedder     Embedder
	EncodingName string
	MaxTokens    int
}

// NewIndexer builds an Indexer with the pipeline's default token budget,
// overridable per call site for tests.
func NewIndexer(store ChunkStore, embedder Embedder, encodingName string) *Indexer {
	return &Indexer{
		Store:        store,
		Embedder:     embedder,
		EncodingName: encodingName,
		MaxTokens:    model.MaxTokens,
	}
}

var _ stage.Indexer = (*Indexer)(nil)

// Process runs the full chunking pipeline for one document: load, map,
// hybrid-split, per-chunk assembly, cross-chunk post-processing, and
// (when saveChunks) embedding and persistence.
func (ix *Indexer) Process(ctx context.Context, doc *model.Document, saveChunks bool) (stage.Outcome, error) {
	if doc.ParsedFolder == "" {
		return stage.Outcome{Success: false, Error: "chunker: document has no parsed_folder"}, nil
	}

	jsonPath := filepath.Join(doc.ParsedFolder, ParsedDocumentFile)
	parsed, err := LoadParsedDocument(jsonPath)
	if err != nil {
		return stage.Outcome{Success: false, Error: err.Error()}, nil
	}

	counter, err := NewTokenCounter(ix.EncodingName)
	if err != nil {
		return stage.Outcome{}, fmt.Errorf("chunker.Process: %w", err)
	}

	maxTokens := ix.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}

	chunks := ChunkDocument(parsed, counter, maxTokens)
	if len(chunks) == 0 {
		return stage.Outcome{Success: false, Error: "chunker: produced no chunks"}, nil
	}

	now := time.Now().UTC()
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		chunks[i].DocumentID = doc.ID
		chunks[i].CreatedAt = now
	}

	if saveChunks {
		if ix.Embedder != nil {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			vectors, err := ix.Embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return stage.Outcome{}, fmt.Errorf("chunker.Process: embed: %w", err)
			}
			if len(vectors) != len(chunks) {
				return stage.Outcome{}, fmt.Errorf("chunker.Process: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
			}
			for i, v := range vectors {
				chunks[i].DenseEmbedding = v
			}
		}

		if err := ix.Store.BulkInsert(ctx, doc.ID, chunks); err != nil {
			return stage.Outcome{}, fmt.Errorf("chunker.Process: store: %w", err)
		}
	}

	return stage.Outcome{
		Success: true,
		Updates: map[string]any{},
	}, nil
}

// ChunkDocument ties the chunker's pipeline steps together: build the text
// and table indices, hybrid-split into token-bounded groups, assemble each
// raw group into a chunk, then reconcile cross-chunk footnote references
// and rebuild final text.
func ChunkDocument(doc *ParsedDocument, counter *TokenCounter, maxTokens int) []model.Chunk {
	tableIndex := BuildTableIndexMap(doc)
	raw := HybridChunk(doc, counter, maxTokens)

	chunks := make([]model.Chunk, 0, len(raw))
	for _, rc := range raw {
		chunk, ok := assembleChunk(doc, rc, len(chunks), tableIndex)
		if !ok {
			continue
		}
		chunks = append(chunks, chunk)
	}

	return PostProcess(chunks, counter)
}
