package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// ChunkStore persists a document's retrieval chunks and their dense
// embedding vectors.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// NewChunkStore creates a ChunkStore.
func NewChunkStore(pool *pgxpool.Pool) *ChunkStore {
	return &ChunkStore{pool: pool}
}

// BulkInsert stores a document's chunks in one batch, replacing any chunks
// already on file for that document (indexing is always a full
// recompute — chunks are derived state, never partially updated in place).
func (s *ChunkStore) BulkInsert(ctx context.Context, documentID string, chunks []model.Chunk) error {
	if err := s.DeleteByDocumentID(ctx, documentID); err != nil {
		return fmt.Errorf("store.BulkInsert: clear existing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, c := range chunks {
		elementsJSON, err := json.Marshal(c.ChunkElements)
		if err != nil {
			return fmt.Errorf("store.BulkInsert: marshal chunk elements: %w", err)
		}
		headingsJSON, err := json.Marshal(c.Headings)
		if err != nil {
			return fmt.Errorf("store.BulkInsert: marshal headings: %w", err)
		}

		embedding := pgvector.NewVector(c.DenseEmbedding)

		batch.Queue(`
			INSERT INTO document_chunks (
				id, document_id, chunk_index, text, page_num, headings,
				chunk_elements, token_count, embedding, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, documentID, c.Index, c.Text, c.PageNum, headingsJSON,
			elementsJSON, c.TokenCount, embedding, now,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store.BulkInsert: chunk %d: %w", i, err)
		}
	}
	return nil
}

// DeleteByDocumentID removes all chunks for a document.
func (s *ChunkStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("store.DeleteByDocumentID: %w", err)
	}
	return nil
}

// CountByDocumentID returns the number of chunks stored for a document.
func (s *ChunkStore) CountByDocumentID(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store.CountByDocumentID: %w", err)
	}
	return count, nil
}

// SimilaritySearch finds the top-K chunks nearest queryVec by cosine
// distance, scoped to one document's chunks. Nothing in the pipeline calls
// it; the pipeline only ever writes chunks.
func (s *ChunkStore) SimilaritySearch(ctx context.Context, documentID string, queryVec []float32, topK int) ([]model.Chunk, error) {
	embedding := pgvector.NewVector(queryVec)

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, text, page_num, headings, chunk_elements, token_count, created_at
		FROM document_chunks
		WHERE document_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, embedding, documentID, topK)
	if err != nil {
		return nil, fmt.Errorf("store.SimilaritySearch: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var headingsJSON, elementsJSON []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.PageNum, &headingsJSON, &elementsJSON, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store.SimilaritySearch: scan: %w", err)
		}
		if len(headingsJSON) > 0 {
			if err := json.Unmarshal(headingsJSON, &c.Headings); err != nil {
				return nil, fmt.Errorf("store.SimilaritySearch: unmarshal headings: %w", err)
			}
		}
		if len(elementsJSON) > 0 {
			if err := json.Unmarshal(elementsJSON, &c.ChunkElements); err != nil {
				return nil, fmt.Errorf("store.SimilaritySearch: unmarshal chunk elements: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
