package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// DocumentStore implements stage.Store, selector.Store, supervisor.StopWriter
// and supervisor.ProcessingLogStore against a single Postgres table.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

var documentColumns = `
	id, title, organization, published_year, document_type, country, language,
	filepath, pdf_url, status, error_message, parsed_folder, stages,
	page_count, word_count, file_format, file_size_mb, toc, toc_classified,
	full_summary, pipeline_elapsed_seconds, metadata, created_at, updated_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	var stagesJSON, tocJSON, metaJSON []byte

	err := row.Scan(
		&d.ID, &d.Title, &d.Organization, &d.PublishedYear, &d.DocumentType, &d.Country, &d.Language,
		&d.Filepath, &d.PDFURL, &d.Status, &d.ErrorMessage, &d.ParsedFolder, &stagesJSON,
		&d.PageCount, &d.WordCount, &d.FileFormat, &d.FileSizeMB, &tocJSON, &d.TOCClassified,
		&d.FullSummary, &d.PipelineElapsedSeconds, &metaJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &d.Stages); err != nil {
			return nil, fmt.Errorf("store.scanDocument: unmarshal stages: %w", err)
		}
	}
	if len(tocJSON) > 0 {
		if err := json.Unmarshal(tocJSON, &d.TOC); err != nil {
			return nil, fmt.Errorf("store.scanDocument: unmarshal toc: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		d.Metadata = json.RawMessage(metaJSON)
	}

	return d, nil
}

// GetDocument fetches a single document by id, returning (nil, nil) if it
// does not exist — callers (notably the selector's doc-id short-circuit)
// treat a missing document as an empty result, not an error.
func (s *DocumentStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store.GetDocument: %w", err)
	}
	return doc, nil
}

// GetDocumentsByStatus fetches documents in status, optionally restricted
// to a single published_year facet (selector's year-faceted recent-first
// fetching calls this once per candidate year rather than scanning the
// whole table).
func (s *DocumentStore) GetDocumentsByStatus(ctx context.Context, status model.Status, year *int) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE status = $1`
	args := []any{string(status)}
	if year != nil {
		query += ` AND published_year = $2`
		args = append(args, *year)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.GetDocumentsByStatus: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store.GetDocumentsByStatus: scan: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetYearsForStatus returns the distinct published years present among
// documents in status, descending, driving the selector's year-faceted
// recent-first fetch.
func (s *DocumentStore) GetYearsForStatus(ctx context.Context, status model.Status) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT published_year FROM documents
		WHERE status = $1 AND published_year IS NOT NULL
		ORDER BY published_year DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store.GetYearsForStatus: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("store.GetYearsForStatus: scan: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// AllDocuments returns every document, used by the selector's parse-stage
// collection when a report filter is given, and by the scanner.
func (s *DocumentStore) AllDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("store.AllDocuments: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store.AllDocuments: scan: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Create inserts a newly downloaded document.
func (s *DocumentStore) Create(ctx context.Context, doc *model.Document) error {
	stagesJSON, err := json.Marshal(doc.Stages)
	if err != nil {
		return fmt.Errorf("store.Create: marshal stages: %w", err)
	}
	tocJSON, err := json.Marshal(doc.TOC)
	if err != nil {
		return fmt.Errorf("store.Create: marshal toc: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (
			id, title, organization, published_year, document_type, country, language,
			filepath, pdf_url, status, error_message, parsed_folder, stages,
			page_count, word_count, file_format, file_size_mb, toc, toc_classified,
			full_summary, pipeline_elapsed_seconds, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24
		)`,
		doc.ID, doc.Title, doc.Organization, doc.PublishedYear, doc.DocumentType, doc.Country, doc.Language,
		doc.Filepath, doc.PDFURL, string(doc.Status), doc.ErrorMessage, doc.ParsedFolder, stagesJSON,
		doc.PageCount, doc.WordCount, doc.FileFormat, doc.FileSizeMB, tocJSON, doc.TOCClassified,
		doc.FullSummary, doc.PipelineElapsedSeconds, []byte(doc.Metadata), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store.Create: %w", err)
	}
	return nil
}

// fieldColumns maps the field keys the stage machine writes (see
// stage.terminalFields and the transient status writes) to document
// columns. A key outside this set is an authoring error in a processor,
// not a runtime condition to tolerate silently.
var fieldColumns = map[string]string{
	"status":                 "status",
	"errorMessage":           "error_message",
	"stages":                 "stages",
	"parsedFolder":           "parsed_folder",
	"pageCount":              "page_count",
	"wordCount":              "word_count",
	"fileFormat":             "file_format",
	"fileSizeMb":             "file_size_mb",
	"toc":                    "toc",
	"tocClassified":          "toc_classified",
	"fullSummary":            "full_summary",
	"pipelineElapsedSeconds": "pipeline_elapsed_seconds",
	"metadata":               "metadata",
}

// UpdateDocument writes fields to one document's row. When wait is true the
// caller is relying on the write being durably visible before the next
// stage reloads the document (§ stage machine reload semantics); since this
// store talks to Postgres synchronously there is no separate "wait" path —
// the parameter only exists to satisfy the interface the source's
// fire-and-forget client also had to honor.
func (s *DocumentStore) UpdateDocument(ctx context.Context, id string, fields map[string]any, wait bool) error {
	if len(fields) == 0 {
		return nil
	}

	var sets []string
	var args []any
	i := 1
	for key, val := range fields {
		col, ok := fieldColumns[key]
		if !ok {
			return fmt.Errorf("store.UpdateDocument: unknown field %q", key)
		}

		switch col {
		case "status":
			val = string(val.(model.Status))
		case "stages":
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("store.UpdateDocument: marshal stages: %w", err)
			}
			val = b
		case "toc":
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("store.UpdateDocument: marshal toc: %w", err)
			}
			val = b
		}

		sets = append(sets, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now().UTC())
	i++
	args = append(args, id)

	query := fmt.Sprintf("UPDATE documents SET %s WHERE id = $%d", strings.Join(sets, ", "), i)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store.UpdateDocument: %w", err)
	}
	return nil
}

// MarkStopped implements supervisor.StopWriter.
func (s *DocumentStore) MarkStopped(ctx context.Context, docID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(model.StatusStopped), reason, time.Now().UTC(), docID,
	)
	if err != nil {
		return fmt.Errorf("store.MarkStopped: %w", err)
	}
	return nil
}

// ParsedFolderOf implements supervisor.ProcessingLogStore.
func (s *DocumentStore) ParsedFolderOf(ctx context.Context, docID string) (string, bool, error) {
	var folder *string
	err := s.pool.QueryRow(ctx, `SELECT parsed_folder FROM documents WHERE id = $1`, docID).Scan(&folder)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store.ParsedFolderOf: %w", err)
	}
	if folder == nil || *folder == "" {
		return "", false, nil
	}
	return *folder, true, nil
}
