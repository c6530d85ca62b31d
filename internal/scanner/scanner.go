// Package scanner reconciles a data source's pdfs/ directory against the
// document store: every file on disk the store does not yet know about is
// inserted as a new, freshly downloaded document (C1 — no ScanProcessor
// source survives in original_source's filtered code export, so this walk
// is grounded on the store adapter's own responsibility statement rather
// than a line-for-line original, and kept deliberately simple: one file ==
// one document, identified by its full walked path, dataDir/pdfs/...).
package scanner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// Store is the narrow store surface the scan needs: look up what's already
// known, and insert what isn't.
type Store interface {
	AllDocuments(ctx context.Context) ([]*model.Document, error)
	Create(ctx context.Context, doc *model.Document) error
}

var supportedExt = map[string]string{
	".pdf":  "pdf",
	".docx": "docx",
}

// Scan walks dataDir/pdfs for supported document files and creates a store
// record for each one not already present (matched by filepath), returning
// the count of newly created documents.
func Scan(ctx context.Context, store Store, dataDir string) (int, error) {
	root := filepath.Join(dataDir, "pdfs")

	existing, err := store.AllDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanner.Scan: list existing documents: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		known[d.Filepath] = true
	}

	var created int
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		format, ok := supportedExt[ext]
		if !ok {
			return nil
		}
		if known[path] {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		now := time.Now().UTC()
		doc := &model.Document{
			ID:         documentID(path),
			Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Filepath:   path,
			Status:     model.StatusDownloaded,
			FileFormat: format,
			FileSizeMB: float64(info.Size()) / (1024 * 1024),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.Create(ctx, doc); err != nil {
			return fmt.Errorf("create document for %s: %w", path, err)
		}
		created++
		slog.Info("scan found new document", "document_id", doc.ID, "path", path)
		return nil
	})
	if walkErr != nil {
		return created, fmt.Errorf("scanner.Scan: %w", walkErr)
	}

	slog.Info("scan complete", "data_dir", root, "new_documents", created)
	return created, nil
}

// documentID derives a stable id for a newly scanned file from its path, so
// re-running Scan against the same filesystem never mints two ids for one
// file.
func documentID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}
