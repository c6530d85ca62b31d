// Package worker holds per-task side effects the stage machine and
// supervisor trigger around a document's processing, distinct from the
// stage processors themselves.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/stage"
)

const processingLogFile = "processing.log"

// ProcessingLogWriter extracts a per-document slice of the orchestrator's
// own structured log file by filtering for entries tagged with that
// document's id, and writes them to <parsedFolder>/processing.log
// (SPEC_FULL §4, supplemented from worker.py's _generate_processing_log).
// A nil *ProcessingLogWriter is never constructed; omit wiring it into
// stage.Machine.ProcessingLog to disable the side effect entirely.
type ProcessingLogWriter struct {
	// OrchestratorLogPath is the JSON-lines log file slog writes to
	// (LOG_DIR/orchestrator.log).
	OrchestratorLogPath string
}

// NewProcessingLogWriter builds a writer reading from logDir/orchestrator.log.
func NewProcessingLogWriter(logDir string) *ProcessingLogWriter {
	return &ProcessingLogWriter{OrchestratorLogPath: filepath.Join(logDir, "orchestrator.log")}
}

var _ stage.ProcessingLogger = (*ProcessingLogWriter)(nil)

// Generate filters the orchestrator log for lines mentioning docID and
// writes them to parsedFolder/processing.log. Best-effort: any failure is
// logged and swallowed, matching the source's own try/except around the
// whole operation — a missing processing log is never a stage failure.
func (w *ProcessingLogWriter) Generate(ctx context.Context, docID, parsedFolder string) {
	if parsedFolder == "" {
		return
	}

	matches, err := w.filterByDocumentID(docID)
	if err != nil {
		slog.Warn("processing log: could not read orchestrator log", "document_id", docID, "error", err)
		return
	}
	if len(matches) == 0 {
		return
	}

	if err := os.MkdirAll(parsedFolder, 0o755); err != nil {
		slog.Warn("processing log: could not create parsed folder", "document_id", docID, "error", err)
		return
	}

	dest := filepath.Join(parsedFolder, processingLogFile)
	if err := os.WriteFile(dest, []byte(strings.Join(matches, "\n")+"\n"), 0o644); err != nil {
		slog.Warn("processing log: could not write processing.log", "document_id", docID, "error", err)
		return
	}
	slog.Info("processing log written", "document_id", docID, "path", dest, "lines", len(matches))
}

// filterByDocumentID returns every orchestrator log line whose JSON payload
// tags document_id=docID, in file order.
func (w *ProcessingLogWriter) filterByDocumentID(docID string) ([]string, error) {
	f, err := os.Open(w.OrchestratorLogPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.OrchestratorLogPath, err)
	}
	defer f.Close()

	needle := fmt.Sprintf(`"document_id":"%s"`, docID)
	var matches []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, needle) {
			matches = append(matches, line)
		}
	}
	return matches, scanner.Err()
}
