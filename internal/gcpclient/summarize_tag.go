package gcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/chunker"
	"github.com/connexus-ai/evallab-pipeline/internal/model"
	"github.com/connexus-ai/evallab-pipeline/internal/stage"
)

// summaryMaxChars bounds how much parsed text is sent to the model for a
// full-document summary, keeping the prompt within the model's context
// window for very large reports.
const summaryMaxChars = 60000

// Summarizer implements stage.Summarizer on top of a GenAIAdapter,
// producing one full-document summary from the parsed text export.
type Summarizer struct {
	LLM *GenAIAdapter
}

// NewSummarizer wraps llm as a stage.Summarizer.
func NewSummarizer(llm *GenAIAdapter) *Summarizer {
	return &Summarizer{LLM: llm}
}

var _ stage.Summarizer = (*Summarizer)(nil)

const summarizeSystemPrompt = "You summarize evaluation reports for a document retrieval pipeline. " +
	"Write a concise, factual summary of the report's purpose, methodology and findings. " +
	"Do not include commentary about the summarization task itself."

// Process reads doc's parsed text export and asks the model for a
// full-document summary.
func (s *Summarizer) Process(ctx context.Context, doc *model.Document) (stage.Outcome, error) {
	text, err := readParsedText(doc.ParsedFolder)
	if err != nil {
		return stage.Outcome{Success: false, Error: err.Error()}, nil
	}
	if text == "" {
		return stage.Outcome{Success: false, Error: "no parsed text available to summarize"}, nil
	}
	if len(text) > summaryMaxChars {
		text = text[:summaryMaxChars]
	}

	summary, err := s.LLM.GenerateContent(ctx, summarizeSystemPrompt, text)
	if err != nil {
		return stage.Outcome{Success: false, Error: fmt.Sprintf("summarize: %v", err)}, nil
	}

	return stage.Outcome{
		Success: true,
		Updates: map[string]any{"fullSummary": strings.TrimSpace(summary)},
	}, nil
}

// Tagger implements stage.Tagger on top of a GenAIAdapter: once against the
// whole document (table-of-contents style section labels) and once against
// the chunks an indexing pass produced.
type Tagger struct {
	LLM *GenAIAdapter
}

// NewTagger wraps llm as a stage.Tagger.
func NewTagger(llm *GenAIAdapter) *Tagger {
	return &Tagger{LLM: llm}
}

var _ stage.Tagger = (*Tagger)(nil)

const tocSystemPrompt = "You extract a table of contents from a report's text. " +
	"Reply with one section heading per line, in document order, with no numbering or extra commentary."

// ClassifyTOC asks the model to propose section headings from the parsed
// text alone; the document's summary is not sent.
func (t *Tagger) ClassifyTOC(ctx context.Context, doc *model.Document) (stage.Outcome, error) {
	text, err := readParsedText(doc.ParsedFolder)
	if err != nil {
		return stage.Outcome{Success: false, Error: err.Error()}, nil
	}
	if len(text) > summaryMaxChars {
		text = text[:summaryMaxChars]
	}

	resp, err := t.LLM.GenerateContent(ctx, tocSystemPrompt, text)
	if err != nil {
		return stage.Outcome{Success: false, Error: fmt.Sprintf("classify toc: %v", err)}, nil
	}

	var toc []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			toc = append(toc, line)
		}
	}

	return stage.Outcome{
		Success: true,
		Updates: map[string]any{"toc": toc, "tocClassified": true},
	}, nil
}

// TagChunks is a best-effort follow-up pass run after indexing: it logs
// that per-chunk tagging ran. Per-chunk section-type labels are already
// assigned during chunking from the parser's own element labels
// (chunker.ChunkDocument); this stage exists to let a future model-driven
// refinement pass plug in without changing the state machine's contract.
func (t *Tagger) TagChunks(ctx context.Context, doc *model.Document) (stage.Outcome, error) {
	slog.Info("chunk tagging pass: per-chunk labels already set during chunking", "document_id", doc.ID)
	return stage.Outcome{Success: true}, nil
}

// readParsedText concatenates every text item in a document's parsed
// export, for prompts that need the whole document's prose rather than the
// chunked/structured form.
func readParsedText(parsedFolder string) (string, error) {
	if parsedFolder == "" {
		return "", fmt.Errorf("document has no parsed folder")
	}
	raw, err := os.ReadFile(filepath.Join(parsedFolder, chunker.ParsedDocumentFile))
	if err != nil {
		return "", fmt.Errorf("read parsed document: %w", err)
	}

	var export parsedExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return "", fmt.Errorf("parse parsed document: %w", err)
	}

	var b strings.Builder
	for _, t := range export.Texts {
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
