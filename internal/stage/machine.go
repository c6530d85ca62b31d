// Package stage drives a single document through the parse, summarize, tag
// and index processors, gating each transition on the document's current
// status and writing transient/terminal statuses back to the store.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// Store is the subset of the document store the machine needs: reload the
// document between stages and write status/field updates.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, id string, fields map[string]any, wait bool) error
}

// Outcome is the structured result a processor reports for one stage
// invocation, mirroring the source's `{success, updates, error}` result
// dict rather than a bare Go error — a stage failure is recorded and the
// machine continues per the transition table, it does not abort the run.
type Outcome struct {
	Success bool
	Updates map[string]any
	Error   string
}

// Parser extracts text and structure from a downloaded document.
type Parser interface {
	Process(ctx context.Context, doc *model.Document) (Outcome, error)
}

// Summarizer produces a full-document summary.
type Summarizer interface {
	Process(ctx context.Context, doc *model.Document) (Outcome, error)
}

// Indexer chunks, embeds and stores a document's retrieval chunks.
type Indexer interface {
	Process(ctx context.Context, doc *model.Document, saveChunks bool) (Outcome, error)
}

// Tagger attaches section-type labels, once from the table of contents and
// once (after indexing) per-chunk.
type Tagger interface {
	ClassifyTOC(ctx context.Context, doc *model.Document) (Outcome, error)
	TagChunks(ctx context.Context, doc *model.Document) (Outcome, error)
}

// ProcessingLogger extracts a per-document slice of the orchestrator log
// after a stage terminates, keyed by document id (SPEC_FULL §4, supplemented
// feature). Nil-safe: a nil ProcessingLogger disables the side effect.
type ProcessingLogger interface {
	Generate(ctx context.Context, docID, parsedFolder string)
}

// Machine drives one document through the stage state machine for a single
// worker task. A Machine holds no per-document state and is safe to reuse
// across tasks and across workers, provided its Processor fields are
// themselves safe for the caller's concurrency model (the worker pool never
// calls the same Machine from two goroutines at once per worker slot).
type Machine struct {
	Store      Store
	Parser     Parser
	Summarizer Summarizer
	Tagger     Tagger
	Indexer    Indexer

	SaveChunks bool

	ProcessingLog ProcessingLogger
}

// Result summarizes what happened to one document during Run, for the
// caller's run statistics and the fault supervisor's bookkeeping.
type Result struct {
	Doc    *model.Document
	Stages map[string]Outcome
}

// Run executes whichever of parse, summarize, tag, index are enabled
// (non-nil Processor fields) against doc's current status, in that fixed
// order, following the transition table in full:
//
//	downloaded                                -> parse  -> parsed | parse_failed (short-circuits)
//	parsed, downloaded                        -> summarize -> summarized | summarize_failed (short-circuits)
//	summarized                                -> tag -> tagged | unchanged (does not short-circuit)
//	tagged, summarized, parsed, downloaded     -> index -> indexed | index_failed
//
// Run reloads doc from the store before summarize, tag and index so each
// stage observes persisted side effects of the one before it, not a stale
// in-memory copy.
func (m *Machine) Run(ctx context.Context, doc *model.Document) (*Result, error) {
	log := slog.With("document_id", doc.ID)
	start := time.Now()

	result := &Result{Doc: doc, Stages: make(map[string]Outcome)}

	doc, ok, err := m.runParse(ctx, log, doc, result)
	if err != nil {
		return result, err
	}
	if !ok {
		m.finish(doc, start, result)
		return result, nil
	}

	doc, ok, err = m.runSummarize(ctx, log, doc, result)
	if err != nil {
		return result, err
	}
	if !ok {
		m.finish(doc, start, result)
		return result, nil
	}

	doc, err = m.runTag(ctx, log, doc, result)
	if err != nil {
		return result, err
	}

	doc, err = m.runIndex(ctx, log, doc, result)
	if err != nil {
		return result, err
	}

	m.finish(doc, start, result)
	return result, nil
}

func (m *Machine) finish(doc *model.Document, start time.Time, result *Result) {
	doc.PipelineElapsedSeconds = time.Since(start).Seconds()
	result.Doc = doc
}

func (m *Machine) runParse(ctx context.Context, log *slog.Logger, doc *model.Document, result *Result) (*model.Document, bool, error) {
	if m.Parser == nil || doc.Status != model.StatusDownloaded {
		return doc, true, nil
	}

	stageStart := time.Now()
	if err := m.Store.UpdateDocument(ctx, doc.ID, map[string]any{"status": model.StatusParsing}, false); err != nil {
		return doc, false, fmt.Errorf("stage.runParse: write transient status: %w", err)
	}

	outcome, err := m.Parser.Process(ctx, doc)
	if err != nil {
		return doc, false, fmt.Errorf("stage.runParse: %w", err)
	}
	setElapsed(&outcome, "parse", stageStart)
	result.Stages["parse"] = outcome

	if outcome.Success {
		applyUpdates(doc, outcome.Updates)
		doc.Status = model.StatusParsed
		if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
			log.Error("parse: failed to persist success", "error", werr)
		}
		log.Info("parsed", "title", doc.Title)
		return doc, true, nil
	}

	doc.Status = model.StatusParseFailed
	doc.ErrorMessage = outcome.Error
	if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
		log.Error("parse: failed to persist failure", "error", werr)
	}
	log.Error("parse failed", "title", doc.Title, "error", outcome.Error)
	if m.ProcessingLog != nil {
		m.ProcessingLog.Generate(ctx, doc.ID, doc.ParsedFolder)
	}
	return doc, false, nil
}

func (m *Machine) runSummarize(ctx context.Context, log *slog.Logger, doc *model.Document, result *Result) (*model.Document, bool, error) {
	if m.Summarizer == nil || (doc.Status != model.StatusParsed && doc.Status != model.StatusDownloaded) {
		return doc, true, nil
	}

	doc = m.reload(ctx, log, doc)

	stageStart := time.Now()
	if err := m.Store.UpdateDocument(ctx, doc.ID, map[string]any{"status": model.StatusSummarizing}, false); err != nil {
		return doc, false, fmt.Errorf("stage.runSummarize: write transient status: %w", err)
	}

	outcome, err := m.Summarizer.Process(ctx, doc)
	if err != nil {
		return doc, false, fmt.Errorf("stage.runSummarize: %w", err)
	}
	setElapsed(&outcome, "summarize", stageStart)
	result.Stages["summarize"] = outcome

	if outcome.Success {
		applyUpdates(doc, outcome.Updates)
		doc.Status = model.StatusSummarized
		if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
			log.Error("summarize: failed to persist success", "error", werr)
		}
		return doc, true, nil
	}

	doc.Status = model.StatusSummarizeFailed
	doc.ErrorMessage = outcome.Error
	if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
		log.Error("summarize: failed to persist failure", "error", werr)
	}
	log.Error("summarize failed", "title", doc.Title)
	if m.ProcessingLog != nil {
		m.ProcessingLog.Generate(ctx, doc.ID, doc.ParsedFolder)
	}
	return doc, false, nil
}

// runTag never short-circuits: a tag failure leaves status unchanged and
// the stage error recorded, but index still runs afterward.
func (m *Machine) runTag(ctx context.Context, log *slog.Logger, doc *model.Document, result *Result) (*model.Document, error) {
	if m.Tagger == nil || doc.Status != model.StatusSummarized {
		return doc, nil
	}

	doc = m.reload(ctx, log, doc)

	stageStart := time.Now()
	if err := m.Store.UpdateDocument(ctx, doc.ID, map[string]any{"status": model.StatusTagging}, false); err != nil {
		return doc, fmt.Errorf("stage.runTag: write transient status: %w", err)
	}

	outcome, err := m.Tagger.ClassifyTOC(ctx, doc)
	if err != nil {
		return doc, fmt.Errorf("stage.runTag: %w", err)
	}

	if outcome.Success {
		// Racy read-modify-write on stages.tag.elapsed_seconds, preserved
		// for behavioral fidelity (see DESIGN.md open-question entry):
		// reload, patch only the tag stage's elapsed time, write back.
		elapsed := time.Since(stageStart).Seconds()
		reloaded, rerr := m.Store.GetDocument(ctx, doc.ID)
		if rerr == nil && reloaded != nil {
			if stages := reloaded.Stages; stages != nil {
				if sr, ok := stages["tag"]; ok {
					sr.ElapsedSeconds = elapsed
					stages["tag"] = sr
					_ = m.Store.UpdateDocument(ctx, doc.ID, map[string]any{"stages": stages}, false)
				}
			}
		}
	}
	result.Stages["tag"] = outcome

	if outcome.Success {
		applyUpdates(doc, outcome.Updates)
		doc.Status = model.StatusTagged
		log.Info("toc classified", "title", doc.Title)
	} else {
		log.Error("tag failed", "title", doc.Title, "error", outcome.Error)
	}
	if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
		log.Error("tag: failed to persist outcome", "error", werr)
	}

	return doc, nil
}

func (m *Machine) runIndex(ctx context.Context, log *slog.Logger, doc *model.Document, result *Result) (*model.Document, error) {
	if m.Indexer == nil || !indexEligible(doc.Status) {
		return doc, nil
	}

	doc = m.reload(ctx, log, doc)

	stageStart := time.Now()
	if err := m.Store.UpdateDocument(ctx, doc.ID, map[string]any{"status": model.StatusIndexing}, false); err != nil {
		return doc, fmt.Errorf("stage.runIndex: write transient status: %w", err)
	}

	outcome, err := m.Indexer.Process(ctx, doc, m.SaveChunks)
	if err != nil {
		return doc, fmt.Errorf("stage.runIndex: %w", err)
	}
	setElapsed(&outcome, "index", stageStart)
	result.Stages["index"] = outcome

	if outcome.Success {
		applyUpdates(doc, outcome.Updates)
		doc.Status = model.StatusIndexed
		if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
			log.Error("index: failed to persist success", "error", werr)
		}
		log.Info("indexed", "title", doc.Title)

		if m.Tagger != nil {
			reloaded := m.reload(ctx, log, doc)
			chunkOutcome, cerr := m.Tagger.TagChunks(ctx, reloaded)
			if cerr != nil {
				log.Warn("chunk tagging errored", "title", doc.Title, "error", cerr)
			} else if chunkOutcome.Success {
				log.Info("chunks tagged", "title", doc.Title)
			}
		}
		return doc, nil
	}

	doc.Status = model.StatusIndexFailed
	doc.ErrorMessage = outcome.Error
	if werr := m.Store.UpdateDocument(ctx, doc.ID, terminalFields(doc, outcome), true); werr != nil {
		log.Error("index: failed to persist failure", "error", werr)
	}
	log.Error("index failed", "title", doc.Title, "error", outcome.Error)
	return doc, nil
}

func indexEligible(s model.Status) bool {
	switch s {
	case model.StatusTagged, model.StatusSummarized, model.StatusParsed, model.StatusDownloaded:
		return true
	default:
		return false
	}
}

// reload re-reads the document from the store so the next stage observes
// persisted side effects of the one before it rather than the in-memory
// copy this worker has been carrying.
func (m *Machine) reload(ctx context.Context, log *slog.Logger, doc *model.Document) *model.Document {
	reloaded, err := m.Store.GetDocument(ctx, doc.ID)
	if err != nil || reloaded == nil {
		if err != nil {
			log.Warn("reload failed, continuing with in-memory copy", "error", err)
		}
		return doc
	}
	reloaded.ID = doc.ID
	return reloaded
}

func setElapsed(o *Outcome, stageName string, start time.Time) {
	if o.Updates == nil {
		return
	}
	stages, ok := o.Updates["stages"].(map[string]model.StageResult)
	if !ok {
		return
	}
	if sr, ok := stages[stageName]; ok {
		sr.ElapsedSeconds = time.Since(start).Seconds()
		stages[stageName] = sr
	}
}

func applyUpdates(doc *model.Document, updates map[string]any) {
	if updates == nil {
		return
	}
	if v, ok := updates["stages"].(map[string]model.StageResult); ok {
		if doc.Stages == nil {
			doc.Stages = make(map[string]model.StageResult)
		}
		for k, sr := range v {
			doc.Stages[k] = sr
		}
	}
	if v, ok := updates["parsedFolder"].(string); ok {
		doc.ParsedFolder = v
	}
	if v, ok := updates["pageCount"].(int); ok {
		doc.PageCount = v
	}
	if v, ok := updates["wordCount"].(int); ok {
		doc.WordCount = v
	}
	if v, ok := updates["fullSummary"].(string); ok {
		doc.FullSummary = v
	}
	if v, ok := updates["toc"].([]string); ok {
		doc.TOC = v
	}
}

func terminalFields(doc *model.Document, outcome Outcome) map[string]any {
	fields := map[string]any{"status": doc.Status}
	if doc.ErrorMessage != "" {
		fields["errorMessage"] = doc.ErrorMessage
	}
	if doc.Stages != nil {
		fields["stages"] = doc.Stages
	}
	for k, v := range outcome.Updates {
		if k == "stages" {
			continue
		}
		fields[k] = v
	}
	return fields
}
