// Package selector resolves the set of documents eligible for a run from
// stage skip flags, filters, ordering and partitioning.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// Store is the read-only subset of the document store the selector needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentsByStatus(ctx context.Context, status model.Status, year *int) ([]*model.Document, error)
	GetYearsForStatus(ctx context.Context, status model.Status) ([]int, error)
	AllDocuments(ctx context.Context) ([]*model.Document, error)
}

// StageFlags names which stages are skipped for this run.
type StageFlags struct {
	SkipParse      bool
	SkipSummarize  bool
	SkipTag        bool
	SkipIndex      bool
}

// Partition is a contiguous 1-based M/N slice of the selected list, for
// horizontal run-time fan-out across orchestrator processes.
type Partition struct {
	Num   int
	Total int
}

// Params bundles the selector's inputs: stage flags, a filter bundle,
// ordering, partitioning and a result limit.
type Params struct {
	Stages StageFlags

	// DocID, if non-empty, short-circuits the whole selection to a single
	// document lookup (step 1 of the algorithm).
	DocID string

	Agency      string
	Report      string
	RecentFirst bool

	Partition *Partition
	Limit     int
}

// Select resolves the documents eligible for this run, implementing, in
// order: doc-id short-circuit, per-stage status collection, dedupe by id
// (last wins), agency/report filters, recent-first sort, partition slicing,
// and limit truncation.
func Select(ctx context.Context, store Store, p Params) ([]*model.Document, error) {
	if p.DocID != "" {
		slog.Info("selector targeting specific document", "document_id", p.DocID)
		doc, err := store.GetDocument(ctx, p.DocID)
		if err != nil {
			return nil, fmt.Errorf("selector.Select: get document %s: %w", p.DocID, err)
		}
		if doc == nil {
			slog.Error("selector document not found", "document_id", p.DocID)
			return nil, nil
		}
		return []*model.Document{doc}, nil
	}

	docs, err := collectByStage(ctx, store, p)
	if err != nil {
		return nil, fmt.Errorf("selector.Select: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	docs = dedupeByID(docs)
	docs = applyFilters(docs, p.Agency, p.Report)
	if len(docs) == 0 {
		return nil, nil
	}

	if p.RecentFirst {
		docs = sortRecentFirst(docs)
	}

	if p.Partition != nil {
		docs = partitionSlice(docs, p.Partition.Num, p.Partition.Total)
	}

	if p.Limit > 0 && len(docs) > p.Limit {
		docs = docs[:p.Limit]
	}

	return docs, nil
}

// collectByStage reads, for each enabled stage, the documents sitting in
// the status that precedes it. Mirrors the source's stage_configs table:
// tagged->index, summarized->tag, parsed->(summarize or index when
// summarize is skipped), downloaded->parse.
func collectByStage(ctx context.Context, store Store, p Params) ([]*model.Document, error) {
	var out []*model.Document

	type stageConfig struct {
		status  model.Status
		enabled bool
	}
	configs := []stageConfig{
		{model.StatusTagged, !p.Stages.SkipIndex},
		{model.StatusSummarized, !p.Stages.SkipTag},
		{model.StatusParsed, !p.Stages.SkipSummarize || !p.Stages.SkipIndex},
	}

	for _, c := range configs {
		if !c.enabled {
			continue
		}
		docs, err := docsByStatus(ctx, store, c.status, p.RecentFirst)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			slog.Info("selector found documents", "status", c.status, "count", len(docs))
			out = append(out, docs...)
		}
	}

	if !p.Stages.SkipParse {
		docs, err := collectParseDocs(ctx, store, p.Report, p.RecentFirst)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}

	return out, nil
}

func collectParseDocs(ctx context.Context, store Store, report string, recentFirst bool) ([]*model.Document, error) {
	if report != "" {
		return store.AllDocuments(ctx)
	}
	docs, err := docsByStatus(ctx, store, model.StatusDownloaded, recentFirst)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		slog.Info("selector found downloaded documents to parse", "count", len(docs))
	}
	return docs, nil
}

func docsByStatus(ctx context.Context, store Store, status model.Status, recentFirst bool) ([]*model.Document, error) {
	if recentFirst {
		return recentFirstByStatus(ctx, store, status)
	}
	return store.GetDocumentsByStatus(ctx, status, nil)
}

// recentFirstByStatus fetches a status year-by-year, most recent first,
// using the store's year facet so it need not scan the whole status.
func recentFirstByStatus(ctx context.Context, store Store, status model.Status) ([]*model.Document, error) {
	slog.Info("selector fetching recent-first", "status", status)

	years, err := store.GetYearsForStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("get years for status %s: %w", status, err)
	}
	if len(years) == 0 {
		slog.Info("selector no years found in facets, falling back to basic fetch", "status", status)
		return store.GetDocumentsByStatus(ctx, status, nil)
	}

	var all []*model.Document
	for _, year := range years {
		y := year
		docsForYear, err := store.GetDocumentsByStatus(ctx, status, &y)
		if err != nil {
			return nil, fmt.Errorf("get documents for status %s year %d: %w", status, year, err)
		}
		if len(docsForYear) == 0 {
			continue
		}
		sort.Slice(docsForYear, func(i, j int) bool { return docsForYear[i].ID < docsForYear[j].ID })
		all = append(all, docsForYear...)
	}
	return all, nil
}

// dedupeByID removes duplicate documents by id, keeping the last seen entry
// (P4: selector output is stable under reordering up to this rule).
func dedupeByID(docs []*model.Document) []*model.Document {
	seen := make(map[string]*model.Document, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		if _, ok := seen[d.ID]; !ok {
			order = append(order, d.ID)
		}
		seen[d.ID] = d
	}
	out := make([]*model.Document, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	return out
}

func applyFilters(docs []*model.Document, agency, report string) []*model.Document {
	if agency != "" {
		filtered := docs[:0:0]
		for _, d := range docs {
			if d.Organization == agency {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	if report != "" {
		needle := report
		if abs, err := filepath.Abs(report); err == nil {
			if _, statErr := os.Stat(abs); statErr == nil {
				if rel, relErr := filepath.Rel(".", abs); relErr == nil {
					needle = rel
				}
			}
		}
		filtered := docs[:0:0]
		for _, d := range docs {
			if strings.Contains(d.Filepath, needle) {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	return docs
}

// sortRecentFirst orders documents by published year descending; a missing
// or non-numeric year sorts as 0.
func sortRecentFirst(docs []*model.Document) []*model.Document {
	sorted := make([]*model.Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year() > sorted[j].Year() })

	preview := sorted
	if len(preview) > 5 {
		preview = preview[:5]
	}
	years := make([]int, len(preview))
	for i, d := range preview {
		years[i] = d.Year()
	}
	slog.Debug("selector sorted by year (recent first)", "top_years", years)

	return sorted
}

// partitionSlice splits docs into partitionTotal contiguous slices, any
// remainder distributed to the first R slices, and returns the
// partitionNum'th (1-indexed) slice. See Scenario S1: 11 docs, partition
// 3/4 -> [d7, d8, d9] (chunk size 2, remainder 3, starts 0,3,6,9).
func partitionSlice(docs []*model.Document, partitionNum, partitionTotal int) []*model.Document {
	if partitionNum == 0 || partitionTotal == 0 {
		return docs
	}

	total := len(docs)
	chunkSize := total / partitionTotal
	remainder := total % partitionTotal

	start := 0
	for i := 1; i < partitionNum; i++ {
		start += chunkSize
		if i <= remainder {
			start++
		}
	}

	end := start + chunkSize
	if partitionNum <= remainder {
		end++
	}
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	slog.Debug("selector partition", "num", partitionNum, "total", partitionTotal, "start", start+1, "end", end, "of", total)
	return docs[start:end]
}
