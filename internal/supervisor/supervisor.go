// Package supervisor classifies the outcomes a worker pool reports for each
// document, marks crashed or hung documents as stopped in the store, and
// accumulates run-level statistics (SPEC_FULL §4, DESIGN NOTES §9).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/connexus-ai/evallab-pipeline/internal/stage"
	"github.com/connexus-ai/evallab-pipeline/internal/workerpool"
)

// Stats tallies one processing run, mirroring the source's
// {processed, success, failed} dict.
type Stats struct {
	Processed int
	Success   int
	Failed    int
}

// ProcessingLogStore is the narrow store surface needed to look up a
// stopped document's parsed folder before generating its processing log.
type ProcessingLogStore interface {
	ParsedFolderOf(ctx context.Context, docID string) (string, bool, error)
}

// StopWriter marks a document stopped, matching the source's
// sys_status/sys_error_message/sys_last_updated update triple.
type StopWriter interface {
	MarkStopped(ctx context.Context, docID, reason string) error
}

// Supervisor consumes workerpool.Outcome values and turns them into run
// statistics plus stopped-document side effects.
type Supervisor struct {
	Stopper StopWriter
	Logs    stage.ProcessingLogger
	Store   ProcessingLogStore
}

// Observe classifies one outcome, updates stats in place, and (for a
// crashed, timed-out or in-band-error document) marks it stopped and
// requests its processing log. It never returns an error itself: every
// failure to write the stop record is logged and swallowed, matching the
// source's own best-effort mark_as_stopped.
func (s *Supervisor) Observe(ctx context.Context, o workerpool.Outcome, stats *Stats) {
	stats.Processed++

	switch {
	case o.TimedOut:
		stats.Failed++
		s.stop(ctx, o.Doc.ID, "Worker Timeout/OOM")

	case o.Panicked:
		stats.Failed++
		s.stop(ctx, o.Doc.ID, fmt.Sprintf("Worker Crash: %v", o.Err))

	case o.Err != nil:
		stats.Failed++
		s.stop(ctx, o.Doc.ID, fmt.Sprintf("Worker Error: %v", o.Err))

	case o.Result == nil || len(o.Result.Stages) == 0:
		// No stages ran (e.g. every stage skipped) — neither success nor
		// failure, matching the source's bare `pass`.

	case allStagesSucceeded(o.Result.Stages):
		stats.Success++

	default:
		stats.Failed++
	}
}

func allStagesSucceeded(stages map[string]stage.Outcome) bool {
	for _, o := range stages {
		if !o.Success {
			return false
		}
	}
	return true
}

func (s *Supervisor) stop(ctx context.Context, docID, reason string) {
	if s.Stopper == nil {
		slog.Warn("supervisor: skipping stop update, no StopWriter configured", "document_id", docID)
		return
	}
	if err := s.Stopper.MarkStopped(ctx, docID, reason); err != nil {
		slog.Error("supervisor: failed to mark document stopped", "document_id", docID, "error", err)
		return
	}
	slog.Warn("supervisor: marked document stopped", "document_id", docID, "reason", reason)

	if s.Store == nil || s.Logs == nil {
		return
	}
	folder, ok, err := s.Store.ParsedFolderOf(ctx, docID)
	if err != nil {
		slog.Error("supervisor: failed to look up parsed folder for stopped document", "document_id", docID, "error", err)
		return
	}
	if !ok || folder == "" {
		return
	}
	s.Logs.Generate(ctx, docID, folder)
}

// ObserveAll runs Observe over every outcome in order and returns the
// accumulated Stats, matching run_processing's overall return value.
func (s *Supervisor) ObserveAll(ctx context.Context, outcomes []workerpool.Outcome) Stats {
	var stats Stats
	for _, o := range outcomes {
		s.Observe(ctx, o, &stats)
	}
	return stats
}
