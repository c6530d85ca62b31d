// Package workerpool dispatches per-document stage-machine tasks across a
// pool of long-lived workers. Each worker initializes its heavy processors
// once, then processes documents until a task-count cap triggers
// recycling (DESIGN NOTES: "Subprocess isolation" — a goroutine pool with
// per-task deadlines and periodic recycling substitutes for the source's
// per-task OS-process isolation).
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
	"github.com/connexus-ai/evallab-pipeline/internal/stage"
	"golang.org/x/sync/errgroup"
)

// Closer is implemented by worker state that holds resources (store
// connections, model handles) needing release on recycle.
type Closer interface {
	Close() error
}

// Init builds the heavy, worker-local state (processors, store handle)
// exactly once per worker lifetime, per the pool contract (b).
type Init func() (any, error)

// Process runs the stage machine for one document using a worker's local
// state, returning the stage results or a terminal error. A returned error
// is treated the same as an in-band "error" field in the source's result
// dict — it surfaces to the caller as a document-level fault, not a fatal
// run error.
type Process func(ctx context.Context, workerState any, doc *model.Document) (*stage.Result, error)

// Outcome is what the pool reports for one submitted document.
type Outcome struct {
	Doc     *model.Document
	Result  *stage.Result
	Err     error
	TimedOut bool
	Panicked bool
}

// Pool dispatches document tasks across Workers long-lived goroutines.
type Pool struct {
	// Workers is the desired worker count W. Workers == 1 runs the
	// virtual pool: initialization in-process, tasks sequential,
	// exactly as the source treats W == 1 as not warranting process
	// isolation at all.
	Workers int

	// MaxTasksPerWorker recycles a worker's state after this many tasks
	// (K_max, default 5) to bound memory growth.
	MaxTasksPerWorker int

	// TaskTimeout bounds a single task (T_task, default 600s).
	TaskTimeout time.Duration

	Init    Init
	Process Process
}

// Run processes every document in docs, honoring at most Workers
// concurrent tasks (contract a), calling Init exactly once per worker
// lifetime/recycle (contract b), and guaranteeing no ordering between
// concurrent tasks (contract c). A per-task timeout or panic surfaces as a
// terminal Outcome for that document without corrupting other in-flight
// work (contract d).
func (p *Pool) Run(ctx context.Context, docs []*model.Document) ([]Outcome, error) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	maxTasks := p.MaxTasksPerWorker
	if maxTasks < 1 {
		maxTasks = 5
	}
	timeout := p.TaskTimeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	tasks := make(chan *model.Document)
	results := make([]Outcome, len(docs))
	var mu sync.Mutex
	indexByID := make(map[string]int, len(docs))
	for i, d := range docs {
		indexByID[d.ID] = i
	}

	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		workerID := w
		g.Go(func() error {
			return p.runWorker(gctx, workerID, maxTasks, timeout, tasks, func(doc *model.Document, o Outcome) {
				mu.Lock()
				results[indexByID[doc.ID]] = o
				mu.Unlock()
			})
		})
	}

	g.Go(func() error {
		defer close(tasks)
		for _, d := range docs {
			select {
			case tasks <- d:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("workerpool.Run: %w", err)
	}
	return results, nil
}

func (p *Pool) runWorker(ctx context.Context, workerID, maxTasks int, timeout time.Duration, tasks <-chan *model.Document, report func(*model.Document, Outcome)) error {
	state, err := p.Init()
	if err != nil {
		return fmt.Errorf("workerpool: worker %d init: %w", workerID, err)
	}
	tasksDone := 0

	for {
		var doc *model.Document
		var ok bool
		select {
		case doc, ok = <-tasks:
			if !ok {
				closeState(state)
				return nil
			}
		case <-ctx.Done():
			closeState(state)
			return ctx.Err()
		}

		outcome := p.runTask(ctx, workerID, timeout, state, doc)
		report(doc, outcome)
		tasksDone++

		if tasksDone >= maxTasks {
			slog.Info("workerpool recycling worker", "worker_id", workerID, "tasks_done", tasksDone)
			closeState(state)
			state, err = p.Init()
			if err != nil {
				return fmt.Errorf("workerpool: worker %d re-init after recycle: %w", workerID, err)
			}
			tasksDone = 0
		}
	}
}

// runTask bounds one document's processing by timeout and recovers a
// panic as a worker-crash outcome, so neither corrupts the other in-flight
// tasks (contract d).
func (p *Pool) runTask(ctx context.Context, workerID int, timeout time.Duration, state any, doc *model.Document) (outcome Outcome) {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome.Doc = doc

	done := make(chan struct{})
	var result *stage.Result
	var taskErr error

	go func() {
		defer func() {
			if r := recover(); r != nil {
				taskErr = fmt.Errorf("worker panic: %v", r)
				outcome.Panicked = true
			}
			close(done)
		}()
		result, taskErr = p.Process(taskCtx, state, doc)
	}()

	select {
	case <-done:
		outcome.Result = result
		outcome.Err = taskErr
	case <-taskCtx.Done():
		outcome.TimedOut = true
		outcome.Err = taskCtx.Err()
		slog.Error("workerpool task timed out", "worker_id", workerID, "document_id", doc.ID)
		// The abandoned goroutine may still be running Process; it owns
		// its own result/taskErr locals and nothing reads them after this
		// point, mirroring the source killing the worker process outright
		// rather than waiting on it.
	}

	return outcome
}

func closeState(state any) {
	if c, ok := state.(Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("workerpool failed to close worker state", "error", err)
		}
	}
}
