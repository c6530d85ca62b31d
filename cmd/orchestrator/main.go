// Command orchestrator runs one data source's document pipeline end to
// end: download, scan, select, then parse/summarize/tag/index each
// eligible document through a worker pool, reporting run statistics and
// exiting non-zero if any document failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/evallab-pipeline/internal/cache"
	"github.com/connexus-ai/evallab-pipeline/internal/chunker"
	"github.com/connexus-ai/evallab-pipeline/internal/config"
	"github.com/connexus-ai/evallab-pipeline/internal/downloader"
	"github.com/connexus-ai/evallab-pipeline/internal/embedserver"
	"github.com/connexus-ai/evallab-pipeline/internal/gcpclient"
	"github.com/connexus-ai/evallab-pipeline/internal/metrics"
	"github.com/connexus-ai/evallab-pipeline/internal/model"
	"github.com/connexus-ai/evallab-pipeline/internal/resourceguard"
	"github.com/connexus-ai/evallab-pipeline/internal/scanner"
	"github.com/connexus-ai/evallab-pipeline/internal/selector"
	"github.com/connexus-ai/evallab-pipeline/internal/stage"
	"github.com/connexus-ai/evallab-pipeline/internal/store"
	"github.com/connexus-ai/evallab-pipeline/internal/supervisor"
	"github.com/connexus-ai/evallab-pipeline/internal/worker"
	"github.com/connexus-ai/evallab-pipeline/internal/workerpool"
)

type runFlags struct {
	dataSource    string
	numRecords    int
	workers       int
	skipDownload  bool
	skipScan      bool
	skipParse     bool
	skipSummarize bool
	skipTag       bool
	skipIndex     bool
	saveChunks    bool
	recentFirst   bool
	clearDB       bool
	partition     string
	report        string
	agency        string
	fileID        string
	modelMode     string
	year          int
	fromYear      int
	toYear        int
}

func parseFlags(args []string) (*runFlags, error) {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	f := &runFlags{}

	fs.StringVar(&f.dataSource, "data-source", "", "name of the data source to run (required)")
	fs.IntVar(&f.numRecords, "num-records", 0, "limit how many records the downloader fetches (0 = no limit)")
	fs.IntVar(&f.workers, "workers", 1, "number of concurrent workers")
	fs.BoolVar(&f.skipDownload, "skip-download", false, "skip the download step")
	fs.BoolVar(&f.skipScan, "skip-scan", false, "skip the filesystem scan step")
	fs.BoolVar(&f.skipParse, "skip-parse", false, "skip the parse stage")
	fs.BoolVar(&f.skipSummarize, "skip-summarize", false, "skip the summarize stage")
	fs.BoolVar(&f.skipTag, "skip-tag", false, "skip the tag stage")
	fs.BoolVar(&f.skipIndex, "skip-index", false, "skip the index stage")
	fs.BoolVar(&f.saveChunks, "save-chunks", false, "persist chunks (and their embeddings) during indexing")
	fs.BoolVar(&f.recentFirst, "recent-first", false, "process documents most-recent-year first")
	fs.BoolVar(&f.clearDB, "clear-db", false, "clear all documents and chunks before running")
	fs.StringVar(&f.partition, "partition", "", "M/N contiguous partition of the selected set")
	fs.StringVar(&f.report, "report", "", "restrict to documents whose title/path matches this substring")
	fs.StringVar(&f.agency, "agency", "", "restrict to documents from this agency/organization")
	fs.StringVar(&f.fileID, "file-id", "", "run a single document by id")
	fs.StringVar(&f.modelMode, "model-mode", "remote", "embedding model mode: local or remote")
	fs.IntVar(&f.year, "year", 0, "restrict download to a single year")
	fs.IntVar(&f.fromYear, "from-year", 0, "restrict download to years >= this")
	fs.IntVar(&f.toYear, "to-year", 0, "restrict download to years <= this")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.dataSource == "" {
		return nil, fmt.Errorf("--data-source is required")
	}
	if f.modelMode != "local" && f.modelMode != "remote" {
		return nil, fmt.Errorf("--model-mode must be \"local\" or \"remote\", got %q", f.modelMode)
	}
	return f, nil
}

func parsePartition(spec string) (*selector.Partition, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("--partition must look like M/N, got %q", spec)
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("--partition: invalid M: %w", err)
	}
	total, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("--partition: invalid N: %w", err)
	}
	if num < 1 || total < 1 || num > total {
		return nil, fmt.Errorf("--partition: M/N must satisfy 1 <= M <= N, got %s", spec)
	}
	return &selector.Partition{Num: num, Total: total}, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		slog.Error("invalid flags", "error", err)
		os.Exit(2)
	}

	failed, err := run(context.Background(), f)
	if err != nil {
		slog.Error("orchestrator run failed", "error", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

// run executes one full pipeline pass and reports whether any document
// failed — the run's success flag is `stats.Failed == 0` (§7).
func run(ctx context.Context, f *runFlags) (failed bool, err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	cfg.ConfigureThreadEnv()

	pipelineCfg, err := config.LoadPipelineConfig(cfg.PipelineConfigPath)
	if err != nil {
		return false, fmt.Errorf("load pipeline config: %w", err)
	}
	ds, err := pipelineCfg.Get(f.dataSource)
	if err != nil {
		return false, err
	}

	partition, err := parsePartition(f.partition)
	if err != nil {
		return false, err
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.PostgresMaxConns)
	if err != nil {
		return false, fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	docStore := store.NewDocumentStore(pool)
	chunkStore := store.NewChunkStore(pool)

	if f.clearDB {
		if err := clearStore(ctx, pool); err != nil {
			return false, fmt.Errorf("clear-db: %w", err)
		}
	}

	dataDir := fmt.Sprintf("%s/%s", cfg.DataMountPath, ds.Name)

	if !f.skipDownload && !ds.SkipDownload {
		values := downloader.Values{DataDir: dataDir, Agency: f.agency, Report: f.report, DocID: f.fileID}
		if f.numRecords > 0 {
			values.NumRecords = &f.numRecords
		}
		if f.year > 0 {
			values.Year = &f.year
		}
		if f.fromYear > 0 {
			values.FromYear = &f.fromYear
		}
		if f.toYear > 0 {
			values.ToYear = &f.toYear
		}
		if err := downloader.Run(ctx, ds, values); err != nil {
			return false, fmt.Errorf("download: %w", err)
		}
	}

	if !f.skipScan && !ds.SkipScan {
		created, err := scanner.Scan(ctx, docStore, dataDir)
		if err != nil {
			return false, fmt.Errorf("scan: %w", err)
		}
		slog.Info("scan complete", "new_documents", created)
	}

	docs, err := selector.Select(ctx, docStore, selector.Params{
		Stages: selector.StageFlags{
			SkipParse:     f.skipParse || ds.SkipParse,
			SkipSummarize: f.skipSummarize || ds.SkipSummarize,
			SkipTag:       f.skipTag || ds.SkipTag,
			SkipIndex:     f.skipIndex || ds.SkipIndex,
		},
		DocID:       f.fileID,
		Agency:      f.agency,
		Report:      f.report,
		RecentFirst: f.recentFirst,
		Partition:   partition,
		Limit:       f.numRecords,
	})
	if err != nil {
		return false, fmt.Errorf("select documents: %w", err)
	}
	if len(docs) == 0 {
		slog.Info("no documents selected, nothing to do")
		return false, nil
	}
	slog.Info("selected documents for this run", "count", len(docs))

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	metricsSrv := startMetricsServer(reg)
	defer metricsSrv.Shutdown(context.Background())

	parsedRootDir := fmt.Sprintf("%s/parsed", dataDir)

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return false, fmt.Errorf("init storage client: %w", err)
	}
	defer storageAdapter.Close()

	var parser stage.Parser
	if !f.skipParse && !ds.SkipParse {
		p, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.DocAIProcessor, storageAdapter, parsedRootDir)
		if err != nil {
			return false, fmt.Errorf("init document ai adapter: %w", err)
		}
		parser = p
	}

	var summarizer stage.Summarizer
	var tagger stage.Tagger
	var llm *gcpclient.GenAIAdapter
	if (!f.skipSummarize && !ds.SkipSummarize) || (!f.skipTag && !ds.SkipTag) {
		llm, err = gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GenAIModel)
		if err != nil {
			return false, fmt.Errorf("init genai adapter: %w", err)
		}
		defer llm.Close()
		if !f.skipSummarize && !ds.SkipSummarize {
			summarizer = gcpclient.NewSummarizer(llm)
		}
		if !f.skipTag && !ds.SkipTag {
			tagger = gcpclient.NewTagger(llm)
		}
	}

	var indexer stage.Indexer
	var embedMgr *embedserver.Manager
	if !f.skipIndex && !ds.SkipIndex {
		indexer, embedMgr, err = buildIndexer(ctx, cfg, ds, f.modelMode, chunkStore)
		if err != nil {
			return false, fmt.Errorf("init indexer: %w", err)
		}
		if embedMgr != nil {
			if err := embedMgr.Start(ctx); err != nil {
				return false, fmt.Errorf("start embedding server: %w", err)
			}
			defer embedMgr.Stop(context.Background())
		}
	}

	logWriter := worker.NewProcessingLogWriter(cfg.LogDir)

	machine := &stage.Machine{
		Store:         docStore,
		Parser:        parser,
		Summarizer:    summarizer,
		Tagger:        tagger,
		Indexer:       indexer,
		SaveChunks:    f.saveChunks,
		ProcessingLog: logWriter,
	}

	guard := &resourceguard.Guard{
		ThresholdBytes: uint64(cfg.MemoryThresholdBytes),
		TotalWait:      time.Duration(cfg.MemoryWaitSeconds) * time.Second,
	}

	wp := &workerpool.Pool{
		Workers:           f.workers,
		MaxTasksPerWorker: cfg.MaxTasksPerWorker,
		TaskTimeout:       time.Duration(cfg.TaskTimeoutSeconds) * time.Second,
		Init:              func() (any, error) { return machine, nil },
		Process: func(ctx context.Context, workerState any, doc *model.Document) (*stage.Result, error) {
			if waitErr := guard.Wait(ctx); waitErr != nil {
				return &stage.Result{Doc: doc, Stages: map[string]stage.Outcome{
					"memory": {Success: false, Error: waitErr.Error()},
				}}, nil
			}
			m := workerState.(*stage.Machine)
			return m.Run(ctx, doc)
		},
	}

	outcomes, err := wp.Run(ctx, docs)
	if err != nil {
		return false, fmt.Errorf("run worker pool: %w", err)
	}

	for _, o := range outcomes {
		met.RecordWorkerOutcome(o)
		if o.Result != nil {
			met.RecordStageResult(o.Result)
		}
	}

	sup := &supervisor.Supervisor{Stopper: docStore, Logs: logWriter, Store: docStore}
	stats := sup.ObserveAll(ctx, outcomes)

	slog.Info("run complete", "processed", stats.Processed, "success", stats.Success, "failed", stats.Failed)
	return stats.Failed > 0, nil
}

// buildIndexer wires the chunking/indexing stage processor, resolving the
// embedding backend per modelMode (C8): "remote" starts (or reuses) an HTTP
// embedding server; "local" has no in-process embedder in this port, so
// indexing runs with no embedder and chunks are saved without vectors
// (documented simplification, DESIGN.md).
func buildIndexer(ctx context.Context, cfg *config.Config, ds *config.DataSource, modelMode string, chunkStore *store.ChunkStore) (stage.Indexer, *embedserver.Manager, error) {
	encoding := ds.Chunk.Tokenizer
	if encoding == "" {
		encoding = "cl100k_base"
	}
	maxTokens := ds.Chunk.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}

	if modelMode == "local" {
		slog.Warn("model-mode local has no in-process embedder in this build; indexing will store chunks without embeddings")
		ix := chunker.NewIndexer(chunkStore, nil, encoding)
		ix.MaxTokens = maxTokens
		return ix, nil, nil
	}

	url, needsStart := embedserver.ResolveURL(modelMode, cfg.EmbeddingAPIURL, false)
	var mgr *embedserver.Manager
	if needsStart {
		mgr = embedserver.New(cfg.DenseEmbeddingModel, cfg.InfinityPort, cfg.InfinityBatchSize, url, cfg.LogDir)
		url = mgr.BaseURL
	}

	httpEmbedder := embedserver.NewHTTPEmbedder(url, cfg.DenseEmbeddingModel)
	cachingEmbedder := cache.NewCachingEmbedder(httpEmbedder, cache.DefaultEmbeddingTTL())

	ix := chunker.NewIndexer(chunkStore, cachingEmbedder, encoding)
	ix.MaxTokens = maxTokens
	return ix, mgr, nil
}

// clearStore truncates the documents and chunks tables ahead of a fresh
// run (--clear-db); chunk rows cascade from their document foreign key.
func clearStore(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE documents CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate documents: %w", err)
	}
	return nil
}

func startMetricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
