// Package config loads the orchestrator's environment-driven runtime
// settings and per-data-source YAML pipeline definitions.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds orchestrator-wide settings loaded from the environment. It
// is immutable after Load() returns.
type Config struct {
	// DataMountPath is the root directory for a data source's pdfs/,
	// parsed/ and log folders.
	DataMountPath string

	// DatabaseURL is a standard postgres:// connection string for the
	// document/chunk store.
	DatabaseURL      string
	PostgresMaxConns int

	// PipelineConfigPath points at the YAML file describing each data
	// source's downloader command and chunk settings.
	PipelineConfigPath string

	// GCP project/location/processor back the Document AI parser and
	// Vertex AI (GenAI) summarizer/tagger.
	GCPProject     string
	GCPLocation    string
	DocAIProcessor string
	GenAIModel     string

	EmbeddingAPIURL     string
	DenseEmbeddingModel string

	// ModelMode names the embedding backend (C8): "remote" (the default)
	// uses an HTTP embedding server; "local" indexes without any embedder,
	// as this build has no in-process model. The orchestrator takes the
	// mode from its --model-mode flag, not from this field.
	ModelMode         string
	InfinityPort      int
	InfinityBatchSize int

	LogDir string

	// Worker pool tuning (§4.3, §4.5).
	TaskTimeoutSeconds   int
	MaxTasksPerWorker    int
	MemoryThresholdBytes int64
	MemoryWaitSeconds    int

	// Numerical-thread caps forced on each worker at init (§5), kept
	// explicit in config rather than relying on process inheritance
	// (DESIGN NOTES: "Environment-driven thread caps").
	NumThreads int
}

// Load reads orchestrator configuration from the environment. All fields
// have defaults; nothing is required to start an in-process / single-
// worker run.
func Load() (*Config, error) {
	cfg := &Config{
		DataMountPath:        envStr("DATA_MOUNT_PATH", "./data"),
		DatabaseURL:          envStr("DATABASE_URL", "postgres://localhost:5432/evallab?sslmode=disable"),
		PostgresMaxConns:     envInt("POSTGRES_MAX_CONNS", 10),
		PipelineConfigPath:   envStr("PIPELINE_CONFIG_PATH", "./pipeline.yaml"),
		GCPProject:           envStr("GCP_PROJECT", ""),
		GCPLocation:          envStr("GCP_LOCATION", "us"),
		DocAIProcessor:       envStr("DOCAI_PROCESSOR", ""),
		GenAIModel:           envStr("GENAI_MODEL", "gemini-1.5-flash"),
		EmbeddingAPIURL:      envStr("EMBEDDING_API_URL", ""),
		DenseEmbeddingModel:  envStr("DENSE_EMBEDDING_MODEL", "BAAI/bge-small-en-v1.5"),
		ModelMode:            envStr("MODEL_MODE", "remote"),
		InfinityPort:         envInt("INFINITY_PORT", 7997),
		InfinityBatchSize:    envInt("INFINITY_BATCH_SIZE", 32),
		LogDir:               envStr("LOG_DIR", "./logs"),
		TaskTimeoutSeconds:   envInt("TASK_TIMEOUT_SECONDS", 600),
		MaxTasksPerWorker:    envInt("MAX_TASKS_PER_WORKER", 5),
		MemoryThresholdBytes: int64(envInt("MEMORY_THRESHOLD_BYTES", 2*1024*1024*1024)),
		MemoryWaitSeconds:    envInt("MEMORY_WAIT_SECONDS", 600),
		NumThreads:           envInt("NUM_THREADS", 1),
	}

	if cfg.DataMountPath == "" {
		return nil, fmt.Errorf("config.Load: DATA_MOUNT_PATH must not be empty")
	}

	return cfg, nil
}

// ConfigureThreadEnv forces single-threaded execution for the numerical
// libraries (tokenizers, BLAS kernels) a worker process loads, avoiding CPU
// oversubscription when running with more than one worker (§5).
func (c *Config) ConfigureThreadEnv() {
	n := strconv.Itoa(c.NumThreads)
	for _, key := range []string{
		"OMP_NUM_THREADS",
		"MKL_NUM_THREADS",
		"OPENBLAS_NUM_THREADS",
		"VECLIB_MAXIMUM_THREADS",
		"NUMEXPR_NUM_THREADS",
		"ONNXRUNTIME_INTRA_OP_NUM_THREADS",
	} {
		_ = os.Setenv(key, n)
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
