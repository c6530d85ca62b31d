package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATA_MOUNT_PATH", "EMBEDDING_API_URL", "DENSE_EMBEDDING_MODEL",
		"MODEL_MODE", "INFINITY_PORT", "INFINITY_BATCH_SIZE",
		"LOG_DIR", "TASK_TIMEOUT_SECONDS", "MAX_TASKS_PER_WORKER",
		"MEMORY_THRESHOLD_BYTES", "MEMORY_WAIT_SECONDS", "NUM_THREADS",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataMountPath != "./data" {
		t.Errorf("DataMountPath = %q, want %q", cfg.DataMountPath, "./data")
	}
	if cfg.TaskTimeoutSeconds != 600 {
		t.Errorf("TaskTimeoutSeconds = %d, want 600", cfg.TaskTimeoutSeconds)
	}
	if cfg.MaxTasksPerWorker != 5 {
		t.Errorf("MaxTasksPerWorker = %d, want 5", cfg.MaxTasksPerWorker)
	}
	if cfg.MemoryThresholdBytes != 2*1024*1024*1024 {
		t.Errorf("MemoryThresholdBytes = %d, want 2GiB", cfg.MemoryThresholdBytes)
	}
	if cfg.MemoryWaitSeconds != 600 {
		t.Errorf("MemoryWaitSeconds = %d, want 600", cfg.MemoryWaitSeconds)
	}
	if cfg.NumThreads != 1 {
		t.Errorf("NumThreads = %d, want 1", cfg.NumThreads)
	}
	if cfg.ModelMode != "remote" {
		t.Errorf("ModelMode = %q, want %q", cfg.ModelMode, "remote")
	}
	if cfg.InfinityPort != 7997 {
		t.Errorf("InfinityPort = %d, want 7997", cfg.InfinityPort)
	}
	if cfg.InfinityBatchSize != 32 {
		t.Errorf("InfinityBatchSize = %d, want 32", cfg.InfinityBatchSize)
	}
}

func TestLoadCustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_MOUNT_PATH", "/mnt/evallab")
	t.Setenv("TASK_TIMEOUT_SECONDS", "120")
	t.Setenv("MAX_TASKS_PER_WORKER", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataMountPath != "/mnt/evallab" {
		t.Errorf("DataMountPath = %q, want %q", cfg.DataMountPath, "/mnt/evallab")
	}
	if cfg.TaskTimeoutSeconds != 120 {
		t.Errorf("TaskTimeoutSeconds = %d, want 120", cfg.TaskTimeoutSeconds)
	}
	if cfg.MaxTasksPerWorker != 10 {
		t.Errorf("MaxTasksPerWorker = %d, want 10", cfg.MaxTasksPerWorker)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASK_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TaskTimeoutSeconds != 600 {
		t.Errorf("TaskTimeoutSeconds = %d, want 600 (fallback)", cfg.TaskTimeoutSeconds)
	}
}

func TestLoadEmptyDataMountPathUsesDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_MOUNT_PATH", "")

	_, err := Load()
	if err != nil {
		t.Fatalf("Load() with unset DATA_MOUNT_PATH should use the default, got error: %v", err)
	}
}

func TestConfigureThreadEnvSetsAllCaps(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUM_THREADS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.ConfigureThreadEnv()

	for _, key := range []string{
		"OMP_NUM_THREADS", "MKL_NUM_THREADS", "OPENBLAS_NUM_THREADS",
		"VECLIB_MAXIMUM_THREADS", "NUMEXPR_NUM_THREADS", "ONNXRUNTIME_INTRA_OP_NUM_THREADS",
	} {
		if v := os.Getenv(key); v != "2" {
			t.Errorf("%s = %q, want %q", key, v, "2")
		}
	}
}
