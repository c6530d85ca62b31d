package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
data_sources:
  who-reports:
    name: who-reports
    downloader:
      command: scripts/download_who.py
      args:
        - "--data-dir"
        - "{data_dir}"
        - "--year"
        - "{year}"
        - "--agency"
        - "{agency}"
    chunk:
      max_tokens: 512
      tokenizer: cl100k_base
    skip_tag: false
`

func writeTempYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp yaml: %v", err)
	}
	return path
}

func TestLoadPipelineConfig(t *testing.T) {
	path := writeTempYAML(t, sampleYAML)

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}

	ds, err := cfg.Get("who-reports")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ds.Downloader.Command != "scripts/download_who.py" {
		t.Errorf("Command = %q, want %q", ds.Downloader.Command, "scripts/download_who.py")
	}
	if len(ds.Downloader.Args) != 6 {
		t.Fatalf("Args = %v, want 6 entries", ds.Downloader.Args)
	}
	if ds.Chunk.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", ds.Chunk.MaxTokens)
	}
}

func TestPipelineConfigGetUnknownDataSource(t *testing.T) {
	path := writeTempYAML(t, sampleYAML)
	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}

	if _, err := cfg.Get("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown data source")
	}
}
