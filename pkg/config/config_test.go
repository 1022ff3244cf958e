package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Parse([]byte("openai:\n  api_key: sk-test\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Transcriber.SegmentDuration != 600 {
		t.Fatalf("segment duration = %d, want 600", cfg.Transcriber.SegmentDuration)
	}
	if cfg.Transcriber.MaxAttempts != 1 {
		t.Fatalf("max attempts = %d, want 1", cfg.Transcriber.MaxAttempts)
	}
	if cfg.Transcriber.Language != "ja" {
		t.Fatalf("language = %q, want ja", cfg.Transcriber.Language)
	}
	if cfg.Audio.MaxSizeMB != 500 || cfg.Audio.MaxDurationMinutes != 120 {
		t.Fatalf("audio limits = %d MB / %d min", cfg.Audio.MaxSizeMB, cfg.Audio.MaxDurationMinutes)
	}
	if cfg.Storage.WorkingDir != "processed_audio" || cfg.Storage.ReportsDir != "transcription_results" {
		t.Fatalf("dirs = %q / %q", cfg.Storage.WorkingDir, cfg.Storage.ReportsDir)
	}
	if cfg.Server.MaxUploadSize != 500*1024*1024 {
		t.Fatalf("max upload = %d", cfg.Server.MaxUploadSize)
	}
	if cfg.Queue.Type != "memory" || cfg.Storage.Type != "memory" {
		t.Fatalf("queue/storage = %q/%q", cfg.Queue.Type, cfg.Storage.Type)
	}
}

func TestParseEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Parse([]byte("openai:\n  api_key: your-openai-api-key-here\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q", cfg.OpenAI.APIKey)
	}
}

func TestParseRejectsPlaceholderKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Parse([]byte("openai:\n  api_key: your-openai-api-key-here\n")); err == nil {
		t.Fatal("expected error for placeholder api key")
	}
}

func TestParseRejectsUnknownQueue(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := Parse([]byte("queue:\n  type: kafka\n"))
	if err == nil || !strings.Contains(err.Error(), "kafka") {
		t.Fatalf("error = %v, want unsupported queue type", err)
	}
}

func TestParseRequiresPostgresDSNForHybrid(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	if _, err := Parse([]byte("storage:\n  type: hybrid\n")); err == nil {
		t.Fatal("expected error when hybrid storage has no dsn")
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "openai:\n  api_key: sk-file\ntranscriber:\n  segment_duration: 300\n  global_timeline: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Transcriber.SegmentDuration != 300 || !cfg.Transcriber.GlobalTimeline {
		t.Fatalf("transcriber = %+v", cfg.Transcriber)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
