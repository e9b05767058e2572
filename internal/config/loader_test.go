package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  source: wav
  wav_path: testdata/kitchen.wav
  sample_rate: 16000
  frame_duration_ms: 20

vad:
  aggressiveness: 0
  silence_threshold: 5

speaker:
  max_speakers: 4
  similarity_threshold: 0.55
  model_path: models/wespeaker.onnx

conversation:
  enter_keywords: ["hey gemma"]
  exit_keywords: ["goodbye"]
  fuzzy_keywords: true
  llm_timeout: 8s

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_deep:
    name: anthropic
    model: claude-sonnet
  stt:
    name: deepgram
    api_key: dg-test
  embeddings:
    name: ollama
    base_url: http://localhost:11434
    model: nomic-embed-text
  vad:
    name: webrtc

memory:
  sqlite_path: /var/lib/hearken/turns.db
  embedding_dimensions: 768

feedback:
  journal_path: /var/lib/hearken/feedback.jsonl

dataset:
  audio_dir: /var/lib/hearken/audio
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.Source != config.SourceWAV || cfg.Audio.FrameDurationMs != 20 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.Aggressiveness == nil || *cfg.VAD.Aggressiveness != 0 {
		t.Errorf("vad.aggressiveness = %v, want explicit 0", cfg.VAD.Aggressiveness)
	}
	if cfg.Speaker.MaxSpeakers != 4 || cfg.Speaker.SimilarityThreshold != 0.55 {
		t.Errorf("speaker = %+v", cfg.Speaker)
	}
	if cfg.Conversation.LLMTimeout != 8*time.Second {
		t.Errorf("llm_timeout = %v, want 8s", cfg.Conversation.LLMTimeout)
	}
	if !cfg.Conversation.FuzzyKeywords {
		t.Error("fuzzy_keywords = false, want true")
	}
	if cfg.Providers.Embeddings.BaseURL != "http://localhost:11434" {
		t.Errorf("embeddings.base_url = %q", cfg.Providers.Embeddings.BaseURL)
	}
	if cfg.Memory.Backend != config.BackendSQLite {
		t.Errorf("memory.backend = %q, want sqlite (inferred from sqlite_path)", cfg.Memory.Backend)
	}
	if cfg.Memory.EmbeddingDimensions != 768 {
		t.Errorf("memory.embedding_dimensions = %d, want 768", cfg.Memory.EmbeddingDimensions)
	}
	if cfg.Dataset.AudioDir != "/var/lib/hearken/audio" {
		t.Errorf("dataset.audio_dir = %q", cfg.Dataset.AudioDir)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	checks := []struct {
		name      string
		got, want any
	}{
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"source", cfg.Audio.Source, config.SourcePortAudio},
		{"sample_rate", cfg.Audio.SampleRate, 16000},
		{"frame_duration_ms", cfg.Audio.FrameDurationMs, 30},
		{"queue_size", cfg.Audio.QueueSize, 64},
		{"aggressiveness", *cfg.VAD.Aggressiveness, 2},
		{"silence_threshold", cfg.VAD.SilenceThreshold, 3},
		{"energy_threshold", cfg.VAD.EnergyThreshold, 0.01},
		{"max_speakers", cfg.Speaker.MaxSpeakers, 8},
		{"buffer_size", cfg.Speaker.BufferSize, 16000},
		{"similarity_threshold", cfg.Speaker.SimilarityThreshold, 0.40},
		{"min_frames_for_new_speaker", cfg.Speaker.MinFramesForNewSpeaker, 15},
		{"min_frames_for_change", cfg.Speaker.MinFramesForChange, 4},
		{"min_speech_energy", cfg.Speaker.MinSpeechEnergy, 0.02},
		{"embedding_alpha", cfg.Speaker.EmbeddingAlpha, 0.05},
		{"model_input", cfg.Speaker.ModelInput, "feats"},
		{"model_output", cfg.Speaker.ModelOutput, "embs"},
		{"max_history_items", cfg.Conversation.MaxHistoryItems, 20},
		{"max_context_messages", cfg.Conversation.MaxContextMessages, 6},
		{"force_segment_frames", cfg.Conversation.ForceSegmentFrames, 30},
		{"min_partial_chars", cfg.Conversation.MinPartialChars, 5},
		{"llm_timeout", cfg.Conversation.LLMTimeout, 20 * time.Second},
		{"backend", cfg.Memory.Backend, config.BackendNone},
		{"embedding_dimensions", cfg.Memory.EmbeddingDimensions, 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.Conversation.EnterKeywords != nil {
		t.Errorf("enter_keywords = %v, want nil", cfg.Conversation.EnterKeywords)
	}
}

func TestApplyDefaults_BackendInference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mem  config.MemoryConfig
		want config.MemoryBackend
	}{
		{"postgres dsn", config.MemoryConfig{PostgresDSN: "postgres://localhost/hearken"}, config.BackendPostgres},
		{"sqlite path", config.MemoryConfig{SQLitePath: "turns.db"}, config.BackendSQLite},
		{"nothing", config.MemoryConfig{}, config.BackendNone},
		{"explicit wins", config.MemoryConfig{Backend: config.BackendNone, SQLitePath: "turns.db"}, config.BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Memory: tt.mem}
			config.ApplyDefaults(cfg)
			if cfg.Memory.Backend != tt.want {
				t.Errorf("backend = %q, want %q", cfg.Memory.Backend, tt.want)
			}
		})
	}
}

func TestApplyDefaults_EmbeddingDimensionsWhenProviderSet(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{Embeddings: config.ProviderEntry{Name: "openai"}}}
	config.ApplyDefaults(cfg)
	if cfg.Memory.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions = %d, want 1536", cfg.Memory.EmbeddingDimensions)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("speaker:\n  max_speakerz: 3\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"audio source", "audio:\n  source: alsa\n", "audio.source"},
		{"wav without path", "audio:\n  source: wav\n", "audio.wav_path"},
		{"frame duration", "audio:\n  frame_duration_ms: 25\n", "audio.frame_duration_ms"},
		{"negative queue", "audio:\n  queue_size: -1\n", "audio.queue_size"},
		{"negative device rate", "audio:\n  device_rate: -8000\n", "audio.device_rate"},
		{"aggressiveness high", "vad:\n  aggressiveness: 4\n", "vad.aggressiveness"},
		{"aggressiveness low", "vad:\n  aggressiveness: -1\n", "vad.aggressiveness"},
		{"negative silence", "vad:\n  silence_threshold: -2\n", "vad.silence_threshold"},
		{"negative energy", "vad:\n  energy_threshold: -0.1\n", "vad.energy_threshold"},
		{"too many speakers", "speaker:\n  max_speakers: 27\n", "speaker.max_speakers"},
		{"negative speakers", "speaker:\n  max_speakers: -1\n", "speaker.max_speakers"},
		{"similarity above one", "speaker:\n  similarity_threshold: 1.5\n", "speaker.similarity_threshold"},
		{"similarity below minus one", "speaker:\n  similarity_threshold: -1.5\n", "speaker.similarity_threshold"},
		{"alpha above one", "speaker:\n  embedding_alpha: 1.2\n", "speaker.embedding_alpha"},
		{"negative alpha", "speaker:\n  embedding_alpha: -0.1\n", "speaker.embedding_alpha"},
		{"negative min energy", "speaker:\n  min_speech_energy: -0.02\n", "speaker.min_speech_energy"},
		{"negative change frames", "speaker:\n  min_frames_for_change: -4\n", "speaker.min_frames_for_change"},
		{"negative history", "conversation:\n  max_history_items: -3\n", "conversation.max_history_items"},
		{"negative timeout", "conversation:\n  llm_timeout: -5s\n", "conversation.llm_timeout"},
		{"memory backend", "memory:\n  backend: redis\n", "memory.backend"},
		{"postgres without dsn", "memory:\n  backend: postgres\n", "memory.postgres_dsn"},
		{"sqlite without path", "memory:\n  backend: sqlite\n", "memory.sqlite_path"},
		{"negative speaker dims", "memory:\n  speaker_dimensions: -11\n", "memory.speaker_dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  aggressiveness: 9
speaker:
  max_speakers: 40
  embedding_alpha: 3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"vad.aggressiveness", "speaker.max_speakers", "speaker.embedding_alpha"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error is missing %q: %v", want, err)
		}
	}
}

func TestValidate_ZeroValuesRejectedWithoutDefaults(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{Audio: config.AudioConfig{Source: config.SourcePortAudio}, Memory: config.MemoryConfig{Backend: config.BackendNone}})
	if err == nil {
		t.Fatal("expected errors for a config without defaults")
	}
	if !strings.Contains(err.Error(), "audio.sample_rate must be positive") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hearken.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.Backend != config.BackendSQLite || cfg.Conversation.LLMTimeout != 20*time.Second {
		t.Errorf("memory backend = %q, llm timeout = %v", cfg.Memory.Backend, cfg.Conversation.LLMTimeout)
	}
	if cfg.Providers.STT.OptString("language") != "en" {
		t.Errorf("stt language = %q", cfg.Providers.STT.OptString("language"))
	}
}
