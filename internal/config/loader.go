package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"webrtc"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Keyword lists
// stay nil so the conversation controller's stock lists apply.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.Source, SourcePortAudio)
	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.FrameDurationMs, 30)
	setDefault(&cfg.Audio.QueueSize, 64)

	if cfg.VAD.Aggressiveness == nil {
		agg := 2
		cfg.VAD.Aggressiveness = &agg
	}
	setDefault(&cfg.VAD.SilenceThreshold, 3)
	setDefault(&cfg.VAD.EnergyThreshold, 0.01)

	s := &cfg.Speaker
	setDefault(&s.MaxSpeakers, 8)
	setDefault(&s.BufferSize, cfg.Audio.SampleRate)
	setDefault(&s.SimilarityThreshold, 0.40)
	setDefault(&s.MinFramesForNewSpeaker, 15)
	setDefault(&s.MinFramesForChange, 4)
	setDefault(&s.MinSpeechEnergy, 0.02)
	setDefault(&s.EmbeddingAlpha, 0.05)
	setDefault(&s.ModelInput, "feats")
	setDefault(&s.ModelOutput, "embs")

	c := &cfg.Conversation
	setDefault(&c.MaxHistoryItems, 20)
	setDefault(&c.MaxContextMessages, 6)
	setDefault(&c.ForceSegmentFrames, 30)
	setDefault(&c.MinPartialChars, 5)
	setDefault(&c.LLMTimeout, 20*time.Second)

	if cfg.Memory.Backend == "" {
		switch {
		case cfg.Memory.PostgresDSN != "":
			cfg.Memory.Backend = BackendPostgres
		case cfg.Memory.SQLitePath != "":
			cfg.Memory.Backend = BackendSQLite
		default:
			cfg.Memory.Backend = BackendNone
		}
	}
	if cfg.Providers.Embeddings.Configured() {
		setDefault(&cfg.Memory.EmbeddingDimensions, 1536)
	}
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, wav", a.Source))
	}
	if a.Source == SourceWAV && a.WAVPath == "" {
		errs = append(errs, errors.New("audio.wav_path is required when audio.source is wav"))
	}
	positive("audio.sample_rate", float64(a.SampleRate))
	positive("audio.queue_size", float64(a.QueueSize))
	if !slices.Contains([]int{10, 20, 30}, a.FrameDurationMs) {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid; valid values: 10, 20, 30", a.FrameDurationMs))
	}
	if a.DeviceRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_rate must not be negative, got %d", a.DeviceRate))
	}

	// VAD
	if agg := cfg.VAD.Aggressiveness; agg != nil && (*agg < 0 || *agg > 3) {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", *agg))
	}
	positive("vad.silence_threshold", float64(cfg.VAD.SilenceThreshold))
	positive("vad.energy_threshold", cfg.VAD.EnergyThreshold)

	// Speaker
	s := cfg.Speaker
	if s.MaxSpeakers < 1 || s.MaxSpeakers > 26 {
		errs = append(errs, fmt.Errorf("speaker.max_speakers %d is out of range [1, 26]", s.MaxSpeakers))
	}
	positive("speaker.buffer_size", float64(s.BufferSize))
	if s.SimilarityThreshold < -1 || s.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("speaker.similarity_threshold %.2f is out of range [-1, 1]", s.SimilarityThreshold))
	}
	positive("speaker.min_frames_for_new_speaker", float64(s.MinFramesForNewSpeaker))
	positive("speaker.min_frames_for_change", float64(s.MinFramesForChange))
	positive("speaker.min_speech_energy", s.MinSpeechEnergy)
	if s.EmbeddingAlpha <= 0 || s.EmbeddingAlpha > 1 {
		errs = append(errs, fmt.Errorf("speaker.embedding_alpha %.3f is out of range (0, 1]", s.EmbeddingAlpha))
	}

	// Conversation
	c := cfg.Conversation
	positive("conversation.max_history_items", float64(c.MaxHistoryItems))
	positive("conversation.max_context_messages", float64(c.MaxContextMessages))
	positive("conversation.force_segment_frames", float64(c.ForceSegmentFrames))
	positive("conversation.min_partial_chars", float64(c.MinPartialChars))
	positive("conversation.llm_timeout", c.LLMTimeout.Seconds())

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMDeep.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if !cfg.Providers.LLM.Configured() {
		slog.Warn("providers.llm is not configured; conversations will get no replies")
	}
	if !cfg.Providers.STT.Configured() {
		slog.Warn("providers.stt is not configured; no utterances will be transcribed")
	}

	// Memory
	m := cfg.Memory
	if !m.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: postgres, sqlite, none", m.Backend))
	}
	if m.Backend == BackendPostgres && m.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if m.Backend == BackendSQLite && m.SQLitePath == "" {
		errs = append(errs, errors.New("memory.sqlite_path is required when memory.backend is sqlite"))
	}
	if m.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions must not be negative, got %d", m.EmbeddingDimensions))
	}
	if m.SpeakerDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.speaker_dimensions must not be negative, got %d", m.SpeakerDimensions))
	}
	if m.Backend == BackendNone && cfg.Dataset.AudioDir != "" {
		slog.Warn("dataset.audio_dir is set but memory.backend is none; audio paths will not be recorded anywhere")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
