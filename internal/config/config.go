// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for Hearken.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioSource selects where frames come from.
type AudioSource string

const (
	// SourcePortAudio captures the default input device.
	SourcePortAudio AudioSource = "portaudio"

	// SourceWAV replays a WAV file.
	SourceWAV AudioSource = "wav"
)

// IsValid reports whether s is a recognised audio source.
func (s AudioSource) IsValid() bool {
	return s == SourcePortAudio || s == SourceWAV
}

// MemoryBackend selects the conversation store.
type MemoryBackend string

const (
	BackendPostgres MemoryBackend = "postgres"
	BackendSQLite   MemoryBackend = "sqlite"
	BackendNone     MemoryBackend = "none"
)

// IsValid reports whether b is a recognised memory backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case BackendPostgres, BackendSQLite, BackendNone:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Speaker      SpeakerConfig      `yaml:"speaker"`
	Conversation ConversationConfig `yaml:"conversation"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Memory       MemoryConfig       `yaml:"memory"`
	Feedback     FeedbackConfig     `yaml:"feedback"`
	Dataset      DatasetConfig      `yaml:"dataset"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz, /status and /metrics. Empty
	// disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture side of the frame loop.
type AudioConfig struct {
	Source AudioSource `yaml:"source"`

	// WAVPath is required when Source is "wav".
	WAVPath string `yaml:"wav_path"`

	// SampleRate is the pipeline rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is 10, 20 or 30. Default 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// QueueSize bounds the frame queue between capture and processing.
	QueueSize int `yaml:"queue_size"`

	// DeviceRate is the capture rate of the input device. Zero captures at
	// SampleRate; anything else is resampled.
	DeviceRate int `yaml:"device_rate"`
}

// VADConfig tunes the voice activity gate.
type VADConfig struct {
	// Aggressiveness of the WebRTC detector, 0 to 3.
	Aggressiveness *int `yaml:"aggressiveness"`

	// SilenceThreshold is the hangover in non-speech frames.
	SilenceThreshold int `yaml:"silence_threshold"`

	// EnergyThreshold is the mean absolute amplitude of the fallback
	// heuristic.
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// SpeakerConfig tunes embedding extraction and speaker attribution.
type SpeakerConfig struct {
	MaxSpeakers            int     `yaml:"max_speakers"`
	BufferSize             int     `yaml:"buffer_size"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	MinFramesForNewSpeaker int     `yaml:"min_frames_for_new_speaker"`
	MinFramesForChange     int     `yaml:"min_frames_for_change"`
	MinSpeechEnergy        float64 `yaml:"min_speech_energy"`
	EmbeddingAlpha         float64 `yaml:"embedding_alpha"`

	// ModelPath enables the neural backend. Empty uses spectral features.
	ModelPath   string `yaml:"model_path"`
	ONNXLibrary string `yaml:"onnx_library"`
	ModelInput  string `yaml:"model_input"`
	ModelOutput string `yaml:"model_output"`
}

// ConversationConfig tunes the mode controller and utterance segmentation.
type ConversationConfig struct {
	EnterKeywords      []string      `yaml:"enter_keywords"`
	ExitKeywords       []string      `yaml:"exit_keywords"`
	QuestionWords      []string      `yaml:"question_words"`
	MaxHistoryItems    int           `yaml:"max_history_items"`
	MaxContextMessages int           `yaml:"max_context_messages"`
	SystemPrompt       string        `yaml:"system_prompt"`
	FuzzyKeywords      bool          `yaml:"fuzzy_keywords"`
	ForceSegmentFrames int           `yaml:"force_segment_frames"`
	MinPartialChars    int           `yaml:"min_partial_chars"`
	LLMTimeout         time.Duration `yaml:"llm_timeout"`
}

// ProvidersConfig selects a provider implementation per kind.
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	LLMDeep     ProviderEntry `yaml:"llm_deep"`
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
	STT         ProviderEntry `yaml:"stt"`
	STTFallback ProviderEntry `yaml:"stt_fallback"`
	Embeddings  ProviderEntry `yaml:"embeddings"`
	VAD         ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the configuration for a single provider. An empty Name
// means the provider is not configured.
type ProviderEntry struct {
	// Name is the registry key, e.g. "openai", "deepgram", "webrtc".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether a provider name is set.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// OptString returns the string option key, or "" when it is absent or not a
// string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// MemoryConfig selects and sizes the conversation store.
type MemoryConfig struct {
	Backend     MemoryBackend `yaml:"backend"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	SQLitePath  string        `yaml:"sqlite_path"`

	// EmbeddingDimensions is the text embedding width. It must match the
	// embeddings provider.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// SpeakerDimensions is the stored speaker embedding width. It must
	// match the extractor backend.
	SpeakerDimensions int `yaml:"speaker_dimensions"`
}

// FeedbackConfig configures the feedback journal.
type FeedbackConfig struct {
	// JournalPath is the JSON-lines file. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`
}

// DatasetConfig configures utterance capture for dataset export.
type DatasetConfig struct {
	// AudioDir receives one WAV per finalized utterance. Empty disables
	// capture.
	AudioDir string `yaml:"audio_dir"`
}
