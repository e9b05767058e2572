package main

import (
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/hearken/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/hearken/pkg/provider/embeddings/openai"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/hearken/pkg/provider/llm/openai"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hearken/pkg/provider/stt/whisper"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/vad/webrtc"
)

// registerBuiltinProviders wires every provider implementation that ships
// with Hearken into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the API directly so a custom base_url can point at any
	// OpenAI-compatible server.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL, whisperOptions(entry)...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.OptString("model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		return whisper.NewNative(modelPath, whisperOptions(entry)...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if ka := entry.OptString("keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func whisperOptions(entry config.ProviderEntry) []whisper.Option {
	opts := []whisper.Option{whisper.WithLogger(slog.Default())}
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := entry.OptString("language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return opts
}
