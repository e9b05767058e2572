package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/provider/embeddings"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Providers holds one value per provider slot. Nil means not configured.
type Providers struct {
	// LLM answers ordinary questions; LLMDeep takes long or multi-clause
	// ones. LLMDeep is nil when only one model is configured.
	LLM     llm.Provider
	LLMDeep llm.Provider

	STT        stt.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// BuildProviders instantiates every configured provider through reg. A
// configured llm_fallback or stt_fallback wraps the primary in a circuit
// breaker group. Unregistered names are skipped with a warning, since the
// loader already reported them; any other factory error is fatal.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ps := &Providers{}
	pc := cfg.Providers

	var err error
	if ps.LLM, err = create(logger, "llm", pc.LLM, reg.CreateLLM); err != nil {
		return nil, err
	}
	if ps.LLMDeep, err = create(logger, "llm", pc.LLMDeep, reg.CreateLLM); err != nil {
		return nil, err
	}
	if ps.STT, err = create(logger, "stt", pc.STT, reg.CreateSTT); err != nil {
		return nil, err
	}
	if ps.Embeddings, err = create(logger, "embeddings", pc.Embeddings, reg.CreateEmbeddings); err != nil {
		return nil, err
	}
	if ps.VAD, err = create(logger, "vad", pc.VAD, reg.CreateVAD); err != nil {
		return nil, err
	}

	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: metrics, Logger: logger}
	}

	if ps.LLM != nil {
		backup, err := create(logger, "llm", pc.LLMFallback, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if backup != nil {
			fb := resilience.NewLLMFallback(ps.LLM, pc.LLM.Name, fbCfg("llm"))
			fb.AddFallback(pc.LLMFallback.Name, backup)
			ps.LLM = fb
			logger.Info("llm fallback enabled", "primary", pc.LLM.Name, "fallback", pc.LLMFallback.Name)
		}
	}
	if ps.STT != nil {
		backup, err := create(logger, "stt", pc.STTFallback, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if backup != nil {
			fb := resilience.NewSTTFallback(ps.STT, pc.STT.Name, fbCfg("stt"))
			fb.AddFallback(pc.STTFallback.Name, backup)
			ps.STT = fb
			logger.Info("stt fallback enabled", "primary", pc.STT.Name, "fallback", pc.STTFallback.Name)
		}
	}
	return ps, nil
}

// create returns the zero T for an unconfigured or unregistered entry.
func create[T any](logger *slog.Logger, kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if !entry.Configured() {
		return zero, nil
	}
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		logger.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("app: %w", err)
	}
	logger.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}
