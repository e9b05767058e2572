package app

import (
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/conversation"
	"github.com/MrWong99/hearken/internal/gate"
	"github.com/MrWong99/hearken/internal/pipeline"
	"github.com/MrWong99/hearken/internal/speaker"
)

// TuningFromConfig maps the hot-reloadable config sections onto the core
// parameters. renormalize must match the speaker backend chosen at startup.
// Keyword lists left unset in the file keep the controller's stock lists.
func TuningFromConfig(cfg *config.Config, renormalize bool) pipeline.Tuning {
	ctrl := conversation.DefaultControllerConfig()
	conv := cfg.Conversation
	if conv.EnterKeywords != nil {
		ctrl.EnterKeywords = conv.EnterKeywords
	}
	if conv.ExitKeywords != nil {
		ctrl.ExitKeywords = conv.ExitKeywords
	}
	if conv.QuestionWords != nil {
		ctrl.QuestionWords = conv.QuestionWords
	}
	if conv.SystemPrompt != "" {
		ctrl.SystemPrompt = conv.SystemPrompt
	}
	ctrl.MaxHistoryItems = conv.MaxHistoryItems
	ctrl.MaxContextMessages = conv.MaxContextMessages
	ctrl.FuzzyKeywords = conv.FuzzyKeywords

	sp := cfg.Speaker
	return pipeline.Tuning{
		Gate: gate.Config{
			SampleRate:       cfg.Audio.SampleRate,
			FrameDurationMs:  cfg.Audio.FrameDurationMs,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			EnergyThreshold:  cfg.VAD.EnergyThreshold,
		},
		Arbiter: speaker.ArbiterConfig{
			SimilarityThreshold:    sp.SimilarityThreshold,
			MinFramesForNewSpeaker: sp.MinFramesForNewSpeaker,
			MinFramesForChange:     sp.MinFramesForChange,
			MinSpeechEnergy:        sp.MinSpeechEnergy,
		},
		Registry: speaker.RegistryConfig{
			MaxSpeakers: sp.MaxSpeakers,
			Alpha:       sp.EmbeddingAlpha,
			Renormalize: renormalize,
		},
		Controller: ctrl,
		Segmenter: pipeline.SegmenterConfig{
			ForceFrames:     conv.ForceSegmentFrames,
			MinPartialChars: conv.MinPartialChars,
		},
	}
}
