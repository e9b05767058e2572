package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Tuning sections. These are applied to a running pipeline at the next
	// session boundary.
	VADChanged          bool
	SpeakerChanged      bool
	ConversationChanged bool

	// RestartRequired names the settings that changed but only take effect
	// after a restart, e.g. "providers" or "speaker.model_path".
	RestartRequired []string
}

// TuningChanged reports whether any hot-reloadable tuning section changed.
func (d ConfigDiff) TuningChanged() bool {
	return d.VADChanged || d.SpeakerChanged || d.ConversationChanged
}

// Diff compares old and new configs section by section.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	d.VADChanged = !reflect.DeepEqual(old.VAD, new.VAD)
	d.ConversationChanged = !reflect.DeepEqual(old.Conversation, new.Conversation)

	// The extractor is built once; its settings need a restart while the
	// arbiter and registry thresholds can be swapped live.
	oldSp, newSp := old.Speaker, new.Speaker
	if oldSp.BufferSize != newSp.BufferSize {
		d.RestartRequired = append(d.RestartRequired, "speaker.buffer_size")
	}
	if oldSp.ModelPath != newSp.ModelPath || oldSp.ONNXLibrary != newSp.ONNXLibrary ||
		oldSp.ModelInput != newSp.ModelInput || oldSp.ModelOutput != newSp.ModelOutput {
		d.RestartRequired = append(d.RestartRequired, "speaker.model_path")
	}
	oldSp.BufferSize, newSp.BufferSize = 0, 0
	oldSp.ModelPath, newSp.ModelPath = "", ""
	oldSp.ONNXLibrary, newSp.ONNXLibrary = "", ""
	oldSp.ModelInput, newSp.ModelInput = "", ""
	oldSp.ModelOutput, newSp.ModelOutput = "", ""
	d.SpeakerChanged = oldSp != newSp

	sections := []struct {
		name     string
		old, new any
	}{
		{"audio", old.Audio, new.Audio},
		{"providers", old.Providers, new.Providers},
		{"memory", old.Memory, new.Memory},
		{"feedback", old.Feedback, new.Feedback},
		{"dataset", old.Dataset, new.Dataset},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
