package audio

import "context"

// Source produces mono PCM frames from a capture device or a recording.
//
// Run blocks, calling emit once per frame in capture order, until ctx is
// cancelled or the source is exhausted. It returns nil in both cases and a
// non-nil error only when the device fails. emit must not block; the
// pipeline's frame queue absorbs bursts.
type Source interface {
	// Name identifies the backend ("portaudio", "wav", "mock").
	// Device backends live in subpackages such as audio/portaudio.
	Name() string

	// Format is the format of emitted frames.
	Format() Format

	// Run captures until ctx is done or input ends.
	Run(ctx context.Context, emit func(Frame)) error
}

// SourceConfig holds the settings shared by all capture backends.
type SourceConfig struct {
	// SampleRate is the pipeline rate frames are delivered at.
	SampleRate int

	// FrameDurationMs is the length of each emitted frame.
	FrameDurationMs int

	// DeviceRate is the native capture rate. Zero means SampleRate; any other
	// value is resampled to SampleRate before framing.
	DeviceRate int
}

// CaptureRate returns the rate a device should be opened at.
func (c SourceConfig) CaptureRate() int {
	if c.DeviceRate > 0 {
		return c.DeviceRate
	}
	return c.SampleRate
}
