// Package audio defines the PCM frame type that flows through the Hearken
// pipeline together with the capture sources that produce frames and the
// helpers that convert, resample, and persist them.
//
// All PCM in this package is signed 16-bit little-endian. Float sample views
// are normalised to [-1.0, 1.0].
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a fixed-duration chunk of PCM audio. Frames are produced by a
// [Source], queued, and consumed exactly once by the frame loop.
type Frame struct {
	// Data holds little-endian int16 PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for the default pipeline).
	SampleRate int

	// Channels is 1 for every frame that reaches the core.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Samples returns the frame's PCM as float64 samples in [-1, 1].
func (f Frame) Samples() []float64 {
	return PCM16ToFloat64(f.Data)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	if f.SampleRate <= 0 {
		return 0
	}
	n := len(f.Data) / (2 * ch)
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the byte length of a mono int16 frame of durationMs at
// sampleRate.
func FrameBytes(sampleRate, durationMs int) int {
	return FrameSamples(sampleRate, durationMs) * 2
}

// FrameSamples returns the number of mono samples in a frame of durationMs at
// sampleRate.
func FrameSamples(sampleRate, durationMs int) int {
	return sampleRate * durationMs / 1000
}

// PCM16ToFloat64 converts little-endian int16 PCM to float64 samples. A
// trailing odd byte is ignored.
func PCM16ToFloat64(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Float64ToPCM16 converts float samples to little-endian int16 PCM, clamping
// values outside [-1, 1].
func Float64ToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(s)))
	}
	return out
}

// PCM16ToInts converts little-endian int16 PCM to ints, the sample
// representation used by go-audio buffers.
func PCM16ToInts(pcm []byte) []int {
	n := len(pcm) / 2
	out := make([]int, n)
	for i := range n {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// IntsToPCM16 converts int samples of the given bit depth to little-endian
// int16 PCM. Samples are rescaled when bitDepth differs from 16.
func IntsToPCM16(samples []int, bitDepth int) []byte {
	out := make([]byte, len(samples)*2)
	shift := bitDepth - 16
	for i, s := range samples {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples. Zero for empty input.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// MeanAbs returns the mean absolute amplitude of samples. Zero for empty input.
func MeanAbs(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(s)
	}
	return sum / float64(len(samples))
}

func clamp16(s float64) int16 {
	v := math.Round(s * 32767.0)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
