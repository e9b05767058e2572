package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders the format as "16000Hz/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// DownmixToMono averages interleaved int16 channels into a single channel.
// If channels is 1 or less the input is returned unchanged.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[idx:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resampler converts mono int16 PCM between sample rates. It wraps a
// streaming resampler, so successive calls continue the same signal without
// boundary clicks. Not safe for concurrent use.
type Resampler struct {
	from, to int
	r        resampling.Resampler
}

// NewResampler creates a [Resampler] from fromRate to toRate. When the rates
// match, Process is a pass-through.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", fromRate, toRate)
	}
	rs := &Resampler{from: fromRate, to: toRate}
	if fromRate == toRate {
		return rs, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	rs.r = r
	return rs, nil
}

// Process resamples one chunk of mono int16 PCM.
func (rs *Resampler) Process(pcm []byte) ([]byte, error) {
	if rs.r == nil {
		return pcm, nil
	}
	out, err := rs.r.Process(PCM16ToFloat64(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	return Float64ToPCM16(out), nil
}

// Framer re-chunks an arbitrary PCM byte stream into fixed-size mono frames.
// Capture devices and decoders rarely deliver exactly one pipeline frame per
// read; Framer buffers the remainder between calls.
//
// Framer is not safe for concurrent use.
type Framer struct {
	format     Format
	frameBytes int
	frameDur   time.Duration

	pending []byte
	emitted int64

	warnOdd sync.Once
}

// NewFramer creates a Framer producing frames of durationMs at format.
func NewFramer(format Format, durationMs int) *Framer {
	return &Framer{
		format:     format,
		frameBytes: FrameBytes(format.SampleRate, durationMs),
		frameDur:   time.Duration(durationMs) * time.Millisecond,
	}
}

// Write appends pcm and calls emit once per complete frame. Each emitted
// frame owns its Data slice.
func (f *Framer) Write(pcm []byte, emit func(Frame)) {
	if len(pcm)%2 != 0 {
		f.warnOdd.Do(func() {
			slog.Warn("audio framer: odd byte count in PCM data, truncating", "bytes", len(pcm))
		})
		pcm = pcm[:len(pcm)-1]
	}
	f.pending = append(f.pending, pcm...)
	for len(f.pending) >= f.frameBytes {
		data := make([]byte, f.frameBytes)
		copy(data, f.pending[:f.frameBytes])
		f.pending = f.pending[f.frameBytes:]
		emit(Frame{
			Data:       data,
			SampleRate: f.format.SampleRate,
			Channels:   1,
			Timestamp:  time.Duration(f.emitted) * f.frameDur,
		})
		f.emitted++
	}
}

// Flush emits the buffered remainder zero-padded to a full frame, if any.
func (f *Framer) Flush(emit func(Frame)) {
	if len(f.pending) == 0 {
		return
	}
	pad := make([]byte, f.frameBytes-len(f.pending))
	f.Write(pad, emit)
}

// FrameBytes returns the byte length of frames produced by f.
func (f *Framer) FrameBytes() int { return f.frameBytes }
