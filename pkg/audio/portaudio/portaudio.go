// Package portaudio captures microphone audio through the PortAudio C
// library. It needs cgo and libportaudio; package audio does not.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hearken/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source captures mono audio from the default input device. PortAudio is
// initialised in Run and terminated when Run returns, so a source can be run
// once per process lifetime segment.
type Source struct {
	cfg    audio.SourceConfig
	logger *slog.Logger

	overruns atomic.Int64
	captured atomic.Int64
}

// New creates a microphone source. A nil logger uses slog.Default().
func New(cfg audio.SourceConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, logger: logger}
}

// Name implements [audio.Source].
func (s *Source) Name() string { return "portaudio" }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Overruns returns the number of input overflows reported by the device.
func (s *Source) Overruns() int64 { return s.overruns.Load() }

// Captured returns the number of frames emitted so far.
func (s *Source) Captured() int64 { return s.captured.Load() }

// Run implements [audio.Source]. Input overflows are logged and counted; any
// other stream error terminates capture and is returned.
func (s *Source) Run(ctx context.Context, emit func(audio.Frame)) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer func() {
		if err := pa.Terminate(); err != nil {
			s.logger.Warn("portaudio: terminate", "err", err)
		}
	}()

	devRate := s.cfg.CaptureRate()
	buf := make([]int16, audio.FrameSamples(devRate, s.cfg.FrameDurationMs))

	stream, err := pa.OpenDefaultStream(1, 0, float64(devRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio: open default stream: %w", err)
	}
	defer stream.Close()

	resampler, err := audio.NewResampler(devRate, s.cfg.SampleRate)
	if err != nil {
		return err
	}
	framer := audio.NewFramer(s.Format(), s.cfg.FrameDurationMs)
	counted := func(f audio.Frame) {
		s.captured.Add(1)
		emit(f)
	}

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			s.logger.Warn("portaudio: stop stream", "err", err)
		}
	}()

	s.logger.Info("microphone capture started",
		"device_rate", devRate,
		"sample_rate", s.cfg.SampleRate,
		"frame_ms", s.cfg.FrameDurationMs,
	)

	pcm := make([]byte, len(buf)*2)
	var lastWarn time.Time
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				n := s.overruns.Add(1)
				if time.Since(lastWarn) > time.Second {
					s.logger.Warn("portaudio: input overflowed", "total", n)
					lastWarn = time.Now()
				}
				continue
			}
			return fmt.Errorf("portaudio: read: %w", err)
		}
		for i, v := range buf {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
		}
		out, err := resampler.Process(pcm)
		if err != nil {
			return err
		}
		framer.Write(out, counted)
	}
	return nil
}
