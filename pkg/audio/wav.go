package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var _ Source = (*WAVSource)(nil)

// wavReadSamples is the number of interleaved samples decoded per read.
const wavReadSamples = 4096

// WAVSource replays a PCM WAV file as a capture stream. Multi-channel files
// are down-mixed, other bit depths are rescaled to 16 bit, and the file rate
// is resampled to the pipeline rate.
type WAVSource struct {
	path     string
	cfg      SourceConfig
	realtime bool
	logger   *slog.Logger
}

// WAVOption configures a [WAVSource].
type WAVOption func(*WAVSource)

// WithRealtime paces emitted frames at their natural duration, as a live
// microphone would. The default is to emit as fast as the consumer accepts.
func WithRealtime(on bool) WAVOption {
	return func(s *WAVSource) { s.realtime = on }
}

// WithWAVLogger sets the logger. Defaults to slog.Default().
func WithWAVLogger(l *slog.Logger) WAVOption {
	return func(s *WAVSource) { s.logger = l }
}

// NewWAVSource creates a replay source for the file at path. cfg.DeviceRate
// is ignored; the file's own rate is used.
func NewWAVSource(path string, cfg SourceConfig, opts ...WAVOption) *WAVSource {
	s := &WAVSource{path: path, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements [Source].
func (s *WAVSource) Name() string { return "wav" }

// Format implements [Source].
func (s *WAVSource) Format() Format {
	return Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Run implements [Source]. It returns nil once the file is exhausted; the
// trailing partial frame is zero-padded.
func (s *WAVSource) Run(ctx context.Context, emit func(Frame)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("wav source: open %q: %w", s.path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("wav source: %q is not a valid PCM wav file", s.path)
	}
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	fileRate := int(dec.SampleRate)

	resampler, err := NewResampler(fileRate, s.cfg.SampleRate)
	if err != nil {
		return err
	}
	framer := NewFramer(s.Format(), s.cfg.FrameDurationMs)

	var tick <-chan time.Time
	if s.realtime {
		t := time.NewTicker(time.Duration(s.cfg.FrameDurationMs) * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}
	paced := func(fr Frame) {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			emit(fr)
		}
	}

	s.logger.Info("wav replay started",
		"path", s.path,
		"file_rate", fileRate,
		"channels", channels,
		"bit_depth", bitDepth,
	)

	buf := &goaudio.IntBuffer{
		Data:   make([]int, wavReadSamples*max(channels, 1)),
		Format: &goaudio.Format{NumChannels: channels, SampleRate: fileRate},
	}
	for ctx.Err() == nil {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("wav source: decode: %w", err)
		}
		if n == 0 {
			break
		}
		pcm := DownmixToMono(IntsToPCM16(buf.Data[:n], bitDepth), channels)
		out, err := resampler.Process(pcm)
		if err != nil {
			return err
		}
		framer.Write(out, paced)
	}
	if ctx.Err() == nil {
		framer.Flush(paced)
	}
	return nil
}

// WAVDuration returns the playback length of the WAV file at path.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wav: open %q: %w", path, err)
	}
	defer f.Close()
	// Decoder.Duration divides the whole RIFF size, headers included, by the
	// byte rate; only the data chunk counts.
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav: duration of %q: %w", path, err)
	}
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("wav: duration of %q: %w", path, err)
	}
	byteRate := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth/8)
	if byteRate == 0 {
		return 0, fmt.Errorf("wav: duration of %q: invalid format", path)
	}
	return time.Duration(dec.PCMLen() * int64(time.Second) / byteRate), nil
}

// WriteWAV writes pcm (16-bit mono) to path as a WAV file, creating parent
// directories as needed.
func WriteWAV(path string, pcm []byte, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("wav: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %q: %w", path, err)
	}
	if err := EncodeWAV(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeWAV writes pcm (16-bit mono) as a WAV stream to w.
func EncodeWAV(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Data:           PCM16ToInts(pcm),
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav: finalize: %w", err)
	}
	return nil
}

// WAVBytes encodes pcm (16-bit mono) as an in-memory WAV file.
func WAVBytes(pcm []byte, sampleRate int) ([]byte, error) {
	var m memFile
	if err := EncodeWAV(&m, pcm, sampleRate); err != nil {
		return nil, err
	}
	return m.buf, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch
// chunk sizes.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("wav: negative seek position")
	}
	m.pos = int(pos)
	return pos, nil
}
