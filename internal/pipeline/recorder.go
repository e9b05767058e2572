package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
)

// maxRecordedSeconds caps the audio kept for one utterance.
const maxRecordedSeconds = 120

// Recorder accumulates the PCM of the utterance in progress so it can be
// stored next to the transcript. It is owned by the frame loop; the WAV
// encoding in Write may run anywhere.
type Recorder struct {
	dir      string
	rate     int
	buf      []byte
	maxBytes int
	seq      int
}

// NewRecorder writes utterances below dir at sampleRate. An empty dir
// returns a recorder that only measures durations.
func NewRecorder(dir string, sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Recorder{dir: dir, rate: sampleRate, maxBytes: sampleRate * 2 * maxRecordedSeconds}
}

// Enabled reports whether utterances are written to disk.
func (r *Recorder) Enabled() bool { return r.dir != "" }

// Append adds one frame of PCM. Audio beyond the cap is discarded.
func (r *Recorder) Append(pcm []byte) {
	room := r.maxBytes - len(r.buf)
	if room <= 0 {
		return
	}
	r.buf = append(r.buf, pcm[:min(len(pcm), room)]...)
}

// Duration returns the length of the buffered audio.
func (r *Recorder) Duration() time.Duration {
	return time.Duration(len(r.buf)/2) * time.Second / time.Duration(r.rate)
}

// Take returns the buffered audio and starts a new utterance.
func (r *Recorder) Take() []byte {
	out := r.buf
	r.buf = nil
	return out
}

// Path allocates the file path for the next utterance of sessionID.
func (r *Recorder) Path(sessionID, speakerLabel string) string {
	if !r.Enabled() {
		return ""
	}
	r.seq++
	label := speakerLabel
	if label == "" {
		label = "unknown"
	}
	name := fmt.Sprintf("%04d_%s.wav", r.seq, strings.ReplaceAll(label, string(filepath.Separator), "_"))
	return filepath.Join(r.dir, sessionID, name)
}

// Write encodes pcm as a mono WAV at path.
func (r *Recorder) Write(path string, pcm []byte) error {
	if err := audio.WriteWAV(path, pcm, r.rate); err != nil {
		return fmt.Errorf("pipeline: recorder: %w", err)
	}
	return nil
}
