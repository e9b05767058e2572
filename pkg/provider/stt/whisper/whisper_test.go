package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/whisper"
)

// inferenceServer answers POST /inference with text and records the language
// field and whether the upload looked like a WAV file.
type inferenceServer struct {
	*httptest.Server
	calls    atomic.Int32
	language atomic.Value
	wavOK    atomic.Bool
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		s.calls.Add(1)
		s.language.Store(r.FormValue("language"))
		if f, _, err := r.FormFile("file"); err == nil {
			head := make([]byte, 12)
			if _, err := io.ReadFull(f, head); err == nil {
				s.wavOK.Store(string(head[:4]) == "RIFF" && string(head[8:]) == "WAVE")
			}
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " " + text + " "})
	}))
	t.Cleanup(s.Close)
	return s
}

// speech returns n samples of a 440 Hz tone at roughly -10 dBFS.
func speech(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(n int) []byte { return make([]byte, n*2) }

func start(t *testing.T, p stt.Provider) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func waitFinal(t *testing.T, h stt.SessionHandle) stt.Transcript {
	t.Helper()
	select {
	case tr, ok := <-h.Finals():
		if !ok {
			t.Fatal("finals closed before a transcript arrived")
		}
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}
	return stt.Transcript{}
}

func TestNew_EmptyServerURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server url")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSetKeywords_NotSupported(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	h := start(t, p)
	if err := h.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Fatalf("SetKeywords = %v, want ErrNotSupported", err)
	}
}

func TestSpeechThenSilenceFlushes(t *testing.T) {
	srv := newInferenceServer(t, "Wie spät ist es?")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := start(t, p)

	_ = h.SendAudio(silence(800)) // leading silence, 50 ms
	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	tr := waitFinal(t, h)
	if tr.Text != "Wie spät ist es?" || !tr.IsFinal {
		t.Errorf("final = %+v", tr)
	}
	if tr.Timestamp != 50*time.Millisecond {
		t.Errorf("Timestamp = %v, want 50ms", tr.Timestamp)
	}
	if tr.Duration != 200*time.Millisecond {
		t.Errorf("Duration = %v, want 200ms", tr.Duration)
	}
	if lang, _ := srv.language.Load().(string); lang != "de" {
		t.Errorf("language field = %q, want de", lang)
	}
	if !srv.wavOK.Load() {
		t.Error("upload was not a WAV file")
	}
}

func TestSilenceOnlyNeverCallsServer(t *testing.T) {
	srv := newInferenceServer(t, "unexpected")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(50))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})

	_ = h.SendAudio(silence(16000))
	h.Close()

	if n := srv.calls.Load(); n != 0 {
		t.Errorf("inference called %d times, want 0", n)
	}
}

func TestMaxBufferForcesFlush(t *testing.T) {
	srv := newInferenceServer(t, "long monologue")
	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(10_000),
		whisper.WithMaxBufferDurationMs(200),
	)
	h := start(t, p)

	_ = h.SendAudio(speech(3360))
	if tr := waitFinal(t, h); tr.Text != "long monologue" {
		t.Errorf("final = %q", tr.Text)
	}
}

func TestCloseFlushesBufferedSpeech(t *testing.T) {
	srv := newInferenceServer(t, "goodbye")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(60_000))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})

	_ = h.SendAudio(speech(1600))
	h.Close()

	var got []string
	for tr := range h.Finals() {
		got = append(got, tr.Text)
	}
	if len(got) != 1 || got[0] != "goodbye" {
		t.Errorf("finals after Close = %v, want [goodbye]", got)
	}
	if _, ok := <-h.Partials(); ok {
		t.Error("partials channel still open after Close")
	}
	if err := h.SendAudio(speech(10)); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestServerErrorYieldsNoFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))
	h.Close()

	for tr := range h.Finals() {
		t.Errorf("unexpected final %q", tr.Text)
	}
}

func TestEmptyResultYieldsNoFinal(t *testing.T) {
	srv := newInferenceServer(t, "")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))
	h.Close()

	for tr := range h.Finals() {
		t.Errorf("unexpected final %q", tr.Text)
	}
	if srv.calls.Load() != 1 {
		t.Errorf("inference calls = %d, want 1", srv.calls.Load())
	}
}

func TestStereoIsDownmixed(t *testing.T) {
	srv := newInferenceServer(t, "stereo")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(60_000))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 2})

	mono := speech(1600)
	stereo := make([]byte, 0, len(mono)*2)
	for i := 0; i < len(mono); i += 2 {
		stereo = append(stereo, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	_ = h.SendAudio(stereo)
	h.Close()

	tr, ok := <-h.Finals()
	if !ok {
		t.Fatal("no final after Close")
	}
	if tr.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms of mono audio", tr.Duration)
	}
}
