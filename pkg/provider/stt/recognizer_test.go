package stt_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/mock"
)

var frame = make([]byte, 960)

func newRecognizer(t *testing.T, p *mock.Provider) *stt.Recognizer {
	t.Helper()
	r, err := stt.NewRecognizer(context.Background(), p, stt.StreamConfig{SampleRate: 16000, Channels: 1}, nil)
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	return r
}

func TestRecognizer_ForwardsAudio(t *testing.T) {
	sess := mock.NewSession()
	r := newRecognizer(t, &mock.Provider{Sessions: []stt.SessionHandle{sess}})

	for range 3 {
		if text, ok := r.AcceptWaveform(frame); ok {
			t.Fatalf("unexpected final %q", text)
		}
	}
	if got := sess.AudioCount(); got != 3 {
		t.Errorf("SendAudio calls = %d, want 3", got)
	}
}

func TestRecognizer_PartialThenFinal(t *testing.T) {
	sess := mock.NewSession()
	r := newRecognizer(t, &mock.Provider{Sessions: []stt.SessionHandle{sess}})

	sess.PartialsCh <- stt.Transcript{Text: "what time"}
	if _, ok := r.AcceptWaveform(frame); ok {
		t.Fatal("partial reported as final")
	}
	if got := r.Partial(); got != "what time" {
		t.Errorf("Partial = %q, want %q", got, "what time")
	}

	sess.FinalsCh <- stt.Transcript{Text: " What time is it? ", IsFinal: true}
	text, ok := r.AcceptWaveform(frame)
	if !ok || text != "What time is it?" {
		t.Fatalf("AcceptWaveform = (%q, %v), want final", text, ok)
	}
	if r.Partial() != "" {
		t.Errorf("Partial after final = %q, want empty", r.Partial())
	}
	if _, ok := r.AcceptWaveform(frame); ok {
		t.Error("final delivered twice")
	}
}

func TestRecognizer_QueuedFinalsDeliveredInOrder(t *testing.T) {
	sess := mock.NewSession()
	r := newRecognizer(t, &mock.Provider{Sessions: []stt.SessionHandle{sess}})

	sess.FinalsCh <- stt.Transcript{Text: "one", IsFinal: true}
	sess.FinalsCh <- stt.Transcript{Text: "   ", IsFinal: true}
	sess.FinalsCh <- stt.Transcript{Text: "two", IsFinal: true}

	var got []string
	for range 4 {
		if text, ok := r.AcceptWaveform(frame); ok {
			got = append(got, text)
		}
	}
	if !slices.Equal(got, []string{"one", "two"}) {
		t.Errorf("finals = %v, want [one two]", got)
	}
}

func TestRecognizer_ResetReopensStream(t *testing.T) {
	first, second := mock.NewSession(), mock.NewSession()
	p := &mock.Provider{Sessions: []stt.SessionHandle{first, second}}
	r := newRecognizer(t, p)

	first.PartialsCh <- stt.Transcript{Text: "hello there friend"}
	r.AcceptWaveform(frame)

	r.Reset()
	if r.Partial() != "" {
		t.Errorf("Partial after Reset = %q", r.Partial())
	}
	if first.Closes() != 1 {
		t.Errorf("first session closed %d times, want 1", first.Closes())
	}
	if p.CallCount() != 2 {
		t.Fatalf("StartStream calls = %d, want 2", p.CallCount())
	}
	r.AcceptWaveform(frame)
	if second.AudioCount() != 1 {
		t.Errorf("second session got %d chunks, want 1", second.AudioCount())
	}
}

func TestRecognizer_ReopensAfterStreamEnds(t *testing.T) {
	first, second := mock.NewSession(), mock.NewSession()
	p := &mock.Provider{Sessions: []stt.SessionHandle{first, second}}
	r := newRecognizer(t, p)

	first.CloseChannels()
	r.AcceptWaveform(frame)
	r.AcceptWaveform(frame)

	if p.CallCount() != 2 {
		t.Fatalf("StartStream calls = %d, want 2", p.CallCount())
	}
	if second.AudioCount() != 1 {
		t.Errorf("second session got %d chunks, want 1", second.AudioCount())
	}
}

func TestRecognizer_ReopenBackoff(t *testing.T) {
	sess := mock.NewSession()
	sess.SendAudioErr = errors.New("broken pipe")
	p := &mock.Provider{Sessions: []stt.SessionHandle{sess}}
	r := newRecognizer(t, p)

	r.AcceptWaveform(frame) // send fails, stream dropped
	p.StartStreamErr = errors.New("unavailable")
	r.AcceptWaveform(frame) // reopen fails
	r.AcceptWaveform(frame) // still within backoff

	if p.CallCount() != 2 {
		t.Errorf("StartStream calls = %d, want 2", p.CallCount())
	}
}

func TestRecognizer_Flush(t *testing.T) {
	sess := mock.NewSession()
	r := newRecognizer(t, &mock.Provider{Sessions: []stt.SessionHandle{sess}})

	sess.FinalsCh <- stt.Transcript{Text: "first", IsFinal: true}
	sess.PartialsCh <- stt.Transcript{Text: "second half"}
	got := r.Flush()
	if !slices.Equal(got, []string{"first", "second half"}) {
		t.Errorf("Flush = %v", got)
	}
	if len(r.Flush()) != 0 {
		t.Error("second Flush should be empty")
	}
}

func TestRecognizer_SetKeywords(t *testing.T) {
	sess := mock.NewSession()
	sess.SetKeywordsErr = stt.ErrNotSupported
	p := &mock.Provider{Sessions: []stt.SessionHandle{sess}}
	r := newRecognizer(t, p)

	kw := []stt.KeywordBoost{{Keyword: "goodbye", Boost: 2}}
	r.SetKeywords(kw)
	if len(sess.Keywords) != 1 {
		t.Fatalf("SetKeywords calls = %d, want 1", len(sess.Keywords))
	}

	r.Reset()
	if got := p.StartStreamCalls[1].Cfg.Keywords; !slices.Equal(got, kw) {
		t.Errorf("reopened with keywords %v, want %v", got, kw)
	}
}

func TestRecognizer_Close(t *testing.T) {
	sess := mock.NewSession()
	r := newRecognizer(t, &mock.Provider{Sessions: []stt.SessionHandle{sess}})

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	r.AcceptWaveform(frame)
	if sess.AudioCount() != 0 || sess.Closes() != 1 {
		t.Errorf("audio=%d closes=%d, want 0 and 1", sess.AudioCount(), sess.Closes())
	}
}

func TestNewRecognizer_StartError(t *testing.T) {
	p := &mock.Provider{StartStreamErr: errors.New("auth failed")}
	if _, err := stt.NewRecognizer(context.Background(), p, stt.StreamConfig{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
