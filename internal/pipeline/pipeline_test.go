package pipeline_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/conversation"
	"github.com/MrWong99/hearken/internal/feedback"
	"github.com/MrWong99/hearken/internal/gate"
	"github.com/MrWong99/hearken/internal/pipeline"
	"github.com/MrWong99/hearken/internal/speaker"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/memory"
	memmock "github.com/MrWong99/hearken/pkg/memory/mock"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	llmmock "github.com/MrWong99/hearken/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// scriptedTranscriber returns finals on fixed AcceptWaveform calls (1-based).
type scriptedTranscriber struct {
	finals  map[int]string
	onFinal func(text string)

	calls   int
	partial string
	resets  int
	closed  bool
}

func (s *scriptedTranscriber) AcceptWaveform([]byte) (string, bool) {
	s.calls++
	text, ok := s.finals[s.calls]
	if !ok {
		return "", false
	}
	if s.onFinal != nil {
		s.onFinal(text)
	}
	return text, true
}

func (s *scriptedTranscriber) Partial() string { return s.partial }
func (s *scriptedTranscriber) Reset()          { s.resets++; s.partial = "" }
func (s *scriptedTranscriber) Flush() []string { return nil }
func (s *scriptedTranscriber) Close() error    { s.closed = true; return nil }

func silence() audio.Frame {
	return audio.Frame{Data: make([]byte, 960), SampleRate: 16000, Channels: 1}
}

// speech is a 180 Hz tone with RMS 0.05.
func speech() audio.Frame { return tone(180) }

// tone is a sine at hz with RMS 0.05.
func tone(hz float64) audio.Frame {
	samples := make([]float64, 480)
	for i := range samples {
		samples[i] = 0.05 * math.Sqrt2 * math.Sin(2*math.Pi*hz*float64(i)/16000)
	}
	return audio.Frame{Data: audio.Float64ToPCM16(samples), SampleRate: 16000, Channels: 1}
}

func frames(nSilence, nSpeech int) []audio.Frame {
	out := make([]audio.Frame, 0, nSilence+nSpeech)
	for range nSilence {
		out = append(out, silence())
	}
	for range nSpeech {
		out = append(out, speech())
	}
	return out
}

type harness struct {
	p     *pipeline.Pipeline
	ctrl  *conversation.Controller
	arb   *speaker.Arbiter
	store *memmock.Store
	llm   *llmmock.Provider
}

func newHarness(t *testing.T, tr pipeline.Transcriber, model *llmmock.Provider, opts ...pipeline.Option) *harness {
	t.Helper()
	n := 0
	ctrl := conversation.NewController(conversation.DefaultControllerConfig(),
		conversation.WithSessionIDFunc(func() string { n++; return fmt.Sprintf("session-%d", n) }))
	ex := speaker.NewExtractor(speaker.ExtractorConfig{}, nil, speaker.WithBackend(speaker.NewSpectralBackend(16000)))
	arb := speaker.NewArbiter(speaker.DefaultArbiterConfig(), ex, speaker.NewRegistry(speaker.RegistryConfig{}), nil)
	store := &memmock.Store{}

	opts = append([]pipeline.Option{
		pipeline.WithRouter(conversation.NewRouter(model, nil)),
		pipeline.WithStore(store),
	}, opts...)
	p := pipeline.New(pipeline.Config{}, gate.New(gate.DefaultConfig()), arb, tr, ctrl, opts...)
	return &harness{p: p, ctrl: ctrl, arb: arb, store: store, llm: model}
}

func (h *harness) run(t *testing.T, in []audio.Frame) {
	t.Helper()
	q := pipeline.NewFrameQueue(len(in) + 1)
	for _, f := range in {
		q.Push(f)
	}
	q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.p.Run(ctx, q); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func turnByText(t *testing.T, turns []memory.Turn, text string) memory.Turn {
	t.Helper()
	for _, tr := range turns {
		if tr.Text == text {
			return tr
		}
	}
	t.Fatalf("no stored turn %q in %+v", text, turns)
	return memory.Turn{}
}

func reply(text string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: text}}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestPipeline_Scenario(t *testing.T) {
	tr := &scriptedTranscriber{finals: map[int]string{
		50: "What time is it?",
		58: "goodbye",
		66: "yes",
	}}
	dir := t.TempDir()
	journal := feedback.NewJournal(dir + "/feedback.jsonl")
	h := newHarness(t, tr, reply("It is noon."),
		pipeline.WithRecorder(pipeline.NewRecorder(dir, 16000)),
		pipeline.WithJournal(journal),
	)

	// 10 silent frames, then 60 frames at RMS 0.05.
	h.run(t, frames(10, 60))

	if h.arb.Current() != "Speaker_A" || h.arb.SpeakerCount() != 1 {
		t.Fatalf("speaker = %q count = %d", h.arb.Current(), h.arb.SpeakerCount())
	}
	if h.ctrl.Mode() != conversation.Listening || h.ctrl.SessionID() != "session-3" {
		t.Fatalf("mode = %v session = %s", h.ctrl.Mode(), h.ctrl.SessionID())
	}
	if !tr.closed {
		t.Error("recognizer not closed at shutdown")
	}

	turns := h.store.Turns()
	question := turnByText(t, turns, "What time is it?")
	if question.SessionID != "session-2" || question.SpeakerLabel != "Speaker_A" ||
		question.Mode != "GEMMA_CONVERSATION" || question.Intent != "question" {
		t.Errorf("question turn = %+v", question)
	}
	if len(question.SpeakerEmbedding) != 11 {
		t.Errorf("speaker embedding dims = %d, want 11", len(question.SpeakerEmbedding))
	}
	if question.Duration != 1200*time.Millisecond {
		t.Errorf("duration = %v, want 40 speech frames", question.Duration)
	}
	if _, err := os.Stat(question.AudioPath); err != nil {
		t.Errorf("utterance audio: %v", err)
	}

	if bye := turnByText(t, turns, "goodbye"); bye.Mode != "AWAITING_FEEDBACK" || bye.SessionID != "session-2" {
		t.Errorf("goodbye turn = %+v", bye)
	}
	if yes := turnByText(t, turns, "yes"); yes.Mode != "AWAITING_FEEDBACK" || yes.SessionID != "session-2" {
		t.Errorf("feedback turn = %+v", yes)
	}

	fb := h.store.Feedback()
	if len(fb) != 1 || fb[0].SessionID != "session-2" || fb[0].Rating != "helpful" {
		t.Fatalf("feedback = %+v", fb)
	}
	recs, err := journal.ReadAll()
	if err != nil || len(recs) != 1 || recs[0].Rating != "helpful" || recs[0].Speaker != "Speaker_A" {
		t.Errorf("journal = %+v, %v", recs, err)
	}

	st := h.p.Status()
	if st.Mode != "LISTENING" || st.FramesProcessed != 70 || st.DroppedFrames != 0 || st.CurrentSpeaker != "Speaker_A" {
		t.Errorf("status = %+v", st)
	}
}

func TestPipeline_ReplyApplied(t *testing.T) {
	tr := &scriptedTranscriber{finals: map[int]string{45: "What time is it?"}}
	var (
		mu      sync.Mutex
		replies []pipeline.Reply
	)
	h := newHarness(t, tr, reply("It is noon."), pipeline.WithReplyHandler(func(r pipeline.Reply) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, r)
	}))

	h.run(t, frames(10, 40))

	hist := h.ctrl.State().History
	if len(hist) != 2 || hist[1].Role != "assistant" || hist[1].Content != "It is noon." {
		t.Fatalf("history = %+v", hist)
	}
	if len(replies) != 1 || replies[0].SessionID != "session-2" || replies[0].Tier != conversation.TierFast {
		t.Errorf("replies = %+v", replies)
	}

	if len(h.llm.CompleteCalls) != 1 {
		t.Fatalf("llm calls = %d", len(h.llm.CompleteCalls))
	}
	msgs := h.llm.CompleteCalls[0].Req.Messages
	if len(msgs) != 1 || msgs[0].Content != "What time is it?" {
		t.Errorf("llm messages = %+v", msgs)
	}
	if h.llm.CompleteCalls[0].Req.SystemPrompt == "" {
		t.Error("system prompt not sent")
	}

	answer := turnByText(t, h.store.Turns(), "It is noon.")
	if answer.Role != memory.RoleAssistant || answer.SessionID != "session-2" {
		t.Errorf("assistant turn = %+v", answer)
	}
}

func TestPipeline_StaleReplyDiscarded(t *testing.T) {
	release := make(chan struct{})
	model := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &llm.CompletionResponse{Content: "Too late."}, nil
		},
	}
	tr := &scriptedTranscriber{
		finals: map[int]string{45: "What time is it?", 50: "goodbye", 55: "yes"},
		onFinal: func(text string) {
			if text == "yes" {
				close(release)
			}
		},
	}
	replied := false
	h := newHarness(t, tr, model, pipeline.WithReplyHandler(func(pipeline.Reply) { replied = true }))

	h.run(t, frames(10, 50))

	if replied {
		t.Error("reply for a finished session was applied")
	}
	if h.ctrl.Mode() != conversation.Listening || len(h.ctrl.State().History) != 0 {
		t.Errorf("state = %+v", h.ctrl.State())
	}
	for _, turn := range h.store.Turns() {
		if turn.Role == memory.RoleAssistant {
			t.Errorf("stale reply stored: %+v", turn)
		}
	}
	if len(model.CompleteCalls) != 1 {
		t.Errorf("llm calls = %d", len(model.CompleteCalls))
	}
}

func TestPipeline_FailedReplyKeepsMode(t *testing.T) {
	tr := &scriptedTranscriber{finals: map[int]string{45: "What time is it?"}}
	h := newHarness(t, tr, &llmmock.Provider{CompleteErr: fmt.Errorf("unavailable")})

	h.run(t, frames(10, 40))

	if h.ctrl.Mode() != conversation.GemmaConversation {
		t.Errorf("mode = %v", h.ctrl.Mode())
	}
	if hist := h.ctrl.State().History; len(hist) != 1 {
		t.Errorf("history = %+v", hist)
	}
}

func TestPipeline_QuietAudioCreatesNoSpeaker(t *testing.T) {
	quiet := make([]float64, 480)
	for i := range quiet {
		quiet[i] = 0.015 * math.Sin(2*math.Pi*200*float64(i)/16000)
	}
	in := make([]audio.Frame, 100)
	for i := range in {
		in[i] = audio.Frame{Data: audio.Float64ToPCM16(quiet), SampleRate: 16000, Channels: 1}
	}
	h := newHarness(t, &scriptedTranscriber{}, reply("unused"))
	h.run(t, in)

	if h.arb.SpeakerCount() != 0 {
		t.Errorf("SpeakerCount = %d, want 0", h.arb.SpeakerCount())
	}
}

func TestPipeline_TuningBeforeFirstSpeaker(t *testing.T) {
	h := newHarness(t, &scriptedTranscriber{}, reply("unused"))

	cfg := conversation.DefaultControllerConfig()
	cfg.ExitKeywords = []string{"over and out"}
	h.p.ApplyTuning(pipeline.Tuning{
		Gate:       gate.DefaultConfig(),
		Arbiter:    speaker.DefaultArbiterConfig(),
		Controller: cfg,
		Segmenter:  pipeline.DefaultSegmenterConfig(),
	})
	h.run(t, frames(5, 0))

	if got := h.ctrl.Config().ExitKeywords; len(got) != 1 || got[0] != "over and out" {
		t.Errorf("exit keywords = %v", got)
	}
}

func TestPipeline_SingleSpeakerNeverForcesSegment(t *testing.T) {
	tr := &scriptedTranscriber{partial: "half a sentence"}
	h := newHarness(t, tr, reply("unused"))
	h.run(t, frames(0, 10))

	// A single speaker never triggers a forced segment.
	if tr.resets != 0 {
		t.Errorf("recognizer reset %d times", tr.resets)
	}
}

func TestPipeline_SpeakerChangeForcesSegment(t *testing.T) {
	const partial = "I was just saying that"
	tr := &scriptedTranscriber{partial: partial}
	h := newHarness(t, tr, reply("unused"))

	in := make([]audio.Frame, 0, 260)
	for range 60 {
		in = append(in, tone(180))
	}
	for range 200 {
		in = append(in, tone(2500))
	}
	h.run(t, in)

	if h.arb.SpeakerCount() != 2 || h.arb.Current() != "Speaker_B" {
		t.Fatalf("speakers = %d current = %q", h.arb.SpeakerCount(), h.arb.Current())
	}
	if tr.resets != 1 {
		t.Errorf("recognizer reset %d times, want 1", tr.resets)
	}
	forced := turnByText(t, h.store.Turns(), partial)
	if forced.SpeakerLabel != "Speaker_A" || forced.Role != memory.RoleUser {
		t.Errorf("forced turn = %+v", forced)
	}
}

func TestPipeline_RecordingKeepsHangoverFrames(t *testing.T) {
	// 5 silent, 10 speech, a 2-frame pause shorter than the silence
	// threshold, 10 speech. The final arrives on the last frame.
	in := frames(5, 10)
	in = append(in, silence(), silence())
	in = append(in, frames(0, 10)...)
	tr := &scriptedTranscriber{finals: map[int]string{len(in): "testing one two"}}
	h := newHarness(t, tr, reply("unused"))

	h.run(t, in)

	turn := turnByText(t, h.store.Turns(), "testing one two")
	if want := 22 * 30 * time.Millisecond; turn.Duration != want {
		t.Errorf("duration = %v, want %v (speech plus pause, no leading silence)", turn.Duration, want)
	}
}
