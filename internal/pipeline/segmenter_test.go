package pipeline_test

import (
	"testing"

	"github.com/MrWong99/hearken/internal/pipeline"
	"github.com/MrWong99/hearken/internal/speaker"
)

func current(id string) speaker.Decision { return speaker.Decision{Current: id, Nominee: id} }

func change(from, to string) speaker.Decision {
	return speaker.Decision{Current: to, Nominee: to, Change: &speaker.ChangeEvent{Previous: from, Current: to}}
}

func TestSegmenter_ForcesOncePerChange(t *testing.T) {
	s := pipeline.NewSegmenter(pipeline.DefaultSegmenterConfig())
	const partial = "I was saying that"

	for range 10 {
		if _, ok := s.Observe(current("Speaker_A"), partial); ok {
			t.Fatal("forced without a change")
		}
	}

	if _, ok := s.Observe(change("Speaker_A", "Speaker_B"), partial); ok {
		t.Fatal("forced on the change frame")
	}
	for i := 2; i < 30; i++ {
		if _, ok := s.Observe(current("Speaker_B"), partial); ok {
			t.Fatalf("forced after %d frames, want 30", i)
		}
	}
	seg, ok := s.Observe(current("Speaker_B"), partial)
	if !ok {
		t.Fatal("no forced segment on frame 30")
	}
	if seg.Speaker != "Speaker_A" || seg.Text != partial || !seg.Forced {
		t.Errorf("segment = %+v", seg)
	}

	for range 100 {
		if _, ok := s.Observe(current("Speaker_B"), partial); ok {
			t.Fatal("forced twice for one change")
		}
	}
}

func TestSegmenter_ShortPartial(t *testing.T) {
	s := pipeline.NewSegmenter(pipeline.SegmenterConfig{ForceFrames: 3, MinPartialChars: 5})
	s.Observe(change("Speaker_A", "Speaker_B"), "")
	s.Observe(current("Speaker_B"), "hi")
	if _, ok := s.Observe(current("Speaker_B"), "hello"); ok {
		t.Error("forced with a partial of exactly MinPartialChars")
	}
	seg, ok := s.Observe(current("Speaker_B"), "hello!")
	if !ok || seg.Speaker != "Speaker_A" {
		t.Errorf("segment = %+v, %v", seg, ok)
	}
}

func TestSegmenter_SecondChangeRestarts(t *testing.T) {
	s := pipeline.NewSegmenter(pipeline.SegmenterConfig{ForceFrames: 5})
	s.Observe(change("Speaker_A", "Speaker_B"), "some words")
	s.Observe(current("Speaker_B"), "some words")
	s.Observe(current("Speaker_B"), "some words")

	s.Observe(change("Speaker_B", "Speaker_C"), "some words")
	for range 3 {
		if _, ok := s.Observe(current("Speaker_C"), "some words"); ok {
			t.Fatal("count was not restarted")
		}
	}
	seg, ok := s.Observe(current("Speaker_C"), "some words")
	if !ok || seg.Speaker != "Speaker_B" {
		t.Errorf("segment = %+v, %v", seg, ok)
	}
}

func TestSegmenter_FirstSpeakerAndCancel(t *testing.T) {
	s := pipeline.NewSegmenter(pipeline.SegmenterConfig{ForceFrames: 2})
	s.Observe(change("", "Speaker_A"), "long partial text")
	if s.Tracking() {
		t.Error("tracking a change without a previous speaker")
	}

	s.Observe(change("Speaker_A", "Speaker_B"), "long partial text")
	s.Cancel()
	if _, ok := s.Observe(current("Speaker_B"), "long partial text"); ok {
		t.Error("forced after Cancel")
	}
}
