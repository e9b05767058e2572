package speaker

import (
	"errors"
	"testing"
)

type countingBackend struct {
	calls int
	last  []float64
	err   error
}

func (b *countingBackend) Name() string     { return "counting" }
func (b *countingBackend) Dim() int         { return 1 }
func (b *countingBackend) Normalized() bool { return false }
func (b *countingBackend) Embed(s []float64) (Embedding, error) {
	b.calls++
	b.last = append([]float64(nil), s...)
	if b.err != nil {
		return nil, b.err
	}
	return Embedding{float64(len(s))}, nil
}

func TestExtractor_NoEmbeddingUntilBufferFull(t *testing.T) {
	be := &countingBackend{}
	e := NewExtractor(ExtractorConfig{BufferSize: 10}, nil, WithBackend(be))

	e.Push([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if _, ok := e.Embedding(); ok {
		t.Fatal("embedding produced from a partial buffer")
	}
	if be.calls != 0 {
		t.Fatal("backend called before buffer was full")
	}
	e.Push([]float64{10, 11, 12})
	emb, ok := e.Embedding()
	if !ok || emb[0] != 10 {
		t.Fatalf("Embedding = %v ok=%v", emb, ok)
	}
	want := []float64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for i, v := range want {
		if be.last[i] != v {
			t.Fatalf("buffer = %v, want most recent %v", be.last, want)
		}
	}
}

func TestExtractor_OversizedPushKeepsTail(t *testing.T) {
	be := &countingBackend{}
	e := NewExtractor(ExtractorConfig{BufferSize: 3}, nil, WithBackend(be))
	e.Push([]float64{1, 2, 3, 4, 5})
	e.Embedding()
	if len(be.last) != 3 || be.last[0] != 3 || be.last[2] != 5 {
		t.Errorf("buffer = %v, want [3 4 5]", be.last)
	}
}

func TestExtractor_BackendErrorYieldsNoEmbedding(t *testing.T) {
	be := &countingBackend{err: errors.New("boom")}
	e := NewExtractor(ExtractorConfig{BufferSize: 2}, nil, WithBackend(be))
	e.Push([]float64{1, 2})
	if _, ok := e.Embedding(); ok {
		t.Error("backend error should yield ok=false")
	}
}

func TestExtractor_ResetEmptiesBuffer(t *testing.T) {
	e := NewExtractor(ExtractorConfig{BufferSize: 2}, nil, WithBackend(&countingBackend{}))
	e.Push([]float64{1, 2})
	e.Reset()
	if e.Ready() {
		t.Error("Ready after Reset")
	}
}

func TestNewExtractor_FallsBackToSpectralWithoutModel(t *testing.T) {
	e := NewExtractor(ExtractorConfig{}, nil)
	if e.Backend().Name() != "spectral" {
		t.Errorf("backend = %q, want spectral", e.Backend().Name())
	}
	if e.BufferSize() != 16000 {
		t.Errorf("BufferSize = %d, want 16000", e.BufferSize())
	}
}

func TestNewNeuralBackend_MissingModel(t *testing.T) {
	if _, err := NewNeuralBackend(NeuralConfig{}); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
	if _, err := NewNeuralBackend(NeuralConfig{ModelPath: t.TempDir() + "/missing.onnx"}); err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestFbank_Shape(t *testing.T) {
	fb := newFbank(defaultFbankConfig(16000))
	feats, frames := fb.compute(make([]float64, 16000))
	// 1 + (16000-400)/160 = 98 frames of 80 bins.
	if frames != 98 || len(feats) != 98*80 {
		t.Fatalf("frames=%d len=%d", frames, len(feats))
	}
	if _, n := fb.compute(make([]float64, 100)); n != 0 {
		t.Error("short buffer should yield no frames")
	}
}
