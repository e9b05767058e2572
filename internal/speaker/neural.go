package speaker

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// pcmScale restores int16 amplitude after peak normalisation; Kaldi-style
// filterbanks are computed on int16-scaled waveforms.
const pcmScale = 32768.0

// ErrNoModel is returned by [NewNeuralBackend] when no model path is set.
var ErrNoModel = errors.New("speaker: no neural model configured")

// NeuralConfig configures the ONNX speaker-embedding backend.
type NeuralConfig struct {
	// ModelPath is the ONNX model file. Empty disables the neural backend.
	ModelPath string

	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string

	// InputName and OutputName are the model's tensor names. Defaults
	// "feats" and "embs" match the WeSpeaker exports.
	InputName  string
	OutputName string

	// SampleRate of the audio fed to Embed. Default 16000.
	SampleRate int
}

var (
	ortMu   sync.Mutex
	ortInit error
	ortDone bool
)

// initORT initialises the process-wide onnxruntime environment once.
func initORT(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortDone {
		return ortInit
	}
	ortDone = true
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		ortInit = ort.InitializeEnvironment()
	}
	return ortInit
}

var _ Backend = (*NeuralBackend)(nil)

// NeuralBackend runs a pretrained speaker-embedding network through ONNX
// Runtime. The waveform is peak normalised, converted to 80-bin log-mel
// features and the network output is L2 normalised.
type NeuralBackend struct {
	cfg     NeuralConfig
	dim     int
	fbank   *fbank
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// NewNeuralBackend loads the model and runs it once on one second of silence
// to learn the output dimension. Any failure is returned so the caller can
// choose the spectral backend instead.
func NewNeuralBackend(cfg NeuralConfig) (*NeuralBackend, error) {
	if cfg.ModelPath == "" {
		return nil, ErrNoModel
	}
	if cfg.InputName == "" {
		cfg.InputName = "feats"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "embs"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("speaker: neural model: %w", err)
	}
	if err := initORT(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("speaker: init onnxruntime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("speaker: load model %q: %w", cfg.ModelPath, err)
	}
	b := &NeuralBackend{
		cfg:     cfg,
		fbank:   newFbank(defaultFbankConfig(cfg.SampleRate)),
		session: session,
	}

	dim, err := b.outputDim()
	if err != nil {
		session.Destroy()
		return nil, err
	}
	b.dim = dim

	probe := make([]float64, cfg.SampleRate)
	if _, err := b.run(probe); err != nil {
		session.Destroy()
		return nil, fmt.Errorf("speaker: probe model: %w", err)
	}
	return b, nil
}

func (b *NeuralBackend) outputDim() (int, error) {
	_, outputs, err := ort.GetInputOutputInfo(b.cfg.ModelPath)
	if err != nil {
		return 0, fmt.Errorf("speaker: inspect model: %w", err)
	}
	for _, o := range outputs {
		if o.Name != b.cfg.OutputName || len(o.Dimensions) == 0 {
			continue
		}
		if d := o.Dimensions[len(o.Dimensions)-1]; d > 0 {
			return int(d), nil
		}
	}
	return 0, fmt.Errorf("speaker: model output %q has no static embedding dimension", b.cfg.OutputName)
}

// Name implements [Backend].
func (b *NeuralBackend) Name() string { return "neural" }

// Dim implements [Backend].
func (b *NeuralBackend) Dim() int { return b.dim }

// Normalized implements [Backend].
func (b *NeuralBackend) Normalized() bool { return true }

// Embed implements [Backend].
func (b *NeuralBackend) Embed(samples []float64) (Embedding, error) {
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(s))
	}
	scaled := make([]float64, len(samples))
	if peak > 0 {
		g := pcmScale / peak
		for i, s := range samples {
			scaled[i] = s * g
		}
	}
	e, err := b.run(scaled)
	if err != nil {
		return nil, err
	}
	Normalize(e)
	return e, nil
}

func (b *NeuralBackend) run(samples []float64) (Embedding, error) {
	feats, frames := b.fbank.compute(samples)
	if frames == 0 {
		return nil, fmt.Errorf("speaker: buffer of %d samples too short for features", len(samples))
	}

	in, err := ort.NewTensor(ort.NewShape(1, int64(frames), int64(b.fbank.cfg.numMelBins)), feats)
	if err != nil {
		return nil, fmt.Errorf("speaker: input tensor: %w", err)
	}
	defer in.Destroy()

	dim := b.dim
	if dim == 0 {
		dim = 1
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		return nil, fmt.Errorf("speaker: output tensor: %w", err)
	}
	defer out.Destroy()

	b.mu.Lock()
	err = b.session.Run([]ort.Value{in}, []ort.Value{out})
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("speaker: run model: %w", err)
	}

	data := out.GetData()
	e := make(Embedding, len(data))
	for i, v := range data {
		e[i] = float64(v)
	}
	return e, nil
}

// Close releases the ONNX session. The process-wide environment is kept.
func (b *NeuralBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
