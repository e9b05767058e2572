package speaker

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	voiceBandLow  = 80.0
	voiceBandHigh = 4000.0

	// minSpreadHz guards skewness against numerically zero spread (a pure
	// tone on an exact bin).
	minSpreadHz = 1e-3
)

var _ Backend = (*SpectralBackend)(nil)

// SpectralBackend derives an 11-dimensional embedding from the magnitude
// spectrum of the buffer restricted to the voice band. It is a pure function
// of its input and needs no model, so it is always available.
//
// Band means are scaled to sum to one, which makes the embedding independent
// of loudness and buffer length. Centroid and spread are expressed as
// fractions of 4000 Hz so that no single component dominates the cosine.
type SpectralBackend struct {
	sampleRate int

	mu   sync.Mutex
	fft  *fourier.FFT
	n    int
	coef []complex128
}

// NewSpectralBackend creates a spectral backend for audio at sampleRate.
func NewSpectralBackend(sampleRate int) *SpectralBackend {
	return &SpectralBackend{sampleRate: sampleRate}
}

// Name implements [Backend].
func (b *SpectralBackend) Name() string { return "spectral" }

// Dim implements [Backend].
func (b *SpectralBackend) Dim() int { return SpectralDim }

// Normalized implements [Backend]. Spectral embeddings are not unit norm.
func (b *SpectralBackend) Normalized() bool { return false }

// Embed implements [Backend]. An empty or silent buffer yields the zero
// vector.
func (b *SpectralBackend) Embed(samples []float64) (Embedding, error) {
	out := make(Embedding, SpectralDim)
	if len(samples) < 2 {
		return out, nil
	}

	mags, freqs := b.spectrum(samples)
	if len(mags) == 0 {
		return out, nil
	}

	m := len(mags)
	var bandSum float64
	for band := range SpectralBands {
		lo, hi := band*m/SpectralBands, (band+1)*m/SpectralBands
		if hi <= lo {
			continue
		}
		var sum float64
		for _, v := range mags[lo:hi] {
			sum += v
		}
		out[band] = sum / float64(hi-lo)
		bandSum += out[band]
	}
	if bandSum == 0 {
		return out, nil
	}
	for band := range SpectralBands {
		out[band] /= bandSum
	}

	var total, centroid float64
	for i, v := range mags {
		total += v
		centroid += freqs[i] * v
	}
	if total == 0 {
		return out, nil
	}
	centroid /= total

	var m2, m3 float64
	for i, v := range mags {
		d := freqs[i] - centroid
		m2 += d * d * v
		m3 += d * d * d * v
	}
	m2 /= total
	m3 /= total
	spread := math.Sqrt(m2)

	out[SpectralBands] = centroid / voiceBandHigh
	out[SpectralBands+1] = spread / voiceBandHigh
	if spread > minSpreadHz {
		out[SpectralBands+2] = m3 / (spread * spread * spread)
	}
	return out, nil
}

// spectrum returns the magnitudes and frequencies (Hz) of the FFT bins that
// fall inside the voice band.
func (b *SpectralBackend) spectrum(samples []float64) (mags, freqs []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(samples)
	if b.fft == nil || b.n != n {
		b.fft = fourier.NewFFT(n)
		b.n = n
		b.coef = make([]complex128, n/2+1)
	}
	coef := b.fft.Coefficients(b.coef, samples)

	for i, c := range coef {
		f := b.fft.Freq(i) * float64(b.sampleRate)
		if f < voiceBandLow || f > voiceBandHigh {
			continue
		}
		mags = append(mags, math.Hypot(real(c), imag(c)))
		freqs = append(freqs, f)
	}
	return mags, freqs
}
