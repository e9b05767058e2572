// Package speaker implements streaming speaker attribution: an embedding
// extractor over a rolling audio buffer, a registry of speaker profiles with
// nearest-profile matching, and the arbiter that debounces raw similarity
// into a stable current-speaker label.
//
// Nothing in this package is safe for concurrent use. The frame loop owns the
// Extractor, Registry and Arbiter for the lifetime of a session.
package speaker

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"
)

// Embedding is a fixed-dimension voice vector. Neural embeddings are unit
// norm; spectral embeddings follow the layout documented on
// [SpectralFeatures] and are compared by cosine similarity regardless.
type Embedding []float64

// ErrDimensionMismatch is returned when two embeddings of different length
// are combined.
var ErrDimensionMismatch = errors.New("speaker: embedding dimension mismatch")

// Clone returns a copy of e.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Float32 converts e for storage in float32 vector columns.
func (e Embedding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. For unit
// vectors this is the dot product. It returns 0 when either vector has zero
// norm or the dimensions differ.
func Cosine(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Normalize scales e in place to unit L2 norm. Zero vectors are left as is.
func Normalize(e Embedding) {
	if n := floats.Norm(e, 2); n > 0 {
		floats.Scale(1/n, e)
	}
}

// Mean returns the element-wise mean of es.
func Mean(es []Embedding) (Embedding, error) {
	if len(es) == 0 {
		return nil, errors.New("speaker: mean of no embeddings")
	}
	out := make(Embedding, len(es[0]))
	for _, e := range es {
		if len(e) != len(out) {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(e), len(out))
		}
		floats.Add(out, e)
	}
	floats.Scale(1/float64(len(es)), out)
	return out, nil
}

// ─── Spectral layout ─────────────────────────────────────────────────────────

// SpectralBands is the number of voice sub-bands in a spectral embedding.
const SpectralBands = 8

// SpectralDim is the dimension of a spectral embedding: the band energies
// followed by centroid, spread and skewness.
const SpectralDim = SpectralBands + 3

// SpectralFeatures is a named view over a spectral embedding, for logs and
// debugging. The embedding layout is
//
//	[0..7]  mean magnitude of eight equal sub-bands of 80-4000 Hz, scaled
//	        to sum to one
//	[8]     spectral centroid as a fraction of 4000 Hz
//	[9]     spectral spread as a fraction of 4000 Hz
//	[10]    spectral skewness
type SpectralFeatures struct {
	Bands    [SpectralBands]float64
	Centroid float64
	Spread   float64
	Skewness float64
}

// ParseSpectral returns the named view of e. ok is false if e does not have
// the spectral dimension.
func ParseSpectral(e Embedding) (f SpectralFeatures, ok bool) {
	if len(e) != SpectralDim {
		return f, false
	}
	copy(f.Bands[:], e[:SpectralBands])
	f.Centroid = e[SpectralBands]
	f.Spread = e[SpectralBands+1]
	f.Skewness = e[SpectralBands+2]
	return f, true
}

// Embedding packs f back into the fixed layout.
func (f SpectralFeatures) Embedding() Embedding {
	e := make(Embedding, SpectralDim)
	copy(e, f.Bands[:])
	e[SpectralBands] = f.Centroid
	e[SpectralBands+1] = f.Spread
	e[SpectralBands+2] = f.Skewness
	return e
}

// LogValue implements slog.LogValuer.
func (f SpectralFeatures) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("centroid_hz", f.Centroid*voiceBandHigh),
		slog.Float64("spread_hz", f.Spread*voiceBandHigh),
		slog.Float64("skewness", f.Skewness),
	)
}
