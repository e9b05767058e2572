package speaker_test

import (
	"math"
	"testing"

	"github.com/MrWong99/hearken/internal/speaker"
)

func sine(freq, amp float64, n, rate int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return s
}

func TestSpectralBackend_Deterministic(t *testing.T) {
	b := speaker.NewSpectralBackend(16000)
	buf := sine(220, 0.3, 16000, 16000)
	for i := range buf {
		buf[i] += 0.05 * math.Sin(float64(i)*0.37)
	}

	e1, err := b.Embed(buf)
	if err != nil {
		t.Fatal(err)
	}
	e2, _ := b.Embed(buf)
	if len(e1) != speaker.SpectralDim {
		t.Fatalf("dim = %d, want %d", len(e1), speaker.SpectralDim)
	}
	for i := range e1 {
		if math.Float64bits(e1[i]) != math.Float64bits(e2[i]) {
			t.Fatalf("dim %d differs between runs: %v vs %v", i, e1[i], e2[i])
		}
	}
}

func TestSpectralBackend_BandsAndCentroid(t *testing.T) {
	b := speaker.NewSpectralBackend(16000)

	// 300 Hz falls in the first of eight ~490 Hz sub-bands of 80-4000 Hz.
	low, _ := b.Embed(sine(300, 0.5, 16000, 16000))
	// 3500 Hz falls in the last.
	high, _ := b.Embed(sine(3500, 0.5, 16000, 16000))

	fl, ok := speaker.ParseSpectral(low)
	if !ok {
		t.Fatal("ParseSpectral failed")
	}
	fh, _ := speaker.ParseSpectral(high)

	if fl.Bands[0] <= fl.Bands[7] {
		t.Errorf("300 Hz tone: band0 %v should exceed band7 %v", fl.Bands[0], fl.Bands[7])
	}
	if fh.Bands[7] <= fh.Bands[0] {
		t.Errorf("3500 Hz tone: band7 %v should exceed band0 %v", fh.Bands[7], fh.Bands[0])
	}
	if got := fl.Centroid * 4000; math.Abs(got-300) > 20 {
		t.Errorf("300 Hz centroid = %v Hz", got)
	}
	if fl.Centroid >= fh.Centroid {
		t.Errorf("centroids not ordered: %v >= %v", fl.Centroid, fh.Centroid)
	}
	var sum float64
	for _, v := range fl.Bands {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("band shares sum to %v, want 1", sum)
	}
}

func TestSpectralBackend_IndependentOfLoudness(t *testing.T) {
	b := speaker.NewSpectralBackend(16000)
	quiet := sine(300, 0.05, 16000, 16000)
	loud := sine(300, 0.4, 16000, 16000)
	for i := range quiet {
		quiet[i] += 0.01 * math.Sin(2*math.Pi*1700*float64(i)/16000)
		loud[i] += 0.08 * math.Sin(2*math.Pi*1700*float64(i)/16000)
	}

	eq, err := b.Embed(quiet)
	if err != nil {
		t.Fatal(err)
	}
	el, _ := b.Embed(loud)
	for i := range eq {
		if math.Abs(eq[i]-el[i]) > 1e-6 {
			t.Errorf("dim %d: quiet %v, loud %v", i, eq[i], el[i])
		}
	}
	// Centroid and spread are fractions of the 4 kHz band edge.
	if c := eq[speaker.SpectralBands]; c <= 0 || c >= 1 {
		t.Errorf("centroid component = %v, want within (0, 1)", c)
	}
	if sp := eq[speaker.SpectralBands+1]; sp <= 0 || sp >= 1 {
		t.Errorf("spread component = %v, want within (0, 1)", sp)
	}
}

func TestSpectralBackend_SilenceIsZero(t *testing.T) {
	e, err := speaker.NewSpectralBackend(16000).Embed(make([]float64, 16000))
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range e {
		if v != 0 {
			t.Errorf("dim %d = %v, want 0", i, v)
		}
	}
}

func TestSpectralFeatures_RoundTrip(t *testing.T) {
	e := speaker.Embedding{1, 2, 3, 4, 5, 6, 7, 8, 0.25, 0.1, -0.5}
	f, ok := speaker.ParseSpectral(e)
	if !ok {
		t.Fatal("ParseSpectral failed")
	}
	if f.Centroid != 0.25 || f.Spread != 0.1 || f.Skewness != -0.5 || f.Bands[7] != 8 {
		t.Errorf("features = %+v", f)
	}
	back := f.Embedding()
	for i := range e {
		if back[i] != e[i] {
			t.Fatalf("dim %d = %v, want %v", i, back[i], e[i])
		}
	}
	if _, ok := speaker.ParseSpectral(speaker.Embedding{1, 2}); ok {
		t.Error("ParseSpectral accepted wrong dimension")
	}
}
