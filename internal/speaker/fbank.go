package speaker

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fbankConfig describes Kaldi-compatible log-mel filterbank extraction, the
// input most speaker-embedding networks (ECAPA-TDNN, ResNet, ERes2Net) were
// trained on.
type fbankConfig struct {
	sampleRate  int
	numMelBins  int
	frameLenMs  float64
	frameHopMs  float64
	preemphasis float64
	lowFreq     float64
}

func defaultFbankConfig(sampleRate int) fbankConfig {
	return fbankConfig{
		sampleRate:  sampleRate,
		numMelBins:  80,
		frameLenMs:  25,
		frameHopMs:  10,
		preemphasis: 0.97,
		lowFreq:     20,
	}
}

// fbank computes mean-normalised log-mel features.
type fbank struct {
	cfg      fbankConfig
	frameLen int
	frameHop int
	fftSize  int
	window   []float64
	filters  [][]float64 // numMelBins x (fftSize/2+1)
	fft      *fourier.FFT
}

func newFbank(cfg fbankConfig) *fbank {
	frameLen := int(float64(cfg.sampleRate) * cfg.frameLenMs / 1000)
	fftSize := 1
	for fftSize < frameLen {
		fftSize <<= 1
	}
	fb := &fbank{
		cfg:      cfg,
		frameLen: frameLen,
		frameHop: int(float64(cfg.sampleRate) * cfg.frameHopMs / 1000),
		fftSize:  fftSize,
		window:   make([]float64, frameLen),
		fft:      fourier.NewFFT(fftSize),
	}
	for i := range fb.window {
		fb.window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(frameLen-1))
	}
	fb.filters = melFilters(cfg.numMelBins, fftSize, cfg.sampleRate, cfg.lowFreq, float64(cfg.sampleRate)/2)
	return fb
}

func hzToMel(f float64) float64 { return 1127 * math.Log(1+f/700) }

func melFilters(bins, fftSize, sampleRate int, low, high float64) [][]float64 {
	nfreq := fftSize/2 + 1
	melLow, melHigh := hzToMel(low), hzToMel(high)
	delta := (melHigh - melLow) / float64(bins+1)
	out := make([][]float64, bins)
	for b := range bins {
		left := melLow + float64(b)*delta
		center := left + delta
		right := center + delta
		row := make([]float64, nfreq)
		for k := range nfreq {
			mel := hzToMel(float64(k) * float64(sampleRate) / float64(fftSize))
			switch {
			case mel > left && mel <= center:
				row[k] = (mel - left) / (center - left)
			case mel > center && mel < right:
				row[k] = (right - mel) / (right - center)
			}
		}
		out[b] = row
	}
	return out
}

// compute returns the feature matrix row-major (frames x numMelBins) and the
// number of frames. Buffers shorter than one analysis window yield nothing.
func (fb *fbank) compute(samples []float64) ([]float32, int) {
	if len(samples) < fb.frameLen {
		return nil, 0
	}
	frames := 1 + (len(samples)-fb.frameLen)/fb.frameHop
	bins := fb.cfg.numMelBins
	feats := make([]float32, frames*bins)
	means := make([]float64, bins)

	frame := make([]float64, fb.fftSize)
	coef := make([]complex128, fb.fftSize/2+1)
	power := make([]float64, fb.fftSize/2+1)
	row := make([]float64, bins)

	for t := range frames {
		src := samples[t*fb.frameHop : t*fb.frameHop+fb.frameLen]
		var dc float64
		for _, v := range src {
			dc += v
		}
		dc /= float64(len(src))

		clear(frame)
		prev := src[0] - dc
		for i, v := range src {
			x := v - dc
			frame[i] = (x - fb.cfg.preemphasis*prev) * fb.window[i]
			prev = x
		}

		coef = fb.fft.Coefficients(coef, frame)
		for k, c := range coef {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		for b, filt := range fb.filters {
			var e float64
			for k, w := range filt {
				if w != 0 {
					e += w * power[k]
				}
			}
			row[b] = math.Log(max(e, 1.1920929e-07))
			means[b] += row[b]
		}
		for b, v := range row {
			feats[t*bins+b] = float32(v)
		}
	}

	for b := range means {
		means[b] /= float64(frames)
	}
	for t := range frames {
		for b := range bins {
			feats[t*bins+b] -= float32(means[b])
		}
	}
	return feats, frames
}
