package pipeline

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Spectral estimator defaults.
const (
	DefaultSpectralWindow = 256
	DefaultMaxFreq        = 50.0
	DefaultEpsilon        = 1e-10
)

// Band is a named frequency range, inclusive at both ends.
type Band struct {
	Name string  `json:"name"`
	Low  float64 `json:"low_hz"`
	High float64 `json:"high_hz"`
}

// DefaultBands are the sensorimotor rhythm bands highlighted on the
// spectrum display.
var DefaultBands = []Band{
	{Name: "alpha", Low: 8, High: 13},
	{Name: "beta", Low: 13, High: 30},
}

// BandPower is the mean power of the bins inside a [Band].
type BandPower struct {
	Band
	PowerDB float64 `json:"power_db"`
}

// Spectrum is one spectral frame: frequency/power pairs over [0, MaxFreq].
// It is rebuilt from scratch on every render tick.
type Spectrum struct {
	Freq    []float64   `json:"freq_hz"`
	PowerDB []float64   `json:"power_db"`
	Bands   []BandPower `json:"bands,omitempty"`
}

// Estimator computes a Hann-windowed magnitude spectrum in dB from the
// newest Window samples of a channel. It holds no state between calls.
type Estimator struct {
	// Window is the number of samples analysed (W).
	Window int

	// MaxFreq is the highest frequency, in Hz, kept in the output.
	MaxFreq float64

	// Epsilon is added to every magnitude before taking the logarithm.
	Epsilon float64

	// Bands lists the bands summarised in [Spectrum.Bands].
	Bands []Band

	taper []float64
}

// NewEstimator returns an estimator with the given window length and
// frequency limit, falling back to the defaults for non-positive values.
func NewEstimator(size int, maxFreq, epsilon float64) *Estimator {
	if size < 2 {
		size = DefaultSpectralWindow
	}
	if maxFreq <= 0 {
		maxFreq = DefaultMaxFreq
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Estimator{
		Window:  size,
		MaxFreq: maxFreq,
		Epsilon: epsilon,
		Bands:   DefaultBands,
		taper:   hann(size),
	}
}

// Estimate computes the spectrum of the newest e.Window values of samples,
// acquired at rate Hz. ok is false when fewer than e.Window samples are
// available; that is the normal warm-up state, not an error.
func (e *Estimator) Estimate(samples []float64, rate float64) (Spectrum, bool) {
	if len(samples) < e.Window || !(rate > 0) {
		return Spectrum{}, false
	}
	taper := e.taper
	if len(taper) != e.Window {
		taper = hann(e.Window)
	}

	segment := samples[len(samples)-e.Window:]
	tapered := make([]float64, e.Window)
	for i, v := range segment {
		tapered[i] = v * taper[i]
	}

	coeffs := fft.FFTReal(tapered)

	// Only the non-negative half of a real signal's spectrum is unique.
	bins := e.Window/2 + 1
	step := rate / float64(e.Window)
	spec := Spectrum{
		Freq:    make([]float64, 0, bins),
		PowerDB: make([]float64, 0, bins),
	}
	for k := 0; k < bins; k++ {
		f := float64(k) * step
		if f > e.MaxFreq {
			break
		}
		spec.Freq = append(spec.Freq, f)
		spec.PowerDB = append(spec.PowerDB, 20*math.Log10(cmplx.Abs(coeffs[k])+e.Epsilon))
	}
	spec.Bands = bandPowers(spec, e.Bands)
	return spec, true
}

func bandPowers(spec Spectrum, bands []Band) []BandPower {
	if len(bands) == 0 {
		return nil
	}
	out := make([]BandPower, 0, len(bands))
	for _, b := range bands {
		var sum float64
		var n int
		for i, f := range spec.Freq {
			if f >= b.Low && f <= b.High {
				sum += spec.PowerDB[i]
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, BandPower{Band: b, PowerDB: sum / float64(n)})
	}
	return out
}

func hann(n int) []float64 {
	return window.Hann(n)
}
