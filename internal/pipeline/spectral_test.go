package pipeline_test

import (
	"math"
	"testing"

	"github.com/MrWong99/mindscope/internal/pipeline"
)

func sine(n int, rate, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func TestEstimator_NotReadyBelowWindow(t *testing.T) {
	t.Parallel()

	e := pipeline.NewEstimator(256, 50, 1e-10)
	if _, ok := e.Estimate(make([]float64, 255), 250); ok {
		t.Error("Estimate() ok with 255 samples, want not ready")
	}
	if _, ok := e.Estimate(make([]float64, 256), 0); ok {
		t.Error("Estimate() ok with zero rate")
	}
}

func TestEstimator_BinsAndPeak(t *testing.T) {
	t.Parallel()

	const rate = 250.0
	e := pipeline.NewEstimator(256, 50, 1e-10)
	// 10.7421875 Hz is exactly bin 11 at this rate and window.
	freq := 11 * rate / 256
	spec, ok := e.Estimate(sine(300, rate, freq, 20), rate)
	if !ok {
		t.Fatal("Estimate() not ready with 300 samples")
	}

	if len(spec.Freq) != len(spec.PowerDB) {
		t.Fatalf("len(Freq) = %d, len(PowerDB) = %d", len(spec.Freq), len(spec.PowerDB))
	}
	// Bins 0..51 satisfy k*250/256 <= 50.
	if len(spec.Freq) != 52 {
		t.Errorf("bins = %d, want 52", len(spec.Freq))
	}
	for _, f := range spec.Freq {
		if f > 50 {
			t.Errorf("frequency %v exceeds 50 Hz", f)
		}
	}

	peak := 0
	for i, p := range spec.PowerDB {
		if p > spec.PowerDB[peak] {
			peak = i
		}
	}
	if peak != 11 {
		t.Errorf("peak bin = %d (%.2f Hz), want 11", peak, spec.Freq[peak])
	}
}

func TestEstimator_ReadyAtExactWindow(t *testing.T) {
	t.Parallel()

	const rate = 250.0
	e := pipeline.NewEstimator(256, 50, 1e-10)
	spec, ok := e.Estimate(sine(256, rate, 11*rate/256, 20), rate)
	if !ok {
		t.Fatal("Estimate() not ready with exactly 256 samples")
	}
	if len(spec.Freq) != 52 {
		t.Errorf("bins = %d, want 52", len(spec.Freq))
	}
	if spec.Freq[0] != 0 {
		t.Errorf("first bin = %v Hz, want 0", spec.Freq[0])
	}
	for _, f := range spec.Freq {
		if f < 0 || f > 50 {
			t.Fatalf("frequency %v outside [0, 50]", f)
		}
	}
	if last := spec.Freq[len(spec.Freq)-1]; math.Abs(last-51*rate/256) > 1e-9 {
		t.Errorf("last bin = %v Hz, want %v", last, 51*rate/256)
	}
}

func TestEstimator_SilenceIsFloor(t *testing.T) {
	t.Parallel()

	e := pipeline.NewEstimator(64, 50, 1e-10)
	spec, ok := e.Estimate(make([]float64, 64), 250)
	if !ok {
		t.Fatal("Estimate() not ready")
	}
	for i, p := range spec.PowerDB {
		if math.IsInf(p, 0) || math.IsNaN(p) {
			t.Fatalf("PowerDB[%d] = %v, want finite", i, p)
		}
		if math.Abs(p-(-200)) > 1e-6 {
			t.Errorf("PowerDB[%d] = %v, want -200 dB floor", i, p)
		}
	}
}

func TestEstimator_BandPowers(t *testing.T) {
	t.Parallel()

	const rate = 250.0
	e := pipeline.NewEstimator(256, 50, 1e-10)
	spec, _ := e.Estimate(sine(256, rate, 11*rate/256, 20), rate)

	if len(spec.Bands) != 2 {
		t.Fatalf("bands = %d, want 2", len(spec.Bands))
	}
	alpha, beta := spec.Bands[0], spec.Bands[1]
	if alpha.Name != "alpha" || beta.Name != "beta" {
		t.Fatalf("band names = %q, %q", alpha.Name, beta.Name)
	}
	if alpha.PowerDB <= beta.PowerDB {
		t.Errorf("alpha power %.1f dB not above beta %.1f dB for an alpha-band tone", alpha.PowerDB, beta.PowerDB)
	}
}

func TestNewEstimator_Defaults(t *testing.T) {
	t.Parallel()

	e := pipeline.NewEstimator(0, 0, 0)
	if e.Window != pipeline.DefaultSpectralWindow {
		t.Errorf("Window = %d, want %d", e.Window, pipeline.DefaultSpectralWindow)
	}
	if e.MaxFreq != pipeline.DefaultMaxFreq {
		t.Errorf("MaxFreq = %v, want %v", e.MaxFreq, pipeline.DefaultMaxFreq)
	}
	if e.Epsilon != pipeline.DefaultEpsilon {
		t.Errorf("Epsilon = %v, want %v", e.Epsilon, pipeline.DefaultEpsilon)
	}
}
