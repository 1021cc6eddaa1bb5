package features

import (
	"math"
	"testing"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestExtractRejectsInvalidInput(t *testing.T) {
	if _, err := Extract(0, []float64{0.1}); !apierr.IsInvalidInput(err) {
		t.Fatalf("zero sample rate: want invalid_input, got %v", err)
	}
	if _, err := Extract(-8000, []float64{0.1}); !apierr.IsInvalidInput(err) {
		t.Fatalf("negative sample rate: want invalid_input, got %v", err)
	}
	if _, err := Extract(8000, nil); !apierr.IsInvalidInput(err) {
		t.Fatalf("nil samples: want invalid_input, got %v", err)
	}
	if _, err := Extract(8000, []float64{}); !apierr.IsInvalidInput(err) {
		t.Fatalf("empty samples: want invalid_input, got %v", err)
	}
}

func TestExtractKnownSequence(t *testing.T) {
	f, err := Extract(1000, []float64{0, 0.2, -0.3, 0.1, 0.4})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !almostEqual(f.DurationSec, 0.005, 1e-12) {
		t.Fatalf("durationSec: want 0.005 got %v", f.DurationSec)
	}
	// Sign changes at indices 2 and 3 (zero counts as non-negative).
	if !almostEqual(f.ZCRPerSec, 400, 1e-9) {
		t.Fatalf("zcrPerSec: want 400 got %v", f.ZCRPerSec)
	}
	// mean=0.08, sqrt(mean squared deviation)=sqrt(0.0536)
	if !almostEqual(f.RMS, math.Sqrt(0.0536), 1e-9) {
		t.Fatalf("rms: want %v got %v", math.Sqrt(0.0536), f.RMS)
	}
	// Envelope window (20 samples) exceeds the sequence, so the envelope is the
	// cumulative mean of |x|: 0, .1, .16667, .15, .2 -> single peak at index 2.
	if len(f.EnvelopePeaks) != 1 || f.EnvelopePeaks[0] != 2 {
		t.Fatalf("envelopePeaks: want [2] got %v", f.EnvelopePeaks)
	}
	if !almostEqual(f.PeakRatePerSec, 200, 1e-9) {
		t.Fatalf("peakRatePerSec: want 200 got %v", f.PeakRatePerSec)
	}
}

func TestExtractInvariants(t *testing.T) {
	cases := []struct {
		name       string
		sampleRate int
		samples    []float64
	}{
		{"single sample", 44100, []float64{0.5}},
		{"flat silence", 8000, make([]float64, 4000)},
		{"alternating", 8000, alternating(8000)},
		{"loud sine-ish", 4000, sineLike(4000, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Extract(tc.sampleRate, tc.samples)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			wantDur := float64(len(tc.samples)) / float64(tc.sampleRate)
			if f.DurationSec != wantDur {
				t.Fatalf("durationSec: want %v got %v", wantDur, f.DurationSec)
			}
			if f.ZCRPerSec < 0 {
				t.Fatalf("zcrPerSec must be >= 0, got %v", f.ZCRPerSec)
			}
			if f.PeakRatePerSec < 0 {
				t.Fatalf("peakRatePerSec must be >= 0, got %v", f.PeakRatePerSec)
			}
			if len(f.EnvelopePeaks) > 1000 {
				t.Fatalf("envelopePeaks must be capped at 1000, got %d", len(f.EnvelopePeaks))
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	samples := sineLike(2048, 7)
	first, err := Extract(8000, samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := Extract(8000, samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if first.RMS != second.RMS || first.ZCRPerSec != second.ZCRPerSec ||
		first.PeakRatePerSec != second.PeakRatePerSec ||
		len(first.EnvelopePeaks) != len(second.EnvelopePeaks) {
		t.Fatalf("repeated extraction differed: %+v vs %+v", first, second)
	}
}

func alternating(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.4
		} else {
			out[i] = -0.4
		}
	}
	return out
}

func sineLike(n, cycles int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.8 * math.Sin(2*math.Pi*float64(cycles)*float64(i)/float64(n))
	}
	return out
}
