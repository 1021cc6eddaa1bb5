package features

import (
	"fmt"
	"math"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
)

const (
	// envelopeWindowSec is the causal moving-average window for the
	// amplitude envelope (~20ms of signal).
	envelopeWindowSec = 0.02
	// peakThreshold is the absolute envelope level a local maximum must
	// exceed to count as a peak.
	peakThreshold = 0.02
	// maxPeakIndices caps the reported peak index list. Truncation, not
	// sampling: the first N peaks win.
	maxPeakIndices = 1000
)

// Features is the deterministic summary of one recording. RMS here is the
// standard-deviation estimate (sqrt of mean squared deviation from the mean),
// not a zero-mean RMS; downstream consumers depend on that exact definition.
type Features struct {
	SampleRate     int     `json:"sampleRate"`
	DurationSec    float64 `json:"durationSec"`
	RMS            float64 `json:"rms"`
	ZCRPerSec      float64 `json:"zcrPerSec"`
	EnvelopePeaks  []int   `json:"envelopePeaks"`
	PeakRatePerSec float64 `json:"peakRatePerSec"`
}

// Extract is a pure function: identical input yields identical output, no
// side effects, safe for concurrent use.
func Extract(sampleRate int, samples []float64) (*Features, error) {
	if sampleRate <= 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("sampleRate must be a positive integer, got %d", sampleRate))
	}
	if len(samples) == 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("samples must be a non-empty sequence"))
	}

	n := len(samples)
	durationSec := float64(n) / float64(sampleRate)

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)

	var sqDev float64
	for _, s := range samples {
		d := s - mean
		sqDev += d * d
	}
	dispersion := math.Sqrt(sqDev / float64(n))

	// Zero crossings: exactly zero counts as non-negative.
	crossings := 0
	for i := 1; i < n; i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	zcrPerSec := float64(crossings) * float64(sampleRate) / float64(n)

	envelope := computeEnvelope(sampleRate, samples)

	peaks := make([]int, 0, 16)
	peakCount := 0
	for i := 1; i < n-1; i++ {
		if envelope[i] > envelope[i-1] && envelope[i] > envelope[i+1] && envelope[i] > peakThreshold {
			peakCount++
			if len(peaks) < maxPeakIndices {
				peaks = append(peaks, i)
			}
		}
	}

	return &Features{
		SampleRate:     sampleRate,
		DurationSec:    durationSec,
		RMS:            dispersion,
		ZCRPerSec:      zcrPerSec,
		EnvelopePeaks:  peaks,
		PeakRatePerSec: float64(peakCount) / durationSec,
	}, nil
}

// computeEnvelope is a causal moving average of |sample| maintained as a
// running sum that subtracts the sample leaving the window.
func computeEnvelope(sampleRate int, samples []float64) []float64 {
	window := int(math.Floor(float64(sampleRate) * envelopeWindowSec))
	if window < 1 {
		window = 1
	}
	envelope := make([]float64, len(samples))
	var running float64
	for i, s := range samples {
		running += math.Abs(s)
		if i >= window {
			running -= math.Abs(samples[i-window])
		}
		span := i + 1
		if span > window {
			span = window
		}
		envelope[i] = running / float64(span)
	}
	return envelope
}
