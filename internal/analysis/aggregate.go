package analysis

import (
	"fmt"
	"math"

	"github.com/oran3030/samply/internal/samplerr"
)

// DefaultWaveformResolution is the number of points in a waveform thumbnail.
const DefaultWaveformResolution = 100

// Loudness returns the mean absolute amplitude.
func Loudness(signal []float64) float64 {
	if len(signal) == 0 {
		return 0
	}
	var sum float64
	for _, x := range signal {
		sum += math.Abs(x)
	}
	return sum / float64(len(signal))
}

// RMS returns the root-mean-square amplitude.
func RMS(signal []float64) float64 {
	if len(signal) == 0 {
		return 0
	}
	var sum float64
	for _, x := range signal {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(signal)))
}

// ZeroCrossingRate returns the fraction of adjacent pairs whose sign differs,
// treating 0 as non-negative. Signals shorter than two samples have no pairs
// and yield 0.
func ZeroCrossingRate(signal []float64) float64 {
	if len(signal) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(signal); i++ {
		if (signal[i] >= 0) != (signal[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(signal)-1)
}

// WaveformThumbnail down-samples signal to exactly points values.
// The signal is split into points blocks of len(signal)/points samples; the
// n mod points trailing samples are dropped. Each value is the block's mean
// absolute amplitude clamped to [0,1]. A signal shorter than points yields
// all zeros.
func WaveformThumbnail(signal []float64, points int) ([]float64, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d", samplerr.ErrInvalidResolution, points)
	}

	waveform := make([]float64, points)
	blockSize := len(signal) / points
	if blockSize == 0 {
		return waveform, nil
	}

	for i := range waveform {
		start := i * blockSize
		waveform[i] = clamp01(Loudness(signal[start : start+blockSize]))
	}
	return waveform, nil
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
