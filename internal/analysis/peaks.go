package analysis

import (
	"fmt"
	"math"

	"github.com/oran3030/samply/internal/samplerr"
)

// FallbackTempoBPM is reported when fewer than two peaks are found and no
// interval exists to derive a tempo from.
const FallbackTempoBPM = 120.0

// FindPeaks returns the indices of local maxima above threshold, in order.
// Index i is a peak when signal[i] > threshold and it is strictly greater than
// both neighbours, so the first and last samples are never reported.
func FindPeaks(signal []float64, threshold float64) ([]int, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %v", samplerr.ErrNegativeThreshold, threshold)
	}

	var peaks []int
	for i := 1; i < len(signal)-1; i++ {
		if signal[i] > threshold && signal[i] > signal[i-1] && signal[i] > signal[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks, nil
}

// AnalyzeIntervals converts consecutive peak indices to spacings in seconds.
// The result has len(peaks)-1 elements, or none when there are fewer than two
// peaks.
func AnalyzeIntervals(peaks []int, sampleRate int) []float64 {
	if len(peaks) < 2 || sampleRate <= 0 {
		return nil
	}

	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1])/float64(sampleRate))
	}
	return intervals
}

// TempoFromIntervals returns round(60 / mean(intervals)).
// An empty sequence yields FallbackTempoBPM.
func TempoFromIntervals(intervals []float64) float64 {
	if len(intervals) == 0 {
		return FallbackTempoBPM
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return FallbackTempoBPM
	}
	return math.Round(60 / mean)
}
