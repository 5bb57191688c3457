package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/oran3030/samply/internal/samplerr"
)

// DefaultMaxTransformSize caps the number of samples fed to the FFT.
const DefaultMaxTransformSize = 1 << 16

// Frequency is a spectrum bin whose magnitude passed the dominance threshold.
type Frequency struct {
	Bin       int
	Magnitude float64
}

// TransformLength returns how many samples Transform will actually use for an
// n-sample signal: the whole signal, truncated to maxSize when maxSize > 0.
// The signal is never zero padded.
func TransformLength(n, maxSize int) int {
	if maxSize > 0 && n > maxSize {
		return maxSize
	}
	return n
}

// Transform computes the amplitude spectrum of signal. For an input of length
// n (after truncation to maxSize) it returns n/2+1 magnitudes. Lengths that
// are not a power of two are transformed exactly, without padding.
//
// Magnitudes are scaled so a full-scale sinusoid centred on a bin reads 1.0:
// 2|X_k|/n for interior bins, |X_k|/n for DC and Nyquist.
func Transform(signal []float64, maxSize int) []float64 {
	n := TransformLength(len(signal), maxSize)
	if n == 0 {
		return nil
	}

	spectrum := fft.FFTReal(signal[:n])

	bins := n/2 + 1
	magnitudes := make([]float64, bins)
	for k := 0; k < bins; k++ {
		scale := 2.0 / float64(n)
		if k == 0 || (n%2 == 0 && k == n/2) {
			scale = 1.0 / float64(n)
		}
		magnitudes[k] = cmplx.Abs(spectrum[k]) * scale
	}
	return magnitudes
}

// DominantFrequencies returns every bin whose magnitude exceeds threshold,
// in bin order.
func DominantFrequencies(magnitudes []float64, threshold float64) ([]Frequency, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %v", samplerr.ErrNegativeThreshold, threshold)
	}

	var dominant []Frequency
	for bin, m := range magnitudes {
		if m > threshold {
			dominant = append(dominant, Frequency{Bin: bin, Magnitude: m})
		}
	}
	return dominant, nil
}

// DefaultKey is returned by EstimateKey when nothing in the spectrum is
// dominant enough to name a pitch.
const DefaultKey = KeyC

// EstimateKey maps the strongest dominant bin to its pitch class.
// The bin's centre frequency (bin * sampleRate / transformLen) is converted to
// the nearest equal-tempered MIDI note, A4 = 440 Hz. The DC bin carries no
// pitch and is skipped.
func EstimateKey(dominant []Frequency, sampleRate, transformLen int) Key {
	if sampleRate <= 0 || transformLen <= 0 {
		return DefaultKey
	}

	strongest := -1
	var best float64
	for i, f := range dominant {
		if f.Bin <= 0 {
			continue
		}
		if strongest < 0 || f.Magnitude > best {
			strongest = i
			best = f.Magnitude
		}
	}
	if strongest < 0 {
		return DefaultKey
	}

	hz := BinFrequency(dominant[strongest].Bin, sampleRate, transformLen)
	return PitchClass(hz)
}

// BinFrequency returns the centre frequency in Hz of an FFT bin.
func BinFrequency(bin, sampleRate, transformLen int) float64 {
	if transformLen <= 0 {
		return 0
	}
	return float64(bin) * float64(sampleRate) / float64(transformLen)
}

// PitchClass returns the pitch class nearest to hz. Non-positive frequencies
// yield DefaultKey.
func PitchClass(hz float64) Key {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return DefaultKey
	}
	midi := int(math.Round(69 + 12*math.Log2(hz/440)))
	return Key(((midi % 12) + 12) % 12)
}

// SpectralCentroid returns sum(i*m[i]) / sum(m[i]) in bins, or 0 for a
// silent spectrum.
func SpectralCentroid(magnitudes []float64) float64 {
	var num, den float64
	for i, m := range magnitudes {
		num += float64(i) * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return num / den
}
