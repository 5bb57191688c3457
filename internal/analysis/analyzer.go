package analysis

import (
	"fmt"
	"math"

	"github.com/oran3030/samply/internal/samplerr"
)

// Config contains the fixed parameters of an Analyzer.
type Config struct {
	// PeakThreshold is the amplitude a sample must exceed to count as a beat peak.
	PeakThreshold float64 `yaml:"peak_threshold" env:"SAMPLY_ANALYSIS_PEAK_THRESHOLD"`

	// DominantThreshold is the spectral magnitude a bin must exceed to be dominant.
	DominantThreshold float64 `yaml:"dominant_threshold" env:"SAMPLY_ANALYSIS_DOMINANT_THRESHOLD"`

	// WaveformResolution is the length of every waveform thumbnail.
	WaveformResolution int `yaml:"waveform_resolution" env:"SAMPLY_ANALYSIS_WAVEFORM_RESOLUTION"`

	// MaxTransformSize caps the FFT input; longer signals are truncated.
	MaxTransformSize int `yaml:"max_transform_size" env:"SAMPLY_ANALYSIS_MAX_TRANSFORM_SIZE"`

	// Rules are the category heuristic thresholds.
	Rules Rules `yaml:"rules" envPrefix:"SAMPLY_ANALYSIS_RULES_"`
}

// DefaultConfig returns a Config with the stock thresholds.
func DefaultConfig() Config {
	return Config{
		PeakThreshold:      0.8,
		DominantThreshold:  0.5,
		WaveformResolution: DefaultWaveformResolution,
		MaxTransformSize:   DefaultMaxTransformSize,
		Rules:              DefaultRules(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PeakThreshold < 0 || math.IsNaN(c.PeakThreshold) {
		return fmt.Errorf("peak_threshold: %w", samplerr.ErrNegativeThreshold)
	}
	if c.DominantThreshold < 0 || math.IsNaN(c.DominantThreshold) {
		return fmt.Errorf("dominant_threshold: %w", samplerr.ErrNegativeThreshold)
	}
	if c.WaveformResolution <= 0 {
		return fmt.Errorf("waveform_resolution: %w", samplerr.ErrInvalidResolution)
	}
	if c.MaxTransformSize < 0 {
		return fmt.Errorf("%w: max_transform_size must not be negative, got %d",
			samplerr.ErrInvalidConfig, c.MaxTransformSize)
	}
	if c.Rules.HighFrequencyCentroidHz < 0 || c.Rules.KickRMS < 0 {
		return fmt.Errorf("rules: %w", samplerr.ErrNegativeThreshold)
	}
	return nil
}

// Analyzer extracts a FeatureDescriptor from decoded audio.
// An Analyzer holds only its configuration, so one value may be shared by any
// number of goroutines analysing distinct buffers.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer with the given configuration.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze runs the pipeline on the first channel of buf: peaks and tempo,
// then the spectrum (key and centroid), then the block aggregates (loudness,
// RMS, zero crossings, category and waveform).
//
// The only failure is a buffer that is not audio, reported as a decode error.
func (a *Analyzer) Analyze(buf AudioBuffer) (FeatureDescriptor, error) {
	mono, err := FirstChannel(buf)
	if err != nil {
		return FeatureDescriptor{}, err
	}

	// Thresholds were validated in New, so the leaf calls below cannot fail.
	peaks, _ := FindPeaks(mono, a.cfg.PeakThreshold)
	tempo := TempoFromIntervals(AnalyzeIntervals(peaks, buf.SampleRate))

	transformLen := TransformLength(len(mono), a.cfg.MaxTransformSize)
	magnitudes := Transform(mono, a.cfg.MaxTransformSize)
	dominant, _ := DominantFrequencies(magnitudes, a.cfg.DominantThreshold)
	key := EstimateKey(dominant, buf.SampleRate, transformLen)
	centroidHz := SpectralCentroid(magnitudes) * float64(buf.SampleRate) / float64(transformLen)

	rms := RMS(mono)
	zcr := ZeroCrossingRate(mono)
	waveform, _ := WaveformThumbnail(mono, a.cfg.WaveformResolution)
	category := ClassifyCategory(Features{
		SpectralCentroidHz: centroidHz,
		RMS:                rms,
	}, a.cfg.Rules)

	return FeatureDescriptor{
		DurationSeconds:  float64(len(mono)) / float64(buf.SampleRate),
		TempoBPM:         tempo,
		Key:              key,
		Loudness:         Loudness(mono),
		RMS:              rms,
		ZeroCrossingRate: zcr,
		SpectralCentroid: centroidHz,
		Category:         category,
		Waveform:         waveform,
	}, nil
}

// FirstChannel validates buf and returns a copy of its first channel.
// Non-finite samples are rejected as undecodable.
func FirstChannel(buf AudioBuffer) ([]float64, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}

	frames := buf.Frames()
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		x := buf.Samples[i*buf.Channels]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite sample at frame %d", samplerr.ErrUnsupportedFormat, i)
		}
		mono[i] = x
	}
	return mono, nil
}
