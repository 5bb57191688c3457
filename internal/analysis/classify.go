package analysis

// Features are the signal statistics the category rules look at.
type Features struct {
	SpectralCentroidHz float64
	RMS                float64
}

// Rules holds the thresholds of the category heuristic.
type Rules struct {
	// HighFrequencyCentroidHz marks bright, hi-hat like material.
	HighFrequencyCentroidHz float64 `yaml:"high_frequency_centroid_hz" env:"HIGH_FREQUENCY_CENTROID_HZ"`

	// KickRMS marks loud, kick like material.
	KickRMS float64 `yaml:"kick_rms" env:"KICK_RMS"`
}

// DefaultRules returns the stock thresholds.
func DefaultRules() Rules {
	return Rules{
		HighFrequencyCentroidHz: 5000,
		KickRMS:                 0.7,
	}
}

// ClassifyCategory evaluates the rules in order and returns the first match:
//
//  1. centroid above HighFrequencyCentroidHz -> drums (hi-hat)
//  2. RMS above KickRMS                      -> drums (kick)
//  3. otherwise                              -> synth
//
// This is a coarse, hand-tuned heuristic and not a trained classifier. Bass,
// instrument and other are never produced by these rules; they exist so that
// callers can record categories assigned by hand.
func ClassifyCategory(f Features, r Rules) Category {
	switch {
	case f.SpectralCentroidHz > r.HighFrequencyCentroidHz:
		return CategoryDrums
	case f.RMS > r.KickRMS:
		return CategoryDrums
	default:
		return CategorySynth
	}
}
