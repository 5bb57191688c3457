package analysis

import (
	"fmt"
	"strings"

	"github.com/oran3030/samply/internal/samplerr"
)

// AudioBuffer is decoded audio handed to the pipeline by a decoder.
// Samples are interleaved when Channels > 1. The pipeline never mutates or
// retains the slice.
type AudioBuffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// Frames returns the number of samples per channel.
func (b AudioBuffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Validate reports whether the buffer can be interpreted as audio.
func (b AudioBuffer) Validate() error {
	switch {
	case len(b.Samples) == 0:
		return samplerr.ErrEmptyBuffer
	case b.SampleRate <= 0:
		return fmt.Errorf("%w: %d Hz", samplerr.ErrInvalidSampleRate, b.SampleRate)
	case b.Channels <= 0:
		return fmt.Errorf("%w: %d", samplerr.ErrInvalidChannels, b.Channels)
	case len(b.Samples)%b.Channels != 0:
		return fmt.Errorf("%w: %d samples, %d channels",
			samplerr.ErrChannelMismatch, len(b.Samples), b.Channels)
	}
	return nil
}

// FeatureDescriptor is the result of analysing one buffer.
type FeatureDescriptor struct {
	DurationSeconds  float64   `json:"duration_seconds"`
	TempoBPM         float64   `json:"tempo_bpm"`
	Key              Key       `json:"key"`
	Loudness         float64   `json:"loudness"`
	RMS              float64   `json:"rms"`
	ZeroCrossingRate float64   `json:"zero_crossing_rate"`
	SpectralCentroid float64   `json:"spectral_centroid_hz"`
	Category         Category  `json:"category"`
	Waveform         []float64 `json:"waveform"`
}

// Key is one of the twelve pitch classes.
type Key int

const (
	KeyC Key = iota
	KeyCSharp
	KeyD
	KeyDSharp
	KeyE
	KeyF
	KeyFSharp
	KeyG
	KeyGSharp
	KeyA
	KeyASharp
	KeyB
)

var keyNames = [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// String returns the note name, e.g. "F#".
func (k Key) String() string {
	if k < KeyC || k > KeyB {
		return "unknown"
	}
	return keyNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	if k < KeyC || k > KeyB {
		return nil, fmt.Errorf("invalid key %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey parses a note name. Flats are accepted and mapped to their sharp
// equivalent ("Bb" is A#).
func ParseKey(s string) (Key, error) {
	name := strings.TrimSpace(s)
	if len(name) == 2 && (name[1] == 'b') {
		for i, n := range keyNames {
			if len(n) == 1 && strings.EqualFold(n, name[:1]) {
				return Key((i + 11) % 12), nil
			}
		}
	}
	for i, n := range keyNames {
		if strings.EqualFold(n, name) {
			return Key(i), nil
		}
	}
	return KeyC, fmt.Errorf("%w: unknown key %q", samplerr.ErrValidation, s)
}

// Category is a coarse timbral class.
type Category int

const (
	CategoryOther Category = iota
	CategoryDrums
	CategoryBass
	CategorySynth
	CategoryInstrument
)

var categoryNames = map[Category]string{
	CategoryOther:      "other",
	CategoryDrums:      "drums",
	CategoryBass:       "bass",
	CategorySynth:      "synth",
	CategoryInstrument: "instrument",
}

// String returns the lower-case category name.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	name, ok := categoryNames[c]
	if !ok {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	for cat, name := range categoryNames {
		if strings.EqualFold(name, string(text)) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("%w: unknown category %q", samplerr.ErrValidation, text)
}
