package analysis

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/oran3030/samply/internal/samplerr"
)

func sine(freq, amp float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// --- Peak/Interval analyzer ---

func TestFindPeaks(t *testing.T) {
	tests := []struct {
		name      string
		signal    []float64
		threshold float64
		want      []int
	}{
		{"single peak", []float64{0, 0.9, 0.1}, 0.8, []int{1}},
		{"plateau is not a peak", []float64{0, 0.85, 0.85, 0.2}, 0.8, nil},
		{"below threshold", []float64{0, 0.7, 0}, 0.8, nil},
		{"edges never reported", []float64{0.95, 0.1, 0.2, 0.1, 0.99}, 0.05, []int{2}},
		{"several peaks", []float64{0, 0.9, 0, 0.95, 0, 0.81, 0}, 0.8, []int{1, 3, 5}},
		{"too short", []float64{1, 1}, 0, nil},
		{"empty", nil, 0.8, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindPeaks(tt.signal, tt.threshold)
			if err != nil {
				t.Fatalf("FindPeaks failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindPeaks = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindPeaksRejectsNegativeThreshold(t *testing.T) {
	_, err := FindPeaks([]float64{0, 1, 0}, -0.1)
	if !errors.Is(err, samplerr.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestAnalyzeIntervals(t *testing.T) {
	got := AnalyzeIntervals([]int{0, 500, 1250}, 1000)
	want := []float64{0.5, 0.75}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AnalyzeIntervals = %v, want %v", got, want)
	}

	if got := AnalyzeIntervals([]int{42}, 1000); len(got) != 0 {
		t.Errorf("Expected no intervals for one peak, got %v", got)
	}
	if got := AnalyzeIntervals(nil, 1000); len(got) != 0 {
		t.Errorf("Expected no intervals for no peaks, got %v", got)
	}
}

func TestTempoFromIntervals(t *testing.T) {
	tests := []struct {
		intervals []float64
		want      float64
	}{
		{nil, 120},
		{[]float64{}, 120},
		{[]float64{0.5}, 120},
		{[]float64{0.25, 0.25}, 240},
		{[]float64{0.4, 0.6}, 120},
		{[]float64{1.0}, 60},
		{[]float64{0.7}, 86}, // 85.71 rounds up
	}

	for _, tt := range tests {
		if got := TempoFromIntervals(tt.intervals); got != tt.want {
			t.Errorf("TempoFromIntervals(%v) = %v, want %v", tt.intervals, got, tt.want)
		}
	}
}

// --- Spectral analyzer ---

func TestTransformBinCount(t *testing.T) {
	tests := []struct {
		n, maxSize, want int
	}{
		{8, 0, 5},
		{7, 0, 4},
		{1000, 0, 501},
		{2000, 1000, 501},
		{999, 1000, 500},
		{1, 0, 1},
		{0, 0, 0},
	}

	for _, tt := range tests {
		got := Transform(make([]float64, tt.n), tt.maxSize)
		if len(got) != tt.want {
			t.Errorf("Transform(n=%d, max=%d) returned %d bins, want %d", tt.n, tt.maxSize, len(got), tt.want)
		}
	}
}

func TestTransformNonPowerOfTwoSine(t *testing.T) {
	// 1000 samples is not a power of two; 50 Hz completes exactly 50 cycles.
	mags := Transform(sine(50, 0.9, 1000, 1000), 0)

	if !approxEqual(mags[50], 0.9, 1e-6) {
		t.Errorf("Magnitude at bin 50 = %v, want 0.9", mags[50])
	}
	for k, m := range mags {
		if k != 50 && m > 1e-6 {
			t.Errorf("Unexpected energy %v at bin %d", m, k)
		}
	}
}

func TestTransformDC(t *testing.T) {
	signal := make([]float64, 64)
	for i := range signal {
		signal[i] = 0.5
	}
	mags := Transform(signal, 0)
	if !approxEqual(mags[0], 0.5, 1e-9) {
		t.Errorf("DC magnitude = %v, want 0.5", mags[0])
	}
}

func TestDominantFrequencies(t *testing.T) {
	got, err := DominantFrequencies([]float64{0.1, 0.6, 0.5, 0.9}, 0.5)
	if err != nil {
		t.Fatalf("DominantFrequencies failed: %v", err)
	}
	want := []Frequency{{Bin: 1, Magnitude: 0.6}, {Bin: 3, Magnitude: 0.9}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DominantFrequencies = %v, want %v", got, want)
	}

	if _, err := DominantFrequencies(nil, -1); !errors.Is(err, samplerr.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestEstimateKey(t *testing.T) {
	const sr = 44100
	tests := []struct {
		name     string
		dominant []Frequency
		want     Key
	}{
		{"A4", []Frequency{{Bin: 440, Magnitude: 0.9}}, KeyA},
		{"middle C", []Frequency{{Bin: 262, Magnitude: 0.9}}, KeyC},
		{"strongest wins", []Frequency{{Bin: 440, Magnitude: 0.6}, {Bin: 330, Magnitude: 0.9}}, KeyE},
		{"nothing dominant", nil, DefaultKey},
		{"DC only", []Frequency{{Bin: 0, Magnitude: 1}}, DefaultKey},
		{"DC ignored", []Frequency{{Bin: 0, Magnitude: 5}, {Bin: 466, Magnitude: 0.7}}, KeyASharp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateKey(tt.dominant, sr, sr); got != tt.want {
				t.Errorf("EstimateKey = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPitchClass(t *testing.T) {
	tests := []struct {
		hz   float64
		want Key
	}{
		{440, KeyA},
		{261.63, KeyC},
		{277.18, KeyCSharp},
		{880, KeyA},
		{55, KeyA},
		{30.87, KeyB},
		{0, DefaultKey},
		{-10, DefaultKey},
	}

	for _, tt := range tests {
		if got := PitchClass(tt.hz); got != tt.want {
			t.Errorf("PitchClass(%v) = %v, want %v", tt.hz, got, tt.want)
		}
	}
}

func TestSpectralCentroid(t *testing.T) {
	tests := []struct {
		mags []float64
		want float64
	}{
		{[]float64{0, 0, 0}, 0},
		{nil, 0},
		{[]float64{1, 1}, 0.5},
		{[]float64{0, 0, 2}, 2},
		{[]float64{1, 0, 0, 1}, 1.5},
	}

	for _, tt := range tests {
		if got := SpectralCentroid(tt.mags); got != tt.want {
			t.Errorf("SpectralCentroid(%v) = %v, want %v", tt.mags, got, tt.want)
		}
	}
}

// --- Aggregator ---

func TestLoudnessAndRMS(t *testing.T) {
	tests := []struct {
		signal       []float64
		wantLoudness float64
		wantRMS      float64
	}{
		{[]float64{0, 0, 0, 0}, 0, 0},
		{[]float64{1, -1}, 1, 1},
		{[]float64{0.5, -0.5, 0, 0}, 0.25, math.Sqrt(0.125)},
		{nil, 0, 0},
	}

	for _, tt := range tests {
		if got := Loudness(tt.signal); !approxEqual(got, tt.wantLoudness, 1e-12) {
			t.Errorf("Loudness(%v) = %v, want %v", tt.signal, got, tt.wantLoudness)
		}
		if got := RMS(tt.signal); !approxEqual(got, tt.wantRMS, 1e-12) {
			t.Errorf("RMS(%v) = %v, want %v", tt.signal, got, tt.wantRMS)
		}
	}
}

func TestLoudnessAndRMSStayInUnitRange(t *testing.T) {
	signals := [][]float64{
		sine(3, 1, 100, 100),
		{1, 1, 1},
		{-1, -1, -1, -1},
		{1, -1, 1, -1, 0.3},
	}
	for _, s := range signals {
		l, r := Loudness(s), RMS(s)
		if l < 0 || l > 1 {
			t.Errorf("Loudness %v out of range for %v", l, s)
		}
		if r < 0 || r > 1 {
			t.Errorf("RMS %v out of range for %v", r, s)
		}
	}
}

func TestZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name   string
		signal []float64
		want   float64
	}{
		{"rise and fall, one sign", []float64{0.1, 0.2, 0.3, 0.2, 0.1}, 0},
		{"negative rise and fall", []float64{-0.1, -0.5, -0.9, -0.5, -0.1}, 0},
		{"strict alternation", []float64{1, -1, 1, -1, 1}, 1},
		{"zero is non-negative", []float64{0, 1, 0, 1}, 0},
		{"zero to negative", []float64{0, -1}, 1},
		{"half", []float64{1, -1, -1}, 0.5},
		{"single sample", []float64{-1}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ZeroCrossingRate(tt.signal); got != tt.want {
				t.Errorf("ZeroCrossingRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaveformThumbnailDropsRemainder(t *testing.T) {
	// 1050 samples at 100 points: blocks of 10, the last 50 samples dropped.
	signal := make([]float64, 1050)
	for j := 0; j < 1000; j++ {
		signal[j] = float64(j/10) / 100
	}
	for j := 1000; j < 1050; j++ {
		signal[j] = 1
	}

	waveform, err := WaveformThumbnail(signal, 100)
	if err != nil {
		t.Fatalf("WaveformThumbnail failed: %v", err)
	}
	if len(waveform) != 100 {
		t.Fatalf("Waveform length = %d, want 100", len(waveform))
	}
	for i, v := range waveform {
		if !approxEqual(v, float64(i)/100, 1e-12) {
			t.Errorf("waveform[%d] = %v, want %v", i, v, float64(i)/100)
		}
	}
}

func TestWaveformThumbnailLength(t *testing.T) {
	for _, n := range []int{1, 37, 99, 100, 101, 12345} {
		for _, points := range []int{1, 37, 100} {
			signal := sine(5, 0.8, 1000, n)
			waveform, err := WaveformThumbnail(signal, points)
			if err != nil {
				t.Fatalf("WaveformThumbnail(n=%d, points=%d) failed: %v", n, points, err)
			}
			if len(waveform) != points {
				t.Errorf("WaveformThumbnail(n=%d, points=%d) length %d", n, points, len(waveform))
			}
			for _, v := range waveform {
				if v < 0 || v > 1 {
					t.Errorf("Waveform value %v out of [0,1]", v)
				}
			}
		}
	}
}

func TestWaveformThumbnailShortSignalAndClamp(t *testing.T) {
	waveform, _ := WaveformThumbnail([]float64{0.5, 0.5}, 4)
	if !reflect.DeepEqual(waveform, []float64{0, 0, 0, 0}) {
		t.Errorf("Short signal waveform = %v, want zeros", waveform)
	}

	waveform, _ = WaveformThumbnail([]float64{2, -3}, 2)
	if !reflect.DeepEqual(waveform, []float64{1, 1}) {
		t.Errorf("Out-of-range signal waveform = %v, want clamped ones", waveform)
	}

	if _, err := WaveformThumbnail([]float64{1}, 0); !errors.Is(err, samplerr.ErrValidation) {
		t.Errorf("Expected validation error for zero points, got %v", err)
	}
}

func TestClassifyCategory(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name     string
		features Features
		want     Category
	}{
		{"bright is hi-hat", Features{SpectralCentroidHz: 8000, RMS: 0.1}, CategoryDrums},
		{"loud is kick", Features{SpectralCentroidHz: 80, RMS: 0.8}, CategoryDrums},
		{"otherwise synth", Features{SpectralCentroidHz: 1200, RMS: 0.3}, CategorySynth},
		{"thresholds are exclusive", Features{SpectralCentroidHz: 5000, RMS: 0.7}, CategorySynth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyCategory(tt.features, rules); got != tt.want {
				t.Errorf("ClassifyCategory = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- Pipeline ---

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestAnalyzeRejectsMalformedBuffers(t *testing.T) {
	a := newTestAnalyzer(t)
	tests := []struct {
		name string
		buf  AudioBuffer
	}{
		{"empty", AudioBuffer{SampleRate: 44100, Channels: 1}},
		{"zero sample rate", AudioBuffer{Samples: []float64{0, 1}, Channels: 1}},
		{"zero channels", AudioBuffer{Samples: []float64{0, 1}, SampleRate: 44100}},
		{"channel mismatch", AudioBuffer{Samples: []float64{0, 1, 0}, SampleRate: 44100, Channels: 2}},
		{"NaN sample", AudioBuffer{Samples: []float64{0, math.NaN()}, SampleRate: 44100, Channels: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(tt.buf)
			if !errors.Is(err, samplerr.ErrDecode) {
				t.Errorf("Expected decode error, got %v", err)
			}
		})
	}
}

func TestAnalyzeSine(t *testing.T) {
	a := newTestAnalyzer(t)
	buf := AudioBuffer{Samples: sine(440, 0.9, 44100, 44100), SampleRate: 44100, Channels: 1}

	d, err := a.Analyze(buf)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if d.DurationSeconds != 1 {
		t.Errorf("Duration = %v, want 1", d.DurationSeconds)
	}
	if d.Key != KeyA {
		t.Errorf("Key = %v, want A", d.Key)
	}
	if !approxEqual(d.Loudness, 0.9*2/math.Pi, 1e-3) {
		t.Errorf("Loudness = %v, want ~%v", d.Loudness, 0.9*2/math.Pi)
	}
	if !approxEqual(d.RMS, 0.9/math.Sqrt2, 1e-3) {
		t.Errorf("RMS = %v, want ~%v", d.RMS, 0.9/math.Sqrt2)
	}
	if !approxEqual(d.SpectralCentroid, 440, 1) {
		t.Errorf("Centroid = %v Hz, want ~440", d.SpectralCentroid)
	}
	if d.Category != CategorySynth {
		t.Errorf("Category = %v, want synth", d.Category)
	}
	if len(d.Waveform) != DefaultWaveformResolution {
		t.Errorf("Waveform length = %d, want %d", len(d.Waveform), DefaultWaveformResolution)
	}
	if d.TempoBPM <= 0 {
		t.Errorf("Tempo = %v, want positive", d.TempoBPM)
	}
}

// The descriptor's category is a function of the centroid and RMS it reports;
// the zero crossing rate is reported alongside but never classified on.
func TestAnalyzeCategoryFollowsReportedFeatures(t *testing.T) {
	a := newTestAnalyzer(t)
	noise := make([]float64, 8192)
	for i := range noise {
		if i%2 == 0 {
			noise[i] = 0.2
		} else {
			noise[i] = -0.2
		}
	}

	tests := []struct {
		name    string
		samples []float64
	}{
		{"quiet sine", sine(440, 0.3, 44100, 8192)},
		{"loud low sine", sine(60, 1, 44100, 8192)},
		{"alternating", noise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := a.Analyze(AudioBuffer{Samples: tt.samples, SampleRate: 44100, Channels: 1})
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if want := ZeroCrossingRate(tt.samples); d.ZeroCrossingRate != want {
				t.Errorf("ZeroCrossingRate = %v, want %v", d.ZeroCrossingRate, want)
			}
			want := ClassifyCategory(Features{SpectralCentroidHz: d.SpectralCentroid, RMS: d.RMS}, DefaultRules())
			if d.Category != want {
				t.Errorf("Category = %v, want %v from reported features", d.Category, want)
			}
		})
	}
}

func TestAnalyzeImpulseTrainTempo(t *testing.T) {
	a := newTestAnalyzer(t)
	samples := make([]float64, 2000)
	for i := 125; i < len(samples); i += 250 {
		samples[i] = 1
	}

	d, err := a.Analyze(AudioBuffer{Samples: samples, SampleRate: 1000, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d.TempoBPM != 240 {
		t.Errorf("Tempo = %v, want 240", d.TempoBPM)
	}
}

func TestAnalyzeSilenceUsesDefaults(t *testing.T) {
	a := newTestAnalyzer(t)
	d, err := a.Analyze(AudioBuffer{Samples: make([]float64, 512), SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d.TempoBPM != FallbackTempoBPM {
		t.Errorf("Tempo = %v, want fallback %v", d.TempoBPM, FallbackTempoBPM)
	}
	if d.Key != DefaultKey {
		t.Errorf("Key = %v, want default %v", d.Key, DefaultKey)
	}
	if d.SpectralCentroid != 0 || d.RMS != 0 || d.Loudness != 0 || d.ZeroCrossingRate != 0 {
		t.Errorf("Silence should have zero statistics, got %+v", d)
	}
}

func TestAnalyzeCategories(t *testing.T) {
	a := newTestAnalyzer(t)

	// Full-scale low sine: RMS 0.707 trips the kick rule.
	kick, err := a.Analyze(AudioBuffer{Samples: sine(100, 1, 8000, 8000), SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if kick.Category != CategoryDrums {
		t.Errorf("Loud low sine category = %v, want drums", kick.Category)
	}

	// Quiet bright tone: centroid above 5 kHz trips the hi-hat rule.
	hat, err := a.Analyze(AudioBuffer{Samples: sine(6000, 0.3, 44100, 44100), SampleRate: 44100, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if hat.Category != CategoryDrums {
		t.Errorf("Bright tone category = %v (centroid %v Hz), want drums", hat.Category, hat.SpectralCentroid)
	}
}

func TestAnalyzeUsesFirstChannel(t *testing.T) {
	a := newTestAnalyzer(t)
	mono := sine(440, 0.9, 8000, 8000)
	stereo := make([]float64, 0, 2*len(mono))
	for _, x := range mono {
		stereo = append(stereo, x, 0.25)
	}

	want, err := a.Analyze(AudioBuffer{Samples: mono, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze mono failed: %v", err)
	}
	got, err := a.Analyze(AudioBuffer{Samples: stereo, SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("Analyze stereo failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Stereo analysis differs from first channel:\n got %+v\nwant %+v", got, want)
	}
}

func TestAnalyzeDoesNotMutateInput(t *testing.T) {
	a := newTestAnalyzer(t)
	samples := sine(220, 0.5, 8000, 1000)
	orig := append([]float64(nil), samples...)

	if _, err := a.Analyze(AudioBuffer{Samples: samples, SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !reflect.DeepEqual(samples, orig) {
		t.Error("Analyze mutated the input buffer")
	}
}

func TestAnalyzeCustomResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaveformResolution = 16
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	d, err := a.Analyze(AudioBuffer{Samples: sine(50, 0.5, 1000, 1003), SampleRate: 1000, Channels: 1})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(d.Waveform) != 16 {
		t.Errorf("Waveform length = %d, want 16", len(d.Waveform))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []func(*Config){
		func(c *Config) { c.PeakThreshold = -1 },
		func(c *Config) { c.DominantThreshold = -0.5 },
		func(c *Config) { c.WaveformResolution = 0 },
		func(c *Config) { c.MaxTransformSize = -2 },
		func(c *Config) { c.Rules.KickRMS = -1 },
	}

	for i, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg); !errors.Is(err, samplerr.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestKeyText(t *testing.T) {
	for k := KeyC; k <= KeyB; k++ {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) failed: %v", k, err)
		}
		var parsed Key
		if err := parsed.UnmarshalText(text); err != nil || parsed != k {
			t.Errorf("UnmarshalText(%s) = %v, %v", text, parsed, err)
		}
	}

	if k, err := ParseKey("Bb"); err != nil || k != KeyASharp {
		t.Errorf("ParseKey(Bb) = %v, %v; want A#", k, err)
	}
	if _, err := ParseKey("H"); err == nil {
		t.Error("Expected error for unknown key")
	}
}
