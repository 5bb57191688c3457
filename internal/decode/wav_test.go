package decode

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/samplerr"
)

// writeTestWAV encodes buf into a temp file and returns its path.
func writeTestWAV(t *testing.T, buf analysis.AudioBuffer, bitDepth int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	if err := EncodeWAV(f, buf, bitDepth); err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return path
}

func stereoSine(frames int) analysis.AudioBuffer {
	samples := make([]float64, 0, 2*frames)
	for i := 0; i < frames; i++ {
		x := 0.5 * math.Sin(2*math.Pi*440*float64(i)/8000)
		samples = append(samples, x, -x)
	}
	return analysis.AudioBuffer{Samples: samples, SampleRate: 8000, Channels: 2}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	want := stereoSine(800)
	path := writeTestWAV(t, want, 16)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if got.SampleRate != want.SampleRate || got.Channels != want.Channels {
		t.Fatalf("Format = %d Hz/%d ch, want %d Hz/%d ch",
			got.SampleRate, got.Channels, want.SampleRate, want.Channels)
	}
	if len(got.Samples) != len(want.Samples) {
		t.Fatalf("Decoded %d samples, want %d", len(got.Samples), len(want.Samples))
	}
	for i := range want.Samples {
		if math.Abs(got.Samples[i]-want.Samples[i]) > 1e-3 {
			t.Fatalf("Sample %d = %v, want %v", i, got.Samples[i], want.Samples[i])
		}
	}
}

func TestDecode_FromBytes(t *testing.T) {
	path := writeTestWAV(t, stereoSine(100), 16)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if mime := SniffMIME(data); mime != MIMEWAV {
		t.Fatalf("SniffMIME = %q, want %q", mime, MIMEWAV)
	}

	for _, mime := range []string{"", "audio/wav", "audio/x-wav", "Audio/WAV; codecs=1"} {
		buf, err := Decode(data, mime)
		if err != nil {
			t.Errorf("Decode(%q) failed: %v", mime, err)
			continue
		}
		if buf.Frames() != 100 {
			t.Errorf("Decode(%q) frames = %d, want 100", mime, buf.Frames())
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, ""},
		{"garbage", []byte("definitely not audio data"), ""},
		{"garbage claiming wav", []byte("definitely not audio data"), "audio/wav"},
		{"unsupported type", []byte("ID3\x03\x00"), "audio/mpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.mime)
			if !errors.Is(err, samplerr.ErrDecode) {
				t.Errorf("Expected decode error, got %v", err)
			}
			if samplerr.IsRetryable(err) {
				t.Error("Decode errors must not be retryable")
			}
		})
	}
}

func TestSniffMIME(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("RIFF\x24\x00\x00\x00WAVEfmt "), MIMEWAV},
		{[]byte("RIFF\x24\x00\x00\x00AVI LIST"), MIMEOctetStream},
		{[]byte("RIFF"), MIMEOctetStream},
		{nil, MIMEOctetStream},
	}

	for _, tt := range tests {
		if got := SniffMIME(tt.data); got != tt.want {
			t.Errorf("SniffMIME(%q) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestEncodeWAV_Validation(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := EncodeWAV(f, stereoSine(10), 12); !errors.Is(err, samplerr.ErrValidation) {
		t.Errorf("Expected validation error for 12-bit, got %v", err)
	}
	if err := EncodeWAV(f, analysis.AudioBuffer{SampleRate: 8000, Channels: 1}, 16); !errors.Is(err, samplerr.ErrDecode) {
		t.Errorf("Expected decode error for empty buffer, got %v", err)
	}
}
