// Package decode turns encoded audio files into analysis buffers and back.
package decode

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/samplerr"
)

// MIME types understood by Decode.
const (
	MIMEWAV         = "audio/wav"
	MIMEOctetStream = "application/octet-stream"
)

var wavAliases = map[string]bool{
	"audio/wav":      true,
	"audio/x-wav":    true,
	"audio/wave":     true,
	"audio/vnd.wave": true,
	"audio/x-pn-wav": true,
}

// SniffMIME returns MIMEWAV for a RIFF/WAVE header and MIMEOctetStream
// otherwise.
func SniffMIME(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return MIMEWAV
	}
	return MIMEOctetStream
}

// Decode decodes data according to mimeType. An empty mimeType is sniffed.
func Decode(data []byte, mimeType string) (analysis.AudioBuffer, error) {
	if len(data) == 0 {
		return analysis.AudioBuffer{}, samplerr.ErrEmptyBuffer
	}
	if mimeType == "" {
		mimeType = SniffMIME(data)
	}

	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	if !wavAliases[strings.TrimSpace(base)] {
		return analysis.AudioBuffer{}, fmt.Errorf("%w: %s", samplerr.ErrUnsupportedFormat, mimeType)
	}
	return DecodeWAV(bytes.NewReader(data))
}

// DecodeWAV reads a whole PCM WAV stream. Samples come back interleaved and
// scaled to [-1, 1].
func DecodeWAV(r io.ReadSeeker) (analysis.AudioBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return analysis.AudioBuffer{}, fmt.Errorf("%w: not a RIFF/WAVE stream", samplerr.ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return analysis.AudioBuffer{}, fmt.Errorf("%w: %v", samplerr.ErrDecode, err)
	}
	if buf == nil || buf.Format == nil {
		return analysis.AudioBuffer{}, fmt.Errorf("%w: missing format chunk", samplerr.ErrUnsupportedFormat)
	}

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v)
	}

	out := analysis.AudioBuffer{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	if err := out.Validate(); err != nil {
		return analysis.AudioBuffer{}, err
	}
	return out, nil
}

// EncodeWAV writes buf as integer PCM with the given bit depth. Samples are
// clamped to [-1, 1].
func EncodeWAV(w io.WriteSeeker, buf analysis.AudioBuffer, bitDepth int) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", samplerr.ErrInvalidConfig, bitDepth)
	}

	data := make([]float32, len(buf.Samples))
	for i, x := range buf.Samples {
		switch {
		case x > 1:
			x = 1
		case x < -1:
			x = -1
		}
		data[i] = float32(x)
	}

	enc := wav.NewEncoder(w, buf.SampleRate, bitDepth, buf.Channels, 1)
	pcm := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  buf.SampleRate,
			NumChannels: buf.Channels,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}
