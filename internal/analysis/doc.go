// Package analysis extracts musical descriptors from decoded audio.
// It includes a peak/interval tempo estimator, an FFT based key and centroid
// estimator, and block aggregates (loudness, RMS, zero-crossing rate and a
// fixed-length waveform thumbnail). Everything here is a pure function of its
// inputs; nothing performs I/O or keeps shared state.
package analysis
