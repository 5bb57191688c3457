// Package cache provides a byte-budgeted LRU store for audio buffers.
// Entries expire a fixed time after creation; a background janitor removes
// them and enforces the size budget. Blobs are kept in memory or in a
// zstd-compressed disk directory whose index survives restarts.
package cache
