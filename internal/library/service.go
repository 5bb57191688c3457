// Package library ties decoding, analysis and caching together: it ingests
// encoded samples, caches the raw bytes and their descriptors, and answers
// descriptor lookups from the cache.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/cache"
	"github.com/oran3030/samply/internal/decode"
	"github.com/oran3030/samply/internal/samplerr"
)

const (
	samplePrefix     = "sample/"
	descriptorPrefix = "descriptor/"

	descriptorMIME = "application/json"

	// DefaultMaxTries bounds the attempts made against an unavailable cache.
	DefaultMaxTries = 4
)

// SampleKey is the cache id of a sample's raw bytes.
func SampleKey(id string) string { return samplePrefix + id }

// DescriptorKey is the cache id of a sample's encoded descriptor.
func DescriptorKey(id string) string { return descriptorPrefix + id }

// Result describes one ingested sample.
type Result struct {
	ID               string
	Descriptor       analysis.FeatureDescriptor
	CachedRaw        bool
	CachedDescriptor bool
	Duration         time.Duration
}

// Item is one sample handed to IngestAll.
type Item struct {
	ID       string
	Data     []byte
	MIMEType string
}

// BatchResult pairs an item with its outcome. Err holds per-sample failures
// (decode or validation); infrastructure failures abort the whole batch.
type BatchResult struct {
	Result
	Err error
}

// Service analyses samples and keeps them in a cache store.
type Service struct {
	analyzer *analysis.Analyzer
	store    *cache.Store
	logger   *log.Logger

	newBackOff func() backoff.BackOff
	maxTries   uint

	describe singleflight.Group
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRetry sets the backoff policy used when the cache is unavailable.
// maxTries counts the first attempt; 1 disables retries.
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		s.maxTries = maxTries
		s.newBackOff = newBackOff
	}
}

// New creates a service. A nil store disables caching: samples are analysed
// but nothing is stored and Describe always misses.
func New(analyzer *analysis.Analyzer, store *cache.Store, opts ...Option) *Service {
	s := &Service{
		analyzer: analyzer,
		store:    store,
		logger:   log.Default(),
		maxTries: DefaultMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxTries == 0 {
		s.maxTries = 1
	}
	return s
}

// Ingest decodes and analyses raw, then caches the raw bytes and the
// descriptor. An empty mimeType is sniffed from the data.
//
// A sample too large for the cache is still analysed; CachedRaw reports
// false. Cache outages are retried with backoff and returned once the retry
// budget is spent.
func (s *Service) Ingest(ctx context.Context, id string, raw []byte, mimeType string) (Result, error) {
	start := time.Now()
	res := Result{ID: id}

	if id == "" {
		return res, samplerr.ErrEmptyID
	}
	if mimeType == "" {
		mimeType = decode.SniffMIME(raw)
	}

	desc, err := s.analyze(raw, mimeType)
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", id, err)
	}
	res.Descriptor = desc

	if s.store != nil {
		res.CachedRaw, err = s.put(ctx, SampleKey(id), raw, mimeType)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", id, err)
		}
		res.CachedDescriptor, err = s.putDescriptor(ctx, id, desc)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", id, err)
		}
	}

	res.Duration = time.Since(start)
	s.logger.Debug("Ingested sample",
		"id", id,
		"category", desc.Category,
		"key", desc.Key,
		"tempo", desc.TempoBPM,
		"took", res.Duration)
	return res, nil
}

// IngestAll ingests items with at most parallelism concurrent analyses.
// Results are in input order. Decode and validation failures are reported
// per item; a cache outage or cancelled context stops the batch.
func (s *Service) IngestAll(ctx context.Context, items []Item, parallelism int) ([]BatchResult, error) {
	results := make([]BatchResult, len(items))

	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.Ingest(ctx, item.ID, item.Data, item.MIMEType)
			results[i] = BatchResult{Result: res, Err: err}
			if err != nil && (samplerr.IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Describe returns the descriptor of a cached sample. A cached descriptor is
// returned as is; otherwise the cached raw bytes are analysed again and the
// descriptor is stored. Concurrent calls for the same id share one analysis.
// found is false when the sample is not cached.
func (s *Service) Describe(ctx context.Context, id string) (analysis.FeatureDescriptor, bool, error) {
	if s.store == nil {
		return analysis.FeatureDescriptor{}, false, nil
	}

	v, err, shared := s.describe.Do(id, func() (any, error) {
		return s.describeUncached(ctx, id)
	})
	if err != nil {
		return analysis.FeatureDescriptor{}, false, err
	}
	if shared {
		s.logger.Debug("Shared descriptor lookup", "id", id)
	}

	res := v.(describeResult)
	return res.desc, res.found, nil
}

type describeResult struct {
	desc  analysis.FeatureDescriptor
	found bool
}

func (s *Service) describeUncached(ctx context.Context, id string) (describeResult, error) {
	data, ok, err := s.get(ctx, DescriptorKey(id))
	if err != nil {
		return describeResult{}, err
	}
	if ok {
		var desc analysis.FeatureDescriptor
		err := json.Unmarshal(data, &desc)
		if err == nil {
			return describeResult{desc: desc, found: true}, nil
		}
		s.logger.Warn("Discarding unreadable descriptor", "id", id, "err", err)
	}

	raw, mimeType, ok, err := s.Raw(ctx, id)
	if err != nil || !ok {
		return describeResult{}, err
	}

	desc, err := s.analyze(raw, mimeType)
	if err != nil {
		return describeResult{}, fmt.Errorf("describe %s: %w", id, err)
	}
	if _, err := s.putDescriptor(ctx, id, desc); err != nil {
		return describeResult{}, fmt.Errorf("describe %s: %w", id, err)
	}
	return describeResult{desc: desc, found: true}, nil
}

// Raw returns the cached bytes of a sample and their MIME type.
func (s *Service) Raw(ctx context.Context, id string) ([]byte, string, bool, error) {
	if s.store == nil {
		return nil, "", false, nil
	}

	raw, ok, err := s.get(ctx, SampleKey(id))
	if err != nil || !ok {
		return nil, "", false, err
	}

	var mimeType string
	if meta, ok := s.store.Metadata(SampleKey(id)); ok {
		mimeType = meta.MIMEType
	}
	return raw, mimeType, true, nil
}

// Remove evicts a sample and its descriptor. It reports whether anything was
// removed.
func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	if s.store == nil {
		return false, nil
	}

	removed := false
	for _, key := range []string{SampleKey(id), DescriptorKey(id)} {
		ok, err := retry(ctx, s, func() (bool, error) {
			return s.store.Evict(key)
		})
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// IDs returns the ids of all cached samples, least recently used first.
func (s *Service) IDs() []string {
	if s.store == nil {
		return nil
	}

	var ids []string
	for _, e := range s.store.List() {
		if id, ok := strings.CutPrefix(e.ID, samplePrefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Service) analyze(raw []byte, mimeType string) (analysis.FeatureDescriptor, error) {
	buf, err := decode.Decode(raw, mimeType)
	if err != nil {
		return analysis.FeatureDescriptor{}, err
	}
	return s.analyzer.Analyze(buf)
}

func (s *Service) putDescriptor(ctx context.Context, id string, desc analysis.FeatureDescriptor) (bool, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return false, fmt.Errorf("encode descriptor: %w", err)
	}
	return s.put(ctx, DescriptorKey(id), data, descriptorMIME)
}

// put stores data and reports whether it was cached. Items larger than the
// whole budget are skipped rather than failing the ingest.
func (s *Service) put(ctx context.Context, key string, data []byte, mimeType string) (bool, error) {
	_, err := retry(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.store.Put(key, data, mimeType)
	})
	if errors.Is(err, samplerr.ErrItemTooLarge) {
		s.logger.Warn("Not caching oversized item", "id", key, "size", len(data))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type lookup struct {
	data []byte
	ok   bool
}

func (s *Service) get(ctx context.Context, key string) ([]byte, bool, error) {
	l, err := retry(ctx, s, func() (lookup, error) {
		data, ok, err := s.store.Get(key)
		return lookup{data: data, ok: ok}, err
	})
	return l.data, l.ok, err
}

// retry runs op until it succeeds, fails with a non-retryable error, the
// context ends or the try budget is spent.
func retry[T any](ctx context.Context, s *Service, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !samplerr.IsRetryable(err) || errors.Is(err, samplerr.ErrStoreClosed) {
			return v, backoff.Permanent(err)
		}
		s.logger.Warn("Cache unavailable, retrying", "attempt", attempt, "err", err)
		return v, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
	)
}
