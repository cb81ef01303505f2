package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"embed-service/internal/cache"
	"embed-service/internal/embeddings"
	"embed-service/internal/metrics"
)

// Request is the JSON body accepted by the embed endpoint and the NATS
// transport.
type Request struct {
	Texts     []string `json:"texts" validate:"required"`
	Normalize *bool    `json:"normalize,omitempty"`
}

// Response is the JSON body returned for a successful batch.
type Response struct {
	Embeddings       [][]float32 `json:"embeddings"`
	Model            string      `json:"model"`
	Dimension        int         `json:"dimension"`
	BatchSize        int         `json:"batch_size"`
	ProcessingTimeMS float64     `json:"processing_time_ms"`
}

// Result is one embedded batch.
type Result struct {
	Embeddings [][]float32
	Dimension  int
	Elapsed    time.Duration
}

// Response shapes r for the wire.
func (r Result) Response(model string) Response {
	return Response{
		Embeddings:       r.Embeddings,
		Model:            model,
		Dimension:        r.Dimension,
		BatchSize:        len(r.Embeddings),
		ProcessingTimeMS: float64(r.Elapsed.Microseconds()) / 1000,
	}
}

// Options configures a Service.
type Options struct {
	Model        string
	MaxBatchSize int
	// Concurrency bounds how many texts of one batch are embedded at once.
	// 1 processes texts strictly in sequence.
	Concurrency int
	// HonorNormalize makes the per-request normalize flag effective. When
	// false every vector is normalized.
	HonorNormalize bool
	Cache          cache.Cache
	CacheTTL       time.Duration
	Metrics        *metrics.Metrics
	Log            *slog.Logger
}

// Service validates batches and embeds each text through an Embedder.
type Service struct {
	embedder embeddings.Embedder
	opts     Options
}

// New creates a Service. Zero options fall back to a batch limit of 32,
// sequential processing, no cache and a discarding logger.
func New(embedder embeddings.Embedder, opts Options) *Service {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNoOpCache()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	return &Service{embedder: embedder, opts: opts}
}

// CountRejected records a request a transport refused before it reached
// Embed (undecodable or invalid body).
func (s *Service) CountRejected() { s.opts.Metrics.IncError("client") }

// Model is the configured model identifier.
func (s *Service) Model() string { return s.opts.Model }

// MaxBatchSize is the largest accepted batch.
func (s *Service) MaxBatchSize() int { return s.opts.MaxBatchSize }

// ShouldNormalize resolves the effective normalization for a request flag.
// An omitted flag means true.
func (s *Service) ShouldNormalize(flag *bool) bool {
	if !s.opts.HonorNormalize || flag == nil {
		return true
	}
	return *flag
}

// Validate checks batch size limits.
func (s *Service) Validate(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyBatch
	}
	if len(texts) > s.opts.MaxBatchSize {
		return &BatchSizeError{Max: s.opts.MaxBatchSize, Got: len(texts)}
	}
	return nil
}

// Embed embeds every text of a batch. embeddings[i] always corresponds to
// texts[i]. The first failure aborts the batch.
func (s *Service) Embed(ctx context.Context, texts []string, normalize *bool) (Result, error) {
	start := time.Now()
	if err := s.Validate(texts); err != nil {
		s.opts.Metrics.IncError("client")
		return Result{}, err
	}
	norm := s.ShouldNormalize(normalize)

	out := make([][]float32, len(texts))
	var err error
	if s.opts.Concurrency == 1 {
		for i, text := range texts {
			if out[i], err = s.embedOne(ctx, text, norm); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Concurrency)
		for i, text := range texts {
			g.Go(func() error {
				vec, err := s.embedOne(gctx, text, norm)
				if err != nil {
					return err
				}
				out[i] = vec
				return nil
			})
		}
		err = g.Wait()
	}
	if err != nil {
		s.opts.Metrics.IncError("internal")
		return Result{}, err
	}

	elapsed := time.Since(start)
	s.opts.Metrics.ObserveBatch(len(texts), elapsed)
	s.opts.Log.Info("processed texts", "count", len(texts), "duration_ms", elapsed.Milliseconds())
	return Result{
		Embeddings: out,
		Dimension:  len(out[0]),
		Elapsed:    elapsed,
	}, nil
}

func (s *Service) embedOne(ctx context.Context, text string, normalize bool) ([]float32, error) {
	key := cache.Key(s.opts.Model, normalize, text)
	vec, ok, err := s.opts.Cache.Get(ctx, key)
	switch {
	case err != nil:
		s.opts.Metrics.IncCacheLookup("error")
		s.opts.Log.Warn("cache lookup failed", "err", err)
	case ok:
		s.opts.Metrics.IncCacheLookup("hit")
		return vec, nil
	default:
		s.opts.Metrics.IncCacheLookup("miss")
	}

	v, err := s.embedder.Embed(ctx, text, normalize)
	if err != nil {
		return nil, err
	}
	if err := s.opts.Cache.Set(ctx, key, v, s.opts.CacheTTL); err != nil {
		// Log cache write failure but don't fail the request
		s.opts.Log.Warn("failed to cache embedding", "err", err)
	}
	return v, nil
}
