package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"embed-service/internal/cache"
	"embed-service/internal/embeddings"
	"embed-service/internal/metrics"
)

func boolPtr(b bool) *bool { return &b }

func TestValidate(t *testing.T) {
	svc := New(new(embeddings.MockEmbedder), Options{MaxBatchSize: 2})

	assert.ErrorIs(t, svc.Validate(nil), ErrEmptyBatch)
	assert.ErrorIs(t, svc.Validate([]string{}), ErrEmptyBatch)
	assert.NoError(t, svc.Validate([]string{"a", "b"}))

	err := svc.Validate([]string{"a", "b", "c"})
	var sizeErr *BatchSizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 2, sizeErr.Max)
	assert.Equal(t, 3, sizeErr.Got)
	assert.Equal(t, "Batch size too large. Max: 2, Got: 3", err.Error())
	assert.True(t, IsClientError(err))
	assert.True(t, IsClientError(ErrEmptyBatch))
	assert.False(t, IsClientError(errors.New("boom")))
}

func TestDefaults(t *testing.T) {
	svc := New(new(embeddings.MockEmbedder), Options{Model: "m"})
	assert.Equal(t, 32, svc.MaxBatchSize())
	assert.Equal(t, "m", svc.Model())
}

func TestShouldNormalize(t *testing.T) {
	fixed := New(new(embeddings.MockEmbedder), Options{})
	assert.True(t, fixed.ShouldNormalize(nil))
	assert.True(t, fixed.ShouldNormalize(boolPtr(true)))
	assert.True(t, fixed.ShouldNormalize(boolPtr(false)), "flag is ignored unless honored")

	honored := New(new(embeddings.MockEmbedder), Options{HonorNormalize: true})
	assert.True(t, honored.ShouldNormalize(nil))
	assert.False(t, honored.ShouldNormalize(boolPtr(false)))
}

func TestEmbedPreservesOrder(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	e.On("Embed", mock.Anything, "a", true).Return(embeddings.Vector{1, 0}, nil).Once()
	e.On("Embed", mock.Anything, "b", true).Return(embeddings.Vector{0, 1}, nil).Once()
	e.On("Embed", mock.Anything, "c", true).Return(embeddings.Vector{0.6, 0.8}, nil).Once()

	svc := New(e, Options{Model: "m"})
	res, err := svc.Embed(context.Background(), []string{"a", "b", "c"}, boolPtr(false))
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}}, res.Embeddings)
	assert.Equal(t, 2, res.Dimension)

	resp := res.Response("m")
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, 3, resp.BatchSize)
	assert.Equal(t, 2, resp.Dimension)
	assert.GreaterOrEqual(t, resp.ProcessingTimeMS, 0.0)

	e.AssertExpectations(t)
}

func TestEmbedHonorsFlagWhenConfigured(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	e.On("Embed", mock.Anything, "a", false).Return(embeddings.Vector{3, 4}, nil).Once()

	svc := New(e, Options{HonorNormalize: true})
	res, err := svc.Embed(context.Background(), []string{"a"}, boolPtr(false))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 4}}, res.Embeddings)
	e.AssertExpectations(t)
}

func TestEmbedStopsOnFirstFailure(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	e.On("Embed", mock.Anything, "a", true).Return(embeddings.Vector{1}, nil).Once()
	e.On("Embed", mock.Anything, "b", true).Return(nil, errors.New("forward: out of memory")).Once()

	m := metrics.New()
	svc := New(e, Options{Metrics: m})
	_, err := svc.Embed(context.Background(), []string{"a", "b", "c"}, nil)
	assert.EqualError(t, err, "forward: out of memory")
	assert.False(t, IsClientError(err))

	// "c" is never attempted
	e.AssertNotCalled(t, "Embed", mock.Anything, "c", true)
	e.AssertExpectations(t)
}

func TestEmbedRejectsBadBatches(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	svc := New(e, Options{MaxBatchSize: 1})

	_, err := svc.Embed(context.Background(), []string{}, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = svc.Embed(context.Background(), []string{"a", "b"}, nil)
	assert.EqualError(t, err, "Batch size too large. Max: 1, Got: 2")

	e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything, mock.Anything)
}

// slowEmbedder returns a vector derived from the text after a delay that
// shrinks with the index, so parallel completion order is reversed.
type slowEmbedder struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowEmbedder) Embed(_ context.Context, text string, _ bool) (embeddings.Vector, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	var idx int
	fmt.Sscanf(text, "t%d", &idx)
	time.Sleep(time.Duration(10-idx) * time.Millisecond)
	return embeddings.Vector{float32(idx)}, nil
}

func TestEmbedConcurrentKeepsOrder(t *testing.T) {
	e := &slowEmbedder{}
	svc := New(e, Options{Concurrency: 3})

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	res, err := svc.Embed(context.Background(), texts, nil)
	require.NoError(t, err)
	for i, vec := range res.Embeddings {
		assert.Equal(t, []float32{float32(i)}, vec)
	}
	assert.LessOrEqual(t, e.peak.Load(), int32(3))
}

func TestEmbedUsesCache(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	c := new(cache.MockCache)

	hitKey := cache.Key("m", true, "hit")
	missKey := cache.Key("m", true, "miss")
	c.On("Get", mock.Anything, hitKey).Return([]float32{0, 1}, true, nil).Once()
	c.On("Get", mock.Anything, missKey).Return(nil, false, nil).Once()
	c.On("Set", mock.Anything, missKey, []float32{1, 0}, time.Minute).Return(errors.New("redis down")).Once()
	e.On("Embed", mock.Anything, "miss", true).Return(embeddings.Vector{1, 0}, nil).Once()

	svc := New(e, Options{Model: "m", Cache: c, CacheTTL: time.Minute})
	res, err := svc.Embed(context.Background(), []string{"hit", "miss"}, nil)
	require.NoError(t, err, "cache write failures must not fail the request")
	assert.Equal(t, [][]float32{{0, 1}, {1, 0}}, res.Embeddings)

	e.AssertNotCalled(t, "Embed", mock.Anything, "hit", mock.Anything)
	e.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestEmbedIgnoresCacheReadErrors(t *testing.T) {
	e := new(embeddings.MockEmbedder)
	c := new(cache.MockCache)
	c.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("timeout")).Once()
	c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	e.On("Embed", mock.Anything, "x", true).Return(embeddings.Vector{1}, nil).Once()

	svc := New(e, Options{Cache: c})
	_, err := svc.Embed(context.Background(), []string{"x"}, nil)
	require.NoError(t, err)
	e.AssertExpectations(t)
}
