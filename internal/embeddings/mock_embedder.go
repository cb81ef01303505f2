package embeddings

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEmbedder is a mock implementation of Embedder using testify/mock.
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string, normalize bool) (Vector, error) {
	args := m.Called(ctx, text, normalize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Vector), args.Error(1)
}
