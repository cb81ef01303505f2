package embeddings

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRuntime is a mock implementation of Runtime using testify/mock.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Tokenize(text string) (Encoding, error) {
	args := m.Called(text)
	return args.Get(0).(Encoding), args.Error(1)
}

func (m *MockRuntime) Forward(ctx context.Context, enc Encoding) ([][]float32, error) {
	args := m.Called(ctx, enc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockRuntime) Dimension() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockRuntime) Close() error {
	args := m.Called()
	return args.Error(0)
}
