package embeddings

import "context"

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Encoding is a tokenized input: token ids and a parallel attention mask.
type Encoding struct {
	IDs  []int64
	Mask []int64
}

// Len is the number of token positions.
func (e Encoding) Len() int { return len(e.IDs) }

// Runtime is a loaded model: a tokenizer bound to it plus an inference-only
// forward pass. Implementations are shared across requests and must be safe
// for concurrent use.
type Runtime interface {
	// Tokenize converts text into token ids and an attention mask.
	Tokenize(text string) (Encoding, error)

	// Forward returns one hidden-state row per token position.
	Forward(ctx context.Context, enc Encoding) ([][]float32, error)

	// Dimension is the hidden-state width of the model.
	Dimension() int

	// Close releases the model.
	Close() error
}

// Embedder defines the embedding interface.
type Embedder interface {
	Embed(ctx context.Context, text string, normalize bool) (Vector, error)
}
