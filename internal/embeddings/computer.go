package embeddings

import (
	"context"
	"fmt"
)

const (
	// PromptPrefix is the instruction the model was tuned to expect in front
	// of every retrieval input.
	PromptPrefix = "Represent this text for retrieval: "

	// DefaultMaxTokens is the token budget per input after templating.
	DefaultMaxTokens = 8192
)

// Prompt applies the retrieval template to text.
func Prompt(text string) string {
	return PromptPrefix + text
}

// Computer turns one text into one pooled vector using a Runtime.
type Computer struct {
	rt        Runtime
	maxTokens int
}

// Option configures a Computer.
type Option func(*Computer)

// WithMaxTokens overrides the token budget. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(c *Computer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewComputer creates a Computer backed by rt.
func NewComputer(rt Runtime, opts ...Option) *Computer {
	c := &Computer{rt: rt, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxTokens reports the token budget in effect.
func (c *Computer) MaxTokens() int { return c.maxTokens }

// Embed templates, tokenizes, truncates, runs the model, mean-pools over the
// attention mask and optionally L2-normalizes.
func (c *Computer) Embed(ctx context.Context, text string, normalize bool) (Vector, error) {
	enc, err := c.rt.Tokenize(Prompt(text))
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	enc, err = Truncate(enc, c.maxTokens)
	if err != nil {
		return nil, err
	}

	hidden, err := c.rt.Forward(ctx, enc)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if len(hidden) != enc.Len() {
		return nil, fmt.Errorf("forward returned %d hidden states for %d tokens", len(hidden), enc.Len())
	}

	vec, err := MeanPool(hidden, enc.Mask, c.rt.Dimension())
	if err != nil {
		return nil, err
	}
	if i := nonFinite(vec); i >= 0 {
		return nil, fmt.Errorf("pooled embedding has non-finite value %v at index %d", vec[i], i)
	}
	if normalize {
		L2Normalize(vec)
	}
	return vec, nil
}

// Truncate keeps at most maxTokens positions. Extra tokens are dropped
// silently. A nil mask is treated as all ones.
func Truncate(enc Encoding, maxTokens int) (Encoding, error) {
	if enc.Mask == nil {
		enc.Mask = make([]int64, len(enc.IDs))
		for i := range enc.Mask {
			enc.Mask[i] = 1
		}
	}
	if len(enc.Mask) != len(enc.IDs) {
		return Encoding{}, fmt.Errorf("attention mask has %d entries for %d tokens", len(enc.Mask), len(enc.IDs))
	}
	if maxTokens > 0 && len(enc.IDs) > maxTokens {
		enc.IDs = enc.IDs[:maxTokens]
		enc.Mask = enc.Mask[:maxTokens]
	}
	return enc, nil
}
