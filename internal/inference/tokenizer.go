package inference

import (
	"fmt"

	"github.com/daulet/tokenizers"

	"embed-service/internal/embeddings"
)

type tokenizer struct {
	tk *tokenizers.Tokenizer
}

func loadTokenizer(path string) (*tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &tokenizer{tk: tk}, nil
}

// Encode returns ids and the attention mask. Truncation is left to the
// caller so the budget is applied in one place.
func (t *tokenizer) Encode(text string) (embeddings.Encoding, error) {
	res := t.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	return toEncoding(res.IDs, res.AttentionMask)
}

func (t *tokenizer) Close() {
	t.tk.Close()
}

func toEncoding(ids, mask []uint32) (embeddings.Encoding, error) {
	if mask != nil && len(mask) != len(ids) {
		return embeddings.Encoding{}, fmt.Errorf("tokenizer returned %d mask entries for %d ids", len(mask), len(ids))
	}
	enc := embeddings.Encoding{
		IDs:  make([]int64, len(ids)),
		Mask: make([]int64, len(ids)),
	}
	for i, id := range ids {
		enc.IDs[i] = int64(id)
		if mask == nil {
			enc.Mask[i] = 1
		} else {
			enc.Mask[i] = int64(mask[i])
		}
	}
	return enc, nil
}
