// Package inference loads a transformer exported to ONNX together with its
// HuggingFace tokenizer and exposes them as an embeddings.Runtime.
package inference

import (
	"context"
	"fmt"
	"log/slog"

	"embed-service/internal/embeddings"
)

// Options selects and places the model.
type Options struct {
	// ModelName is the HuggingFace repo id, used when ModelDir is empty.
	ModelName string
	// ModelDir is a local directory holding tokenizer.json and ModelFile.
	ModelDir string
	// ModelFile is the ONNX graph path relative to the model root.
	ModelFile string
	// OutputName is the graph output holding per-token hidden states.
	OutputName string
	// Device is "cpu", "cuda", or empty to pick cuda when available.
	Device string
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string
	// HFToken authenticates hub downloads of gated repos.
	HFToken string
	// CacheDir overrides the hub download cache.
	CacheDir string
}

// Runtime is a loaded tokenizer + ONNX session pair.
type Runtime struct {
	tok     *tokenizer
	session *session
	device  string
	log     *slog.Logger
}

var _ embeddings.Runtime = (*Runtime)(nil)

// Load resolves the model files, initializes onnxruntime and opens the
// session. Any failure leaves nothing allocated.
func Load(ctx context.Context, opts Options, log *slog.Logger) (*Runtime, error) {
	files, err := resolveFiles(ctx, opts, log)
	if err != nil {
		return nil, fmt.Errorf("resolve model files: %w", err)
	}

	tok, err := loadTokenizer(files.Tokenizer)
	if err != nil {
		return nil, err
	}

	sess, err := openSession(files.Model, opts)
	if err != nil {
		tok.Close()
		return nil, err
	}

	log.Info("model loaded",
		"model", opts.ModelName,
		"path", files.Model,
		"device", sess.device,
		"inputs", sess.inputNames,
		"dimension", sess.dimension,
	)
	return &Runtime{tok: tok, session: sess, device: sess.device, log: log}, nil
}

// Tokenize encodes text with special tokens and an attention mask.
func (r *Runtime) Tokenize(text string) (embeddings.Encoding, error) {
	return r.tok.Encode(text)
}

// Forward runs the model on one sequence.
func (r *Runtime) Forward(ctx context.Context, enc embeddings.Encoding) ([][]float32, error) {
	return r.session.Run(ctx, enc)
}

// Dimension is the hidden width declared by the graph, or 0 when dynamic.
func (r *Runtime) Dimension() int { return r.session.dimension }

// Device is the execution device actually in use.
func (r *Runtime) Device() string { return r.device }

// Close destroys the session and tokenizer and tears down onnxruntime.
func (r *Runtime) Close() error {
	err := r.session.Close()
	r.tok.Close()
	return err
}
