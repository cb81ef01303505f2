package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
)

const tokenizerFile = "tokenizer.json"

// modelFiles are absolute paths of the files a Runtime needs.
type modelFiles struct {
	Tokenizer string
	Model     string
}

func resolveFiles(ctx context.Context, opts Options, log *slog.Logger) (modelFiles, error) {
	if opts.ModelFile == "" {
		return modelFiles{}, errors.New("model file is required")
	}
	if opts.ModelDir != "" {
		return localFiles(opts.ModelDir, opts.ModelFile)
	}
	if opts.ModelName == "" {
		return modelFiles{}, errors.New("either a model directory or a model name is required")
	}
	return downloadFiles(ctx, opts, log)
}

func localFiles(dir, modelFile string) (modelFiles, error) {
	files := modelFiles{
		Tokenizer: filepath.Join(dir, tokenizerFile),
		Model:     filepath.Join(dir, filepath.FromSlash(modelFile)),
	}
	for _, p := range []string{files.Tokenizer, files.Model} {
		if _, err := os.Stat(p); err != nil {
			return modelFiles{}, fmt.Errorf("model file %s: %w", p, err)
		}
	}
	return files, nil
}

// downloadFiles fetches the tokenizer and the ONNX graph, including any
// external-data shards stored next to it, into the hub cache.
func downloadFiles(ctx context.Context, opts Options, log *slog.Logger) (modelFiles, error) {
	repo := hub.New(opts.ModelName).WithAuth(opts.HFToken)
	if opts.CacheDir != "" {
		repo = repo.WithCacheDir(opts.CacheDir)
	}

	wanted := []string{tokenizerFile}
	for name, err := range repo.IterFileNames() {
		if err != nil {
			return modelFiles{}, fmt.Errorf("list %s: %w", opts.ModelName, err)
		}
		if isModelShard(name, opts.ModelFile) {
			wanted = append(wanted, name)
		}
	}
	if len(wanted) == 1 {
		return modelFiles{}, fmt.Errorf("%s not found in %s", opts.ModelFile, opts.ModelName)
	}
	if err := ctx.Err(); err != nil {
		return modelFiles{}, err
	}

	log.Info("downloading model files", "model", opts.ModelName, "files", wanted)
	paths, err := repo.DownloadFiles(wanted...)
	if err != nil {
		return modelFiles{}, fmt.Errorf("download %s: %w", opts.ModelName, err)
	}

	files := modelFiles{Tokenizer: paths[0]}
	for i, name := range wanted {
		if name == opts.ModelFile {
			files.Model = paths[i]
		}
	}
	if files.Model == "" {
		return modelFiles{}, fmt.Errorf("%s not found in %s", opts.ModelFile, opts.ModelName)
	}
	return files, nil
}

// isModelShard matches the graph itself and its external data files
// (model.onnx_data, model.onnx.data, ...).
func isModelShard(name, modelFile string) bool {
	return name == modelFile || strings.HasPrefix(name, modelFile+"_data") || strings.HasPrefix(name, modelFile+".data")
}
