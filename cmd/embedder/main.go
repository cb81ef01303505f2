package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"embed-service/internal/app"
	"embed-service/internal/client"
	"embed-service/internal/httputil"
	"embed-service/internal/service"
)

const shutdownTimeout = 30 * time.Second

type openAIRequest struct {
	Input          json.RawMessage `json:"input" validate:"required"`
	Model          string          `json:"model"`
	EncodingFormat string          `json:"encoding_format" validate:"omitempty,oneof=float base64"`
}

type openAIEmbedding struct {
	Object    string `json:"object"`
	Index     int    `json:"index"`
	Embedding any    `json:"embedding"`
}

type openAIUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type openAIResponse struct {
	Object string            `json:"object"`
	Data   []openAIEmbedding `json:"data"`
	Model  string            `json:"model"`
	Usage  openAIUsage       `json:"usage"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	srv := &http.Server{
		Addr:              deps.Config.Addr(),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Log.Info("embedding server listening", "addr", srv.Addr, "device", deps.Device)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		deps.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Queue != nil {
		g.Go(func() error {
			return deps.Queue.Serve(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		deps.Log.Error("embedding server stopped", "err", err)
	}
}

func newRouter(deps app.Deps) *chi.Mux {
	r := httputil.NewRouter(deps.Log, deps.Metrics)

	r.Post("/embed", embedHandler(deps))
	r.Get("/health", healthHandler(deps))
	r.Get("/info", infoHandler(deps))
	r.Post("/v1/embeddings", openAIEmbeddingsHandler(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	return r
}

func embedHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			deps.Service.CountRejected()
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			deps.Service.CountRejected()
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		res, err := deps.Service.Embed(r.Context(), req.Texts, req.Normalize)
		if err != nil {
			failEmbed(deps, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res.Response(deps.Service.Model()))
	}
}

func healthHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, client.Health{
			Status:    "healthy",
			Model:     deps.Config.ModelName,
			Device:    deps.Device,
			BatchSize: deps.Config.MaxBatchSize,
		})
	}
}

func infoHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, client.Info{
			ModelName:          deps.Config.ModelName,
			Device:             deps.Device,
			MaxBatchSize:       deps.Config.MaxBatchSize,
			MaxInputLength:     deps.Config.MaxInputLength,
			EmbeddingDimension: deps.Config.EmbeddingDimension,
			Truncation:         true,
		})
	}
}

func openAIEmbeddingsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			deps.Service.CountRejected()
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			deps.Service.CountRejected()
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		texts, err := parseInput(req.Input)
		if err != nil {
			deps.Service.CountRejected()
			httputil.Fail(deps.Log, w, "input must be a string or an array of strings", err, http.StatusBadRequest)
			return
		}

		res, err := deps.Service.Embed(r.Context(), texts, nil)
		if err != nil {
			failEmbed(deps, w, err)
			return
		}

		data := make([]openAIEmbedding, len(res.Embeddings))
		for i, vec := range res.Embeddings {
			data[i] = openAIEmbedding{Object: "embedding", Index: i, Embedding: vec}
			if req.EncodingFormat == "base64" {
				data[i].Embedding = encodeBase64(vec)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, openAIResponse{
			Object: "list",
			Data:   data,
			Model:  deps.Service.Model(),
		})
	}
}

func failEmbed(deps app.Deps, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if service.IsClientError(err) {
		status = http.StatusBadRequest
	}
	httputil.Fail(deps.Log, w, err.Error(), err, status)
}

// parseInput accepts a single string or an array of strings.
func parseInput(raw json.RawMessage) ([]string, error) {
	if string(raw) == "null" {
		return nil, errors.New("input is null")
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// encodeBase64 packs vec as little-endian float32, the layout OpenAI
// clients decode.
func encodeBase64(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
