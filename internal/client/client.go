// Package client talks to a running embedding service. It rides on the
// openai-go transport so the native endpoints and the OpenAI-compatible
// surface share one HTTP stack.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"embed-service/internal/service"
)

// Health is the body of GET /health.
type Health struct {
	Status    string `json:"status"`
	Model     string `json:"model"`
	Device    string `json:"device"`
	BatchSize int    `json:"batch_size"`
}

// Info is the body of GET /info.
type Info struct {
	ModelName          string `json:"model_name"`
	Device             string `json:"device"`
	MaxBatchSize       int    `json:"max_batch_size"`
	MaxInputLength     int    `json:"max_input_length"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Truncation         bool   `json:"truncation"`
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embed service returned %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Client is a thin wrapper around an openai.Client pointed at the service.
type Client struct {
	baseURL string
	api     openai.Client
}

// New creates a client for the service at baseURL (for example
// http://localhost:8001). Extra options are passed to openai-go.
func New(baseURL string, opts ...option.RequestOption) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	all := append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{baseURL: baseURL, api: openai.NewClient(all...)}
}

// WithAPIKey sets a bearer token, for deployments behind an auth proxy.
func WithAPIKey(key string) option.RequestOption {
	return option.WithAPIKey(key)
}

// Embed calls POST /embed. A nil normalize omits the flag.
func (c *Client) Embed(ctx context.Context, texts []string, normalize *bool) (service.Response, error) {
	body, err := json.Marshal(service.Request{Texts: texts, Normalize: normalize})
	if err != nil {
		return service.Response{}, err
	}
	var resp service.Response
	if err := c.api.Post(ctx, "embed", body, &resp); err != nil {
		return service.Response{}, wrap(err)
	}
	return resp, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.api.Get(ctx, "health", nil, &h); err != nil {
		return Health{}, wrap(err)
	}
	return h, nil
}

// Info calls GET /info.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := c.api.Get(ctx, "info", nil, &info); err != nil {
		return Info{}, wrap(err)
	}
	return info, nil
}

// OpenAIEmbed uses the OpenAI-compatible /v1/embeddings endpoint and returns
// vectors in input order.
func (c *Client) OpenAIEmbed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}, option.WithBaseURL(c.baseURL+"v1/"))
	if err != nil {
		return nil, wrap(err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		// Convert []float64 to []float32
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}

// IsClientError reports whether err is a 4xx answer from the service.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError
}
