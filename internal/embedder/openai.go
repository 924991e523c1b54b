package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// NewOpenAIProvider creates an embedder backed by the OpenAI embeddings API.
// A positive dimension is sent as the requested output size; baseURL overrides
// the API endpoint for compatible servers.
func NewOpenAIProvider(apiKey, model, baseURL string, dimension int, cache *Cache) (Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are handled by retryWithBackoff
		option.WithMaxRetries(0),
		option.WithRequestTimeout(defaultHTTPTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	reported := OpenAIDimension
	if dimension > 0 {
		reported = dimension
	}

	call := func(ctx context.Context, texts []string, model string) ([][]float32, error) {
		params := openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(model),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		}
		if dimension > 0 {
			params.Dimensions = openai.Int(int64(dimension))
		}

		resp, err := client.Embeddings.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
				apiErr.StatusCode != http.StatusTooManyRequests {
				return nil, permanent(fmt.Errorf("failed to generate embeddings: %w", err))
			}
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}

		vectors := make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(vectors) {
				return nil, fmt.Errorf("embedding index %d out of range", data.Index)
			}
			vector := make([]float32, len(data.Embedding))
			for i, v := range data.Embedding {
				vector[i] = float32(v)
			}
			vectors[data.Index] = vector
		}
		return vectors, nil
	}

	return &remoteProvider{
		name:      ProviderOpenAI,
		model:     model,
		dimension: reported,
		cache:     cache,
		retry:     DefaultRetryConfig(),
		call:      call,
	}, nil
}
