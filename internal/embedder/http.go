package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultJinaURL is the Jina AI embeddings endpoint
	DefaultJinaURL = "https://api.jina.ai/v1/embeddings"

	// DefaultOllamaURL is the local Ollama server
	DefaultOllamaURL = "http://localhost:11434"

	defaultHTTPTimeout = 30 * time.Second
)

// postJSON sends body as JSON and decodes a 200 response into out. 4xx responses
// other than 429 are permanent failures.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return permanent(apiErr)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewJinaProvider creates a Jina AI embedder. An empty url selects DefaultJinaURL.
func NewJinaProvider(apiKey, model, url string, cache *Cache) (Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	if url == "" {
		url = DefaultJinaURL
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	call := func(ctx context.Context, texts []string, model string) ([][]float32, error) {
		var apiResp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
		}
		body := map[string]interface{}{"input": texts, "model": model}
		if err := postJSON(ctx, client, url, headers, body, &apiResp); err != nil {
			return nil, err
		}

		vectors := make([][]float32, len(texts))
		for _, d := range apiResp.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		return vectors, nil
	}

	return &remoteProvider{
		name:      ProviderJina,
		model:     model,
		dimension: JinaDimension,
		cache:     cache,
		retry:     DefaultRetryConfig(),
		call:      call,
		closeFn:   client.CloseIdleConnections,
	}, nil
}

// NewOllamaProvider creates an embedder backed by an Ollama server's /api/embed
// endpoint. An empty baseURL selects DefaultOllamaURL.
func NewOllamaProvider(baseURL, model string, dimension int, cache *Cache) (Embedder, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = OllamaDimension
	}

	// local models can be slow on the first request while they load
	client := &http.Client{Timeout: 120 * time.Second}
	endpoint := strings.TrimRight(baseURL, "/") + "/api/embed"

	call := func(ctx context.Context, texts []string, model string) ([][]float32, error) {
		var result struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		body := struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}{Model: model, Input: texts}
		if err := postJSON(ctx, client, endpoint, nil, body, &result); err != nil {
			return nil, err
		}
		return result.Embeddings, nil
	}

	return &remoteProvider{
		name:      ProviderOllama,
		model:     model,
		dimension: dimension,
		cache:     cache,
		retry:     DefaultRetryConfig(),
		call:      call,
		closeFn:   client.CloseIdleConnections,
	}, nil
}
