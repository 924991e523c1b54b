package embedder

import (
	"context"
	"fmt"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// callFunc sends one batch (at most MaxBatchSize texts) to a backend and returns
// one vector per text, in order
type callFunc func(ctx context.Context, texts []string, model string) ([][]float32, error)

// remoteProvider holds what every API-backed provider shares: the batch split,
// the cache lookup and the retry loop
type remoteProvider struct {
	name      string
	model     string
	dimension int
	cache     *Cache
	retry     RetryConfig
	call      callFunc
	closeFn   func()
}

func (r *remoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := r.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (r *remoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = r.model
	}

	resp := &BatchEmbeddingResponse{
		Embeddings: make([]*Embedding, len(req.Texts)),
		Provider:   r.name,
		Model:      model,
	}

	// serve what we can from cache, collect the rest
	var missing []int
	for i, text := range req.Texts {
		if emb, ok := r.cache.Lookup(model, text); ok {
			resp.Embeddings[i] = emb
			resp.CacheHits++
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		batch := missing[start:min(start+MaxBatchSize, len(missing))]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = req.Texts[idx]
		}

		vectors, err := retryWithBackoff(ctx, r.retry, func() ([][]float32, error) {
			vectors, err := r.call(ctx, texts, model)
			if err != nil {
				return nil, err
			}
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
			}
			for j, v := range vectors {
				if len(v) == 0 {
					return nil, fmt.Errorf("empty embedding for text %d", j)
				}
			}
			return vectors, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w (%s): %v", ErrProviderFailed, r.name, err)
		}

		for j, idx := range batch {
			emb := &Embedding{
				Vector:    vectors[j],
				Dimension: len(vectors[j]),
				Provider:  r.name,
				Model:     model,
				Hash:      ComputeHash(texts[j]),
			}
			r.cache.Store(model, texts[j], emb)
			resp.Embeddings[idx] = emb
		}
	}

	return resp, nil
}

func (r *remoteProvider) Dimension() int {
	return r.dimension
}

func (r *remoteProvider) Provider() string {
	return r.name
}

func (r *remoteProvider) Model() string {
	return r.model
}

func (r *remoteProvider) Close() error {
	if r.closeFn != nil {
		r.closeFn()
	}
	return nil
}
