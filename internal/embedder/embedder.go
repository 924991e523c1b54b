package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one chunk vector plus the provider and model that made it. Vectors
// of different models are not comparable.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // ComputeHash of the embedded text
}

func (e *Embedding) clone() *Embedding {
	out := *e
	out.Vector = append([]float32(nil), e.Vector...)
	return &out
}

// EmbeddingRequest asks for the vector of one text. Model overrides the
// provider's model when set.
type EmbeddingRequest struct {
	Text  string
	Model string
}

// BatchEmbeddingRequest asks for the vectors of every chunk of a file at once
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds Embeddings[i] for Texts[i] of the request
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string

	// CacheHits counts the texts served without calling the provider
	CacheHits int
}

// Embedder turns chunk text and search queries into vectors of one space
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds many texts, splitting them into provider-sized calls
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the size of the vectors this embedder produces
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// ComputeHash returns the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects empty batches and empty texts; an empty chunk
// would shift every later vector of the file
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// Vector embeds one text and returns only the vector
func Vector(ctx context.Context, e Embedder, text string) ([]float32, error) {
	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}
