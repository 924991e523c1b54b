// Package embedder generates vector embeddings for code chunks.
//
// Four providers implement the Embedder interface:
//   - openai: OpenAI embeddings API through github.com/openai/openai-go
//   - jina: Jina AI embeddings API
//   - ollama: a local Ollama server (/api/embed)
//   - local: offline feature hashing of identifier tokens, deterministic
//
// Remote providers share one implementation: requests are split into batches of at
// most MaxBatchSize texts, served from an LRU cache keyed by model and content
// hash where possible, and retried with exponential backoff. Client errors (4xx
// other than 429) are not retried.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk1.Content, chunk2.Content},
//	})
//	for i, e := range resp.Embeddings {
//	    // e belongs to Texts[i]
//	}
//
// # Provider Selection
//
// With Config.Provider empty the provider is detected:
//
//  1. OPENAI_API_KEY set → openai
//  2. JINA_API_KEY set → jina
//  3. otherwise → local (offline)
//
// No timeouts beyond the HTTP client's are imposed on embedding calls.
package embedder
