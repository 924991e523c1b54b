package embedder

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of embeddings kept when no size is configured
const DefaultCacheSize = 10000

// cacheKey scopes a text digest to the model that produced the vector, so a
// provider or model switch never serves vectors of another space
type cacheKey struct {
	model  string
	digest [sha256.Size]byte
}

func keyFor(model, text string) cacheKey {
	return cacheKey{model: model, digest: sha256.Sum256([]byte(text))}
}

// Cache is an LRU of embeddings shared by the providers of one workspace.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	lru *lru.Cache[cacheKey, *Embedding]
}

// NewCache creates a cache holding up to size embeddings
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[cacheKey, *Embedding](size)
	if err != nil {
		l, _ = lru.New[cacheKey, *Embedding](DefaultCacheSize)
	}
	return &Cache{lru: l}
}

// Lookup returns a private copy of the vector model produced for text
func (c *Cache) Lookup(model, text string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.lru.Get(keyFor(model, text))
	if !ok {
		return nil, false
	}
	return emb.clone(), true
}

// Store records a copy of emb as model's vector for text
func (c *Cache) Store(model, text string, emb *Embedding) {
	if c == nil {
		return
	}
	c.lru.Add(keyFor(model, text), emb.clone())
}

// Len returns the number of cached embeddings
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
