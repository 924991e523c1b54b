package types

// UnembeddedScore ranks chunks that carry no vector below any cosine similarity
const UnembeddedScore = -2.0

// SearchResult represents a single ranked chunk
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`

	// Rank is the 1-based position in the result set
	Rank int `json:"rank,omitempty"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Chunk.ID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score != UnembeddedScore && (sr.Score < -1 || sr.Score > 1) {
		return ErrInvalidRelevanceScore
	}

	if sr.Chunk.FilePath == "" {
		return ErrMissingFileInfo
	}

	if sr.Chunk.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
