package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex/internal/searcher"
)

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed workspace with a natural language or keyword query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop results scoring below this value; 0 keeps everything",
					"minimum":     -1.0,
					"maximum":     1.0,
				},
				"path_glob": map[string]interface{}{
					"type":        "string",
					"description": "Gitignore-style pattern for file paths (e.g., 'internal/**', '*.ts')",
				},
				"levels": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to chunk levels",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"file", "class", "function", "block"},
					},
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: vector (semantic), keyword (BM25) or hybrid (vector reranked with keyword)",
					"enum":        []string{"vector", "keyword", "hybrid"},
					"default":     "vector",
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexFileTool returns the tool definition for index_file
func indexFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_file",
		Description: "Index or refresh one file. Unchanged content is skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path, absolute or relative to the workspace root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// removeFileTool returns the tool definition for remove_file
func removeFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "remove_file",
		Description: "Remove one file and all of its chunks from the index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path, absolute or relative to the workspace root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// reindexTool returns the tool definition for reindex
func reindexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex",
		Description: "Rebuild the whole index from the files on disk",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Drop every chunk and file hash from the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, the embedding provider and the watch state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
