package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/internal/workspace"
	"github.com/dshills/codeindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// maxReportedErrors bounds the per-file errors echoed by reindex
const maxReportedErrors = 5

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", s.ws.Config.Search.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := getStringDefault(args, "search_mode", string(searcher.SearchModeVector))
	if mode != string(searcher.SearchModeVector) && mode != string(searcher.SearchModeKeyword) && mode != string(searcher.SearchModeHybrid) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"vector", "keyword", "hybrid"},
		})
	}

	levels, err := parseLevels(args["levels"])
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid levels", map[string]interface{}{
			"param":  "levels",
			"reason": err.Error(),
		})
	}

	resp, err := s.ws.Searcher.Search(ctx, searcher.Request{
		Query:    query,
		Limit:    limit,
		Mode:     searcher.SearchMode(mode),
		MinScore: getFloatDefault(args, "min_score", 0),
		Levels:   levels,
		PathGlob: getStringDefault(args, "path_glob", ""),
	})
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	case errors.Is(err, searcher.ErrInvalidRequest):
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search request", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		result := map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"file_path":  r.Chunk.FilePath,
			"start_line": r.Chunk.StartLine,
			"end_line":   r.Chunk.EndLine,
			"level":      r.Chunk.Level.String(),
			"content":    r.Chunk.Content,
		}
		if r.Chunk.SymbolName != "" {
			result["symbol"] = r.Chunk.SymbolName
		}
		if r.Chunk.ParentSymbol != "" {
			result["parent"] = r.Chunk.ParentSymbol
		}
		results[i] = result
	}

	response := map[string]interface{}{
		"query":         query,
		"search_mode":   string(resp.Mode),
		"results":       results,
		"total_matches": resp.TotalMatches,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexFile handles the index_file tool invocation
func (s *Server) handleIndexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}

	rel, changed, err := s.ws.IndexFile(ctx, path)
	if err != nil {
		return nil, pathError("indexing failed", err)
	}

	response := map[string]interface{}{
		"path":    rel,
		"indexed": changed,
		"chunks":  len(s.ws.Indexer.FileChunks(rel)),
	}
	if !changed {
		response["reason"] = "content unchanged"
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRemoveFile handles the remove_file tool invocation
func (s *Server) handleRemoveFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}

	rel, removed, err := s.ws.RemoveFile(ctx, path)
	if err != nil {
		return nil, pathError("remove failed", err)
	}

	response := map[string]interface{}{
		"path":    rel,
		"removed": removed,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReindex handles the reindex tool invocation
func (s *Server) handleReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.ws.Reindex(ctx)
	if errors.Is(err, indexer.ErrIndexBusy) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":        true,
		"files_indexed":  stats.FilesIndexed,
		"files_skipped":  stats.FilesSkipped,
		"files_failed":   stats.FilesFailed,
		"chunks_created": stats.ChunksCreated,
		"duration_ms":    stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := s.ws.Clear(ctx)
	if errors.Is(err, indexer.ErrIndexBusy) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"cleared": true})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.ws.Indexer.Stats()

	response := map[string]interface{}{
		"indexed": status.Files > 0,
		"root":    s.ws.Config.Root,
		"statistics": map[string]interface{}{
			"files_count":      status.Files,
			"chunks_count":     status.Chunks,
			"embeddings_count": status.Embedded,
			"generation":       status.Generation,
		},
		"embedder": map[string]interface{}{
			"provider":  status.Provider,
			"model":     status.Model,
			"dimension": status.Dimension,
		},
		"snapshot":        status.Location,
		"busy":            status.Busy,
		"scheduler_state": s.ws.SchedulerState().String(),
		"cached_queries":  s.ws.Searcher.CacheLen(),
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requirePath extracts the mandatory path argument
func requirePath(request mcp.CallToolRequest) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	return path, nil
}

// pathError maps file operation failures to invalid params or internal errors
func pathError(message string, err error) error {
	switch {
	case errors.Is(err, workspace.ErrInvalidPath),
		errors.Is(err, workspace.ErrExcluded),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, filter.ErrBinary),
		errors.Is(err, filter.ErrTooLarge):
		return newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// parseLevels converts level names to chunk levels
func parseLevels(raw interface{}) ([]types.ChunkLevel, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("levels must be an array of strings")
	}
	levels := make([]types.ChunkLevel, 0, len(items))
	for _, item := range items {
		name, _ := item.(string)
		switch strings.ToLower(name) {
		case "file":
			levels = append(levels, types.LevelFile)
		case "class":
			levels = append(levels, types.LevelClass)
		case "function":
			levels = append(levels, types.LevelFunction)
		case "block":
			levels = append(levels, types.LevelBlock)
		default:
			return nil, fmt.Errorf("unknown level %v", item)
		}
	}
	return levels, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
