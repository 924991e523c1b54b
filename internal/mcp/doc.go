// Package mcp implements the Model Context Protocol (MCP) server for codeindex.
//
// The server exposes one workspace to AI coding assistants through six tools:
//   - search_code: Rank indexed chunks against a natural language query
//   - index_file: Index or refresh a single file
//   - remove_file: Drop a file from the index
//   - reindex: Rebuild the index from disk
//   - clear_index: Empty the index
//   - get_status: Report index statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Basic Usage
//
//	codeindex serve --root /path/to/project
//
// serve loads the snapshot, syncs it with the files on disk, starts the watcher and
// then answers tool calls until stdin closes.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "where are session tokens validated",
//	    "limit": 5,
//	    "min_score": 0.2,
//	    "path_glob": "internal/**",
//	    "levels": ["function"],
//	    "search_mode": "vector"
//	  }
//	}
//
//	Response:
//	{
//	  "query": "where are session tokens validated",
//	  "search_mode": "vector",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.83,
//	      "file_path": "internal/auth/token.go",
//	      "start_line": 12,
//	      "end_line": 31,
//	      "level": "function",
//	      "symbol": "ValidateToken",
//	      "content": "func ValidateToken(..."
//	    }
//	  ],
//	  "total_matches": 14,
//	  "cache_hit": false,
//	  "duration_ms": 3
//	}
//
// Chunks that have no embedding score -2 and rank last.
//
// # Tools: index_file, remove_file
//
// Both take a "path" that is absolute or relative to the workspace root. The
// snapshot is saved after every change.
//
// # Tool: reindex
//
//	Response:
//	{
//	  "indexed": true,
//	  "files_indexed": 247,
//	  "files_skipped": 3,
//	  "files_failed": 1,
//	  "chunks_created": 1812,
//	  "duration_ms": 35200,
//	  "errors": ["scripts/broken.py: embedding provider failed"]
//	}
//
// # Error Handling
//
// Tool errors are returned as *MCPError with JSON-RPC style codes:
//
//	-32602  invalid parameters (bad limit, unknown level, path outside the root)
//	-32603  internal error (embedding provider or snapshot failures)
//	-32002  a reindex is already running
//	-32004  empty query
package mcp
