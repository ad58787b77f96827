// Package gateway accepts batches of tool calls and answers them with
// results in the same order.
//
// Request envelope:
//
//	{"mcp": true, "calls": [{"server": "memory", "tool": "get_memory", "arguments": {...}}]}
//
// Response:
//
//	{"status": "ok", "results": [{"server": "memory", "tool": "get_memory", "result": ...}]}
//
// Calls of one batch run one after another. A failing call only affects its
// own result; the batch as a whole fails only when the envelope is
// malformed. Server exposes the gateway over HTTP with gin.
package gateway
