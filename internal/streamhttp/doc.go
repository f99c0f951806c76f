// Package streamhttp implements the stateless MCP streamable HTTP transport.
// It mounts as a standard net/http handler. Every POST carries exactly one
// JSON-RPC message; the response is either a single application/json body or
// a short-lived text/event-stream that carries progress notifications
// followed by exactly one final response event.
//
// Statelessness
//
// No session is ever created and no Mcp-Session-Id header is ever issued or
// honored. Each request mints a fresh protocol engine from an
// engine.Factory, binds it to a transport for the response side, dispatches
// one message, and tears both down before returning. Two requests can only
// share what the process deliberately shares: the engine factory and the
// metrics recorder.
//
// Lifecycle per request
//
//  1. Annotate the context with a correlation id (logctx).
//  2. Mint the engine; a construction failure produces a generic
//     internal-error response and nothing to clean up.
//  3. Bind the transport: Origin allow-list, Accept negotiation via
//     contenttype, SSE upgrade via go-sse when acceptable.
//  4. Register one cleanup (metrics sample, transport close, engine close)
//     guarded by a sync.Once, hooked to both context.AfterFunc on the
//     request context and a defer.
//  5. Connect the engine to the transport, dispatch, write the final
//     response.
//
// Transport-level rejections (bad origin, unacceptable Accept, oversized
// body, rate limiting) map to HTTP status codes with a JSON-RPC error body
// carrying a null id. Engine-level faults ride HTTP 200 inside a regular
// JSON-RPC error response.
package streamhttp
