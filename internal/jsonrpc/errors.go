package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

// The five standard JSON-RPC 2.0 codes plus the server-defined extension
// range used by the MCP surface. The numeric values are an external
// contract: clients key behavior off them, so they must never change.
const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeResourceNotFound indicates a resource, prompt, or other
	// addressable entity does not exist (or, equivalently, is intentionally
	// unavailable). Follows the MCP convention for resource lookups.
	ErrorCodeResourceNotFound ErrorCode = -32002
	// ErrorCodeRateLimited indicates the caller exceeded the server's
	// request rate allowance.
	ErrorCodeRateLimited ErrorCode = -32003
	// ErrorCodePayloadTooLarge indicates the request body exceeded the
	// configured size cap.
	ErrorCodePayloadTooLarge ErrorCode = -32004
)
