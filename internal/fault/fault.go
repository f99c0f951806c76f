// Package fault defines the server's error taxonomy: a small set of fault
// categories raised by tool, resource, and prompt logic, plus the pure
// translation into protocol-visible JSON-RPC error objects. Predictable
// (client-fixable) faults keep their message; everything else collapses to
// a generic internal error so no internal detail can leak to a client.
package fault

import (
	"errors"
	"fmt"

	"github.com/abacusd/abacusd/internal/jsonrpc"
)

// Category classifies a fault. The zero value is Internal so that an
// unclassified fault can never accidentally pass through the translator
// with its message intact.
type Category int

const (
	// CategoryInternal is an unexpected fault. Full detail goes to the log
	// sink only; clients receive a fixed generic message.
	CategoryInternal Category = iota
	// CategoryInvalidParams is a client input fault: semantically invalid
	// arguments, such as a disallowed divisor or an out-of-range operand.
	CategoryInvalidParams
	// CategoryNotFound is a lookup fault for resources, prompts, or other
	// addressable entities. Intentionally-unavailable entities are
	// indistinguishable from ones that never existed.
	CategoryNotFound
	// CategoryMethodNotFound is an unknown protocol method.
	CategoryMethodNotFound
	// CategoryRateLimited is a request rejected by the rate allowance.
	CategoryRateLimited
	// CategoryTooLarge is a request body over the configured size cap.
	CategoryTooLarge
	// CategoryParse is an undecodable request body.
	CategoryParse
	// CategoryInvalidRequest is a structurally invalid protocol envelope.
	CategoryInvalidRequest
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidParams:
		return "invalid_params"
	case CategoryNotFound:
		return "not_found"
	case CategoryMethodNotFound:
		return "method_not_found"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryTooLarge:
		return "payload_too_large"
	case CategoryParse:
		return "parse_error"
	case CategoryInvalidRequest:
		return "invalid_request"
	default:
		return "internal"
	}
}

// Code returns the stable protocol error code for a category.
func Code(c Category) jsonrpc.ErrorCode {
	switch c {
	case CategoryInvalidParams:
		return jsonrpc.ErrorCodeInvalidParams
	case CategoryNotFound:
		return jsonrpc.ErrorCodeResourceNotFound
	case CategoryMethodNotFound:
		return jsonrpc.ErrorCodeMethodNotFound
	case CategoryRateLimited:
		return jsonrpc.ErrorCodeRateLimited
	case CategoryTooLarge:
		return jsonrpc.ErrorCodePayloadTooLarge
	case CategoryParse:
		return jsonrpc.ErrorCodeParseError
	case CategoryInvalidRequest:
		return jsonrpc.ErrorCodeInvalidRequest
	default:
		return jsonrpc.ErrorCodeInternalError
	}
}

// Fault is a categorized error. The Message is what a client may see (for
// predictable categories); the wrapped cause is for logs only.
type Fault struct {
	Category Category
	Message  string
	cause    error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Category, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.cause
}

// Invalidf raises a client input fault.
func Invalidf(format string, args ...any) *Fault {
	return &Fault{Category: CategoryInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf raises a lookup fault.
func NotFoundf(format string, args ...any) *Fault {
	return &Fault{Category: CategoryNotFound, Message: fmt.Sprintf(format, args...)}
}

// MethodNotFoundf raises an unknown-method fault.
func MethodNotFoundf(format string, args ...any) *Fault {
	return &Fault{Category: CategoryMethodNotFound, Message: fmt.Sprintf(format, args...)}
}

// RateLimitedf raises a rate-allowance fault.
func RateLimitedf(format string, args ...any) *Fault {
	return &Fault{Category: CategoryRateLimited, Message: fmt.Sprintf(format, args...)}
}

// TooLargef raises a body-size fault.
func TooLargef(format string, args ...any) *Fault {
	return &Fault{Category: CategoryTooLarge, Message: fmt.Sprintf(format, args...)}
}

// Parsef raises a body-decode fault.
func Parsef(format string, args ...any) *Fault {
	return &Fault{Category: CategoryParse, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequestf raises an envelope-structure fault.
func InvalidRequestf(format string, args ...any) *Fault {
	return &Fault{Category: CategoryInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected error. The message clients receive is always
// the generic one; err is preserved for the log sink.
func Internal(err error) *Fault {
	return &Fault{Category: CategoryInternal, Message: "internal error", cause: err}
}

// internalMessage is the only text an internal fault ever shows a client.
const internalMessage = "internal server error"

// Translate is the pure fault-to-protocol mapping. A categorized,
// predictable fault passes its message through with its stable code; an
// internal fault, or any error that is not a *Fault at all, yields the
// generic internal error with no detail attached.
func Translate(err error) *jsonrpc.Error {
	var f *Fault
	if errors.As(err, &f) && f.Category != CategoryInternal {
		return &jsonrpc.Error{
			Code:    Code(f.Category),
			Message: f.Message,
		}
	}
	return &jsonrpc.Error{
		Code:    jsonrpc.ErrorCodeInternalError,
		Message: internalMessage,
	}
}

// Is reports whether err carries the given fault category.
func Is(err error, c Category) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Category == c
	}
	return false
}
