package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/abacusd/abacusd/internal/mcp"
)

// ProgressSender forwards a single progress notification to the client.
// Implementations are transport-specific and injected into the context by
// the transport before the engine dispatches a request.
type ProgressSender interface {
	SendProgress(ctx context.Context, params *mcp.ProgressNotificationParams) error
}

type progressSenderKey struct{}

// WithProgressSender returns a new context carrying the provided sender.
func WithProgressSender(ctx context.Context, s ProgressSender) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, progressSenderKey{}, s)
}

// progressSenderFrom retrieves a ProgressSender from the context if present.
func progressSenderFrom(ctx context.Context) (ProgressSender, bool) {
	if v := ctx.Value(progressSenderKey{}); v != nil {
		if s, ok := v.(ProgressSender); ok && s != nil {
			return s, true
		}
	}
	return nil, false
}

// Reporter emits notifications/progress events correlated to one tool
// invocation. Fractions are clamped to [0, 1] and must not decrease within
// an invocation; regressions are dropped rather than forwarded. A send that
// fails because the response stream is no longer writable is dropped too:
// the invocation keeps running and its remaining output is discarded.
type Reporter struct {
	send  ProgressSender
	token json.RawMessage

	mu   sync.Mutex
	last float64
}

func newReporter(send ProgressSender, token json.RawMessage) *Reporter {
	return &Reporter{send: send, token: token}
}

// Token returns the correlation token attached to every event this reporter
// emits.
func (r *Reporter) Token() json.RawMessage { return r.token }

// Report emits one progress event with the given completion fraction and an
// optional human-readable message.
func (r *Reporter) Report(ctx context.Context, fraction float64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	r.mu.Lock()
	if fraction < r.last {
		r.mu.Unlock()
		return nil
	}
	r.last = fraction
	r.mu.Unlock()

	params := &mcp.ProgressNotificationParams{
		ProgressToken: r.token,
		Progress:      fraction,
		Message:       message,
	}
	// Best-effort: lost progress events are protocol-legal (zero or more may
	// precede the final result), so a dead stream never fails the tool.
	_ = r.send.SendProgress(ctx, params)
	return nil
}

type reporterKey struct{}

func withReporter(ctx context.Context, r *Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// ReporterFrom retrieves the progress reporter for the current tool
// invocation, if the transport supports streaming and the engine installed
// one.
func ReporterFrom(ctx context.Context) (*Reporter, bool) {
	if v := ctx.Value(reporterKey{}); v != nil {
		if r, ok := v.(*Reporter); ok && r != nil {
			return r, true
		}
	}
	return nil, false
}
