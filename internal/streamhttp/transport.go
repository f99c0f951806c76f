package streamhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/tmaxmax/go-sse"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/jsonrpc"
	"github.com/abacusd/abacusd/internal/mcp"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// httpError pairs a transport-level rejection with the HTTP status it rides
// on. The wrapped fault supplies the JSON-RPC error body.
type httpError struct {
	status int
	cause  error
}

func (e *httpError) Error() string { return e.cause.Error() }
func (e *httpError) Unwrap() error { return e.cause }

type responseMode int

const (
	modeJSON responseMode = iota
	modeSSE
)

func (m responseMode) String() string {
	if m == modeSSE {
		return "sse"
	}
	return "json"
}

// Transport owns the response side of a single HTTP exchange. It is built
// by bindTransport after content negotiation, serves exactly one engine,
// and accepts at most one final response. All writes are serialized and
// checked against the request context; a write after close or cancellation
// is a silent no-op that surfaces the context error to the caller.
type Transport struct {
	mode responseMode

	w   http.ResponseWriter
	req *http.Request

	// sess is the upgraded event stream; nil in JSON mode. go-sse commits
	// the response headers on the first event, which keeps early transport
	// rejections free to pick their own status code.
	sess *sse.Session

	bound atomic.Bool

	mu          sync.Mutex
	ctx         context.Context
	headersSent bool
	finalSent   bool
	closed      bool
}

type bindOptions struct {
	allowedOrigins []string
	requireStream  bool
}

// bindTransport validates the request's cross-origin posture, negotiates
// the response content type, and constructs the transport. Event streams
// are preferred whenever the client accepts them; requireStream refuses
// clients that cannot take one. Failures return an *httpError carrying the
// HTTP status the rejection should use.
func bindTransport(w http.ResponseWriter, r *http.Request, opts bindOptions) (*Transport, error) {
	if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(origin, opts.allowedOrigins) {
		return nil, &httpError{
			status: http.StatusForbidden,
			cause:  fault.InvalidRequestf("origin %q is not allowed", origin),
		}
	}

	available := []contenttype.MediaType{eventStreamMediaType, jsonMediaType}
	if opts.requireStream {
		available = available[:1]
	}
	accepted, _, err := contenttype.GetAcceptableMediaType(r, available)
	if err != nil {
		return nil, &httpError{
			status: http.StatusNotAcceptable,
			cause:  fault.InvalidRequestf("accept header offers no supported content type"),
		}
	}

	t := &Transport{mode: modeJSON, w: w, req: r, ctx: r.Context()}
	if accepted.Matches(eventStreamMediaType) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			return nil, &httpError{
				status: http.StatusInternalServerError,
				cause:  fault.Internal(fmt.Errorf("upgrade to event stream: %w", err)),
			}
		}
		t.mode = modeSSE
		t.sess = sess
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
	}

	return t, nil
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Connect binds the per-request engine to this transport and moves the
// engine into its connected state. A transport serves exactly one engine;
// a second bind is refused.
func (t *Transport) Connect(ctx context.Context, eng *engine.Engine) error {
	if !t.bound.CompareAndSwap(false, true) {
		return fmt.Errorf("transport: engine already connected")
	}
	return eng.Connect(ctx)
}

// Streaming reports whether the negotiated response mode is an event
// stream. Progress notifications are only possible when it is.
func (t *Transport) Streaming() bool {
	return t.mode == modeSSE
}

// HeadersSent reports whether the response status has been committed.
func (t *Transport) HeadersSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headersSent
}

// SendProgress forwards one notifications/progress frame to the client. It
// implements the engine's progress sender. Frames are refused once the
// final response has been written: nothing may follow it on the stream.
func (t *Transport) SendProgress(ctx context.Context, params *mcp.ProgressNotificationParams) error {
	if t.mode != modeSSE {
		return fmt.Errorf("transport: progress requires a streaming response")
	}

	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal progress params: %w", err)
	}
	notif := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ProgressNotificationMethod),
		Params:         b,
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal progress notification: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalSent {
		return fmt.Errorf("transport: response already written")
	}
	return t.sendLocked(messageEvent(payload))
}

// WriteResponse writes the single final response for this exchange. In JSON
// mode it is the entire response body with status 200; in SSE mode it is
// the last event on the stream.
func (t *Transport) WriteResponse(ctx context.Context, res *jsonrpc.Response) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalSent {
		return fmt.Errorf("transport: response already written")
	}

	if t.mode == modeSSE {
		if err := t.sendLocked(messageEvent(payload)); err != nil {
			return err
		}
		t.finalSent = true
		return nil
	}

	if err := t.writableLocked(); err != nil {
		return err
	}
	t.w.Header().Set("Content-Type", jsonMediaType.String())
	t.w.WriteHeader(http.StatusOK)
	t.headersSent = true
	t.finalSent = true
	if _, err := t.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write response body: %w", err)
	}
	return nil
}

// WriteAccepted acknowledges a notification with 202 and no body.
func (t *Transport) WriteAccepted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writableLocked(); err != nil {
		return err
	}
	if t.headersSent {
		return fmt.Errorf("transport: response already written")
	}
	t.w.WriteHeader(http.StatusAccepted)
	t.headersSent = true
	t.finalSent = true
	return nil
}

// KeepAlive holds an event stream open, emitting ping events until the
// request context ends or the stream becomes unwritable. The first ping is
// sent immediately so the client sees the stream commit without waiting a
// full interval.
func (t *Transport) KeepAlive(ctx context.Context, interval time.Duration) error {
	if t.mode != modeSSE {
		return fmt.Errorf("transport: keep-alive requires a streaming response")
	}

	if err := t.send(pingEvent()); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.send(pingEvent()); err != nil {
				return err
			}
		}
	}
}

// Close releases the transport. Idempotent; later writes become no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) send(msg *sse.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendLocked(msg)
}

func (t *Transport) sendLocked(msg *sse.Message) error {
	if err := t.writableLocked(); err != nil {
		return err
	}
	if err := t.sess.Send(msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := t.sess.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	t.headersSent = true
	return nil
}

// writableLocked reports whether the stream still accepts writes. Writes
// after close or cancellation surface the context error.
func (t *Transport) writableLocked() error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return context.Canceled
	}
	return nil
}

func messageEvent(payload []byte) *sse.Message {
	m := &sse.Message{Type: sse.Type("message")}
	m.AppendData(string(payload))
	return m
}

func pingEvent() *sse.Message {
	m := &sse.Message{Type: sse.Type("ping")}
	m.AppendData("{}")
	return m
}
