package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/jsonrpc"
	"github.com/abacusd/abacusd/internal/logctx"
	"github.com/abacusd/abacusd/internal/mcp"
	"github.com/abacusd/abacusd/internal/metrics"
)

const (
	// Canonical header name; Go matches headers case-insensitively.
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultEndpoint     = "/mcp"
	defaultMaxBodyBytes = 1 << 20
	defaultKeepAlive    = 25 * time.Second
)

// EngineFactory mints one protocol engine per request. *engine.Factory
// satisfies it.
type EngineFactory interface {
	NewEngine() (*engine.Engine, error)
}

// Option configures the Handler.
type Option func(*handlerConfig)

type handlerConfig struct {
	logger         *slog.Logger
	endpoint       string
	allowedOrigins []string
	maxBodyBytes   int64
	rateRPS        float64
	rateBurst      int
	keepAlive      time.Duration
}

// WithLogger sets the slog logger used by the handler.
func WithLogger(log *slog.Logger) Option {
	return func(c *handlerConfig) { c.logger = log }
}

// WithEndpoint sets the MCP endpoint path. Defaults to /mcp.
func WithEndpoint(path string) Option {
	return func(c *handlerConfig) { c.endpoint = path }
}

// WithAllowedOrigins sets the Origin allow-list. Requests without an Origin
// header always pass; requests with one must match an entry (or "*").
func WithAllowedOrigins(origins []string) Option {
	return func(c *handlerConfig) { c.allowedOrigins = origins }
}

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *handlerConfig) { c.maxBodyBytes = n }
}

// WithRateLimit installs a process-wide request rate limiter. A zero or
// negative rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *handlerConfig) {
		c.rateRPS = rps
		c.rateBurst = burst
	}
}

// WithKeepAliveInterval sets the ping cadence on GET event streams.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *handlerConfig) { c.keepAlive = d }
}

// Handler coordinates the per-request lifecycle: mint an engine, bind a
// transport, dispatch exactly one message, and guarantee teardown of both
// on every exit path. It mounts as a standard net/http handler.
type Handler struct {
	mux *http.ServeMux
	log *slog.Logger
	rec *metrics.Recorder

	factory        EngineFactory
	allowedOrigins []string
	maxBodyBytes   int64
	limiter        *rate.Limiter
	keepAlive      time.Duration
}

// New constructs a Handler around the given engine factory and metrics
// recorder. Pass the same recorder the factory's engines observe into so
// /metrics renders both views.
func New(factory EngineFactory, rec *metrics.Recorder, opts ...Option) (*Handler, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	cfg := &handlerConfig{
		logger:       slog.Default(),
		endpoint:     defaultEndpoint,
		maxBodyBytes: defaultMaxBodyBytes,
		keepAlive:    defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:            slog.New(logctx.Wrap(cfg.logger.Handler())),
		rec:            rec,
		factory:        factory,
		allowedOrigins: cfg.allowedOrigins,
		maxBodyBytes:   cfg.maxBodyBytes,
		keepAlive:      cfg.keepAlive,
	}
	if cfg.rateRPS > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.rateRPS), cfg.rateBurst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.endpoint, h.handlePostMCP)
	mux.HandleFunc("GET "+cfg.endpoint, h.handleGetMCP)
	mux.HandleFunc("DELETE "+cfg.endpoint, h.handleDeleteMCP)
	mux.HandleFunc("OPTIONS "+cfg.endpoint, h.handleOptionsMCP)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	h.mux = mux

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.rec.Incr("http_requests")
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		StartedAt:  time.Now(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeFault emits a pre-dispatch rejection: a JSON-RPC error envelope with
// a null id riding the given HTTP status.
func writeFault(w http.ResponseWriter, status int, err error) {
	res := &jsonrpc.Response{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Error:          fault.Translate(err),
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// handlePostMCP handles POST /mcp: one JSON-RPC message in, one response
// out, over a fresh engine and transport that are torn down before return.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	// Outermost guard: a panic anywhere below must not leak the request
	// without a response. Deferred cleanups registered later run first,
	// so the transport and engine are already released by the time this
	// writes.
	var t *Transport
	defer func() {
		rv := recover()
		if rv == nil {
			return
		}
		h.log.ErrorContext(ctx, "http.panic",
			slog.Any("panic", rv),
			slog.String("stack", string(debug.Stack())))
		if t == nil || !t.HeadersSent() {
			writeFault(w, http.StatusInternalServerError, fault.Internal(fmt.Errorf("panic: %v", rv)))
		}
	}()

	if !h.allowRequest(ctx, w) {
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeFault(w, http.StatusUnsupportedMediaType, fault.InvalidRequestf("content-type must be application/json"))
		return
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && !mcp.IsSupportedProtocolVersion(pv) {
		h.log.WarnContext(ctx, "protocol_version.unsupported", slog.String("client_version", pv))
		writeFault(w, http.StatusBadRequest, fault.InvalidRequestf("unsupported protocol version: %s", pv))
		return
	}

	eng, err := h.factory.NewEngine()
	if err != nil {
		h.log.ErrorContext(ctx, "engine.create.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusInternalServerError, fault.Internal(err))
		return
	}

	t, err = bindTransport(w, r, bindOptions{allowedOrigins: h.allowedOrigins})
	if err != nil {
		_ = eng.Close()
		h.writeBindFault(ctx, w, err)
		return
	}

	cleanup := h.cleanupFunc(ctx, start, t, eng)
	stop := context.AfterFunc(ctx, cleanup)
	defer stop()
	defer cleanup()

	if err := t.Connect(ctx, eng); err != nil {
		h.log.ErrorContext(ctx, "transport.connect.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusInternalServerError, fault.Internal(err))
		return
	}

	h.handleMessage(ctx, start, t, eng, w, r)
}

// handleMessage decodes the single message from the request body and
// dispatches it through the engine.
func (h *Handler) handleMessage(ctx context.Context, start time.Time, t *Transport, eng *engine.Engine, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.WarnContext(ctx, "http.body.too_large", slog.Int64("limit", tooLarge.Limit))
			writeFault(w, http.StatusRequestEntityTooLarge, fault.TooLargef("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusBadRequest, fault.Parsef("reading request body: %v", err))
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusBadRequest, fault.Parsef("invalid JSON body: %v", err))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		writeFault(w, http.StatusBadRequest, fault.InvalidRequestf("JSON-RPC batch arrays are not supported"))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		writeFault(w, http.StatusBadRequest, fault.InvalidRequestf("invalid JSON-RPC message: %v", err))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	dispatchCtx := ctx
	if t.Streaming() {
		dispatchCtx = engine.WithProgressSender(dispatchCtx, t)
	}

	res, err := eng.Handle(dispatchCtx, &msg)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.dispatch.fail", slog.String("err", err.Error()))
		if !t.HeadersSent() {
			writeFault(w, http.StatusInternalServerError, fault.Internal(err))
		}
		return
	}

	if res == nil {
		// Notifications and stray client responses acknowledge with no body.
		if err := t.WriteAccepted(); err != nil {
			h.log.WarnContext(ctx, "http.accepted.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if err := t.WriteResponse(ctx, res); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP handles GET /mcp: establish a server-to-client event stream.
// A stateless server has no stored messages to replay, so the stream only
// carries keep-alive pings until the client goes away.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.get.start")

	if !h.allowRequest(ctx, w) {
		return
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && !mcp.IsSupportedProtocolVersion(pv) {
		h.log.WarnContext(ctx, "protocol_version.unsupported", slog.String("client_version", pv))
		writeFault(w, http.StatusBadRequest, fault.InvalidRequestf("unsupported protocol version: %s", pv))
		return
	}

	eng, err := h.factory.NewEngine()
	if err != nil {
		h.log.ErrorContext(ctx, "engine.create.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusInternalServerError, fault.Internal(err))
		return
	}

	t, err := bindTransport(w, r, bindOptions{allowedOrigins: h.allowedOrigins, requireStream: true})
	if err != nil {
		_ = eng.Close()
		h.writeBindFault(ctx, w, err)
		return
	}

	cleanup := h.cleanupFunc(ctx, start, t, eng)
	stop := context.AfterFunc(ctx, cleanup)
	defer stop()
	defer cleanup()

	if err := t.Connect(ctx, eng); err != nil {
		h.log.ErrorContext(ctx, "transport.connect.fail", slog.String("err", err.Error()))
		writeFault(w, http.StatusInternalServerError, fault.Internal(err))
		return
	}

	h.log.InfoContext(ctx, "sse.stream.start")
	if err := t.KeepAlive(ctx, h.keepAlive); err != nil && !errors.Is(err, context.Canceled) {
		h.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleDeleteMCP refuses session deletion: a stateless server has no
// session to delete.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "http.delete.rejected")
	w.Header().Set("Allow", "GET, POST")
	writeFault(w, http.StatusMethodNotAllowed, fault.InvalidRequestf("stateless server: no session to delete"))
}

// handleOptionsMCP answers CORS preflight for browser-based clients from
// allowed origins.
func (h *Handler) handleOptionsMCP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, h.allowedOrigins) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+mcpProtocolVersionHeader)
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "{\"status\":\"ok\"}\n")
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.rec.WriteText(w); err != nil {
		h.log.WarnContext(r.Context(), "metrics.render.fail", slog.String("err", err.Error()))
	}
}

// cleanupFunc builds the single teardown action for one exchange: record
// the request duration, release the transport, close the engine. It runs
// at most once no matter how many exit paths fire it: handler return,
// request-context cancellation, or panic unwind.
func (h *Handler) cleanupFunc(ctx context.Context, start time.Time, t *Transport, eng *engine.Engine) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			durMS := time.Since(start).Seconds() * 1000
			h.rec.Observe("request", durMS)
			_ = t.Close()
			_ = eng.Close()
			h.log.DebugContext(ctx, "http.request.cleanup", slog.Float64("dur_ms", durMS))
		})
	}
}

func (h *Handler) allowRequest(ctx context.Context, w http.ResponseWriter) bool {
	if h.limiter == nil || h.limiter.Allow() {
		return true
	}
	h.rec.Incr("rate_limited")
	h.log.WarnContext(ctx, "http.rate_limited")
	writeFault(w, http.StatusTooManyRequests, fault.RateLimitedf("request rate limit exceeded"))
	return false
}

func (h *Handler) writeBindFault(ctx context.Context, w http.ResponseWriter, err error) {
	var hErr *httpError
	if errors.As(err, &hErr) {
		h.log.WarnContext(ctx, "transport.bind.fail", slog.Int("status", hErr.status), slog.String("err", hErr.Error()))
		writeFault(w, hErr.status, hErr.cause)
		return
	}
	h.log.ErrorContext(ctx, "transport.bind.fail", slog.String("err", err.Error()))
	writeFault(w, http.StatusInternalServerError, err)
}
