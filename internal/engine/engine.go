// Package engine implements the single-use MCP protocol engine. Every
// inbound HTTP request gets a freshly constructed Engine holding its own
// capability containers; the engine binds to exactly one transport,
// dispatches the request's message, and is discarded when the request ends.
// Nothing in this package survives a request except the shared metrics
// recorder, which is internally synchronized.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/jsonrpc"
	"github.com/abacusd/abacusd/internal/logctx"
	"github.com/abacusd/abacusd/internal/mcp"
	"github.com/abacusd/abacusd/internal/metrics"
	"github.com/google/uuid"
)

// Engine lifecycle states. An engine moves strictly forward: it is created
// unconnected, binds to exactly one transport, and closes exactly once.
const (
	stateNew int32 = iota
	stateConnected
	stateClosed
)

// Engine is a single-use MCP protocol engine. It is not safe to share across
// requests and never needs to be: the factory mints one per request.
type Engine struct {
	info         mcp.ImplementationInfo
	instructions string

	tools     *ToolSet
	resources *ResourceSet
	prompts   *PromptSet

	recorder *metrics.Recorder
	log      *slog.Logger

	state atomic.Int32
}

// Connect binds the engine to its transport. It succeeds exactly once; a
// second call, or a call after Close, is a programming error surfaced as an
// error return.
func (e *Engine) Connect(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateNew, stateConnected) {
		return fmt.Errorf("engine: connect on %s engine", e.stateName())
	}
	e.log.DebugContext(ctx, "engine.connect")
	return nil
}

// Close releases the engine. Safe to call any number of times from any
// state; only the first call after construction logs.
func (e *Engine) Close() error {
	if prev := e.state.Swap(stateClosed); prev != stateClosed {
		e.log.Debug("engine.close")
	}
	return nil
}

func (e *Engine) stateName() string {
	switch e.state.Load() {
	case stateConnected:
		return "connected"
	case stateClosed:
		return "closed"
	default:
		return "new"
	}
}

// Handle dispatches one decoded client message. Requests produce a response
// object (protocol errors included; the Go error return is reserved for
// engine failures such as dispatch on an unconnected engine). Notifications
// and stray client responses produce (nil, nil).
func (e *Engine) Handle(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	if e.state.Load() != stateConnected {
		return nil, fmt.Errorf("engine: handle on %s engine", e.stateName())
	}

	switch msg.Type() {
	case "notification":
		e.handleNotification(ctx, msg.AsRequest())
		return nil, nil
	case "response":
		// A stateless server never has a server-to-client request pending
		// across requests, so there is nothing to correlate this with.
		e.log.DebugContext(ctx, "engine.response.ignored")
		return nil, nil
	}

	req := msg.AsRequest()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, req)
	case string(mcp.PingMethod):
		return e.handlePing(ctx, req)
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, req)
	case string(mcp.ResourcesListMethod):
		return e.handleResourcesList(ctx, req)
	case string(mcp.ResourcesReadMethod):
		return e.handleResourcesRead(ctx, req)
	case string(mcp.ResourcesTemplatesListMethod):
		return e.handleResourcesTemplatesList(ctx, req)
	case string(mcp.PromptsListMethod):
		return e.handlePromptsList(ctx, req)
	case string(mcp.PromptsGetMethod):
		return e.handlePromptsGet(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

// handleNotification processes fire-and-forget client messages. Notifications
// never produce responses, so malformed ones are logged and dropped.
func (e *Engine) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	log := e.log.With(slog.String("method", req.Method))

	switch req.Method {
	case string(mcp.InitializedNotificationMethod):
		log.DebugContext(ctx, "engine.notification.initialized")
	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.DebugContext(ctx, "engine.notification.invalid", slog.String("err", err.Error()))
			return
		}
		// Each request runs on its own engine, so by the time a cancellation
		// arrives in a separate request there is no in-flight work it could
		// reach. Acknowledged and dropped.
		log.InfoContext(ctx, "engine.notification.cancelled", slog.String("reason", params.Reason))
	case string(mcp.ProgressNotificationMethod):
		log.DebugContext(ctx, "engine.notification.progress")
	default:
		log.DebugContext(ctx, "engine.notification.ignored")
	}
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	// Version negotiation: echo a supported requested version, otherwise
	// answer with the newest one this server speaks.
	protocolVersion := params.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(protocolVersion) {
		protocolVersion = mcp.LatestProtocolVersion
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}
	// The catalog is fixed for the process lifetime, so listChanged and
	// subscribe stay false.
	res.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}
	res.Capabilities.Resources = &struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	}{}
	res.Capabilities.Prompts = &struct {
		ListChanged bool `json:"listChanged"`
	}{}

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", protocolVersion),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handlePing(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	e.log.DebugContext(ctx, "engine.handle_request.ok", slog.String("method", req.Method))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	page := e.tools.List(cursorOf(params.Cursor))

	result := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	// Progress is only reachable when the transport can stream. The reporter
	// echoes the client's progressToken verbatim when one was supplied and
	// mints an opaque one otherwise.
	toolCtx := ctx
	if sender, ok := progressSenderFrom(ctx); ok {
		toolCtx = withReporter(ctx, newReporter(sender, progressTokenFor(&params)))
	}

	res, err := e.tools.Call(toolCtx, &params)
	e.recorder.Observe("tool."+params.Name, time.Since(start).Seconds()*1000)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		return e.faultResponse(ctx, log, start, req.ID, err), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	page := e.resources.List(cursorOf(params.Cursor))

	result := &mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "invalid params"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	contents, err := e.resources.Read(ctx, params.URI)
	if err != nil {
		return e.faultResponse(ctx, log, start, req.ID, err), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("uri", params.URI), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourceTemplatesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	page := e.resources.ListTemplates(cursorOf(params.Cursor))

	result := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("template_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handlePromptsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListPromptsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	page := e.prompts.List(cursorOf(params.Cursor))

	result := &mcp.ListPromptsResult{Prompts: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("prompt_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handlePromptsGet(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.GetPromptRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "invalid params"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	res, err := e.prompts.Get(ctx, params.Name, params.Arguments)
	if err != nil {
		return e.faultResponse(ctx, log, start, req.ID, err), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("prompt", params.Name), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

// faultResponse translates a handler error into its protocol error object
// and logs it at a level matching its category: predictable client faults at
// Info with the message the client will see, everything else at Error with
// full detail while the client sees only the generic internal message.
func (e *Engine) faultResponse(ctx context.Context, log *slog.Logger, start time.Time, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	rpcErr := fault.Translate(err)
	if rpcErr.Code == jsonrpc.ErrorCodeInternalError {
		log.ErrorContext(ctx, "engine.handle_request.fail",
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	} else {
		log.InfoContext(ctx, "engine.handle_request.fault",
			slog.String("err", rpcErr.Message),
			slog.Int("code", int(rpcErr.Code)),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}
	return &jsonrpc.Response{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Error:          rpcErr,
		ID:             id,
	}
}

// progressTokenFor picks the token for one tool call: the client's own token
// verbatim when supplied, otherwise a fresh opaque one.
func progressTokenFor(params *mcp.CallToolRequestReceived) json.RawMessage {
	if params.Meta != nil && len(params.Meta.ProgressToken) > 0 {
		return params.Meta.ProgressToken
	}
	b, _ := json.Marshal(uuid.NewString())
	return b
}

// cursorOf converts a wire cursor ("" means absent) to the containers'
// pointer form.
func cursorOf(cursor string) *string {
	if cursor == "" {
		return nil
	}
	return &cursor
}
