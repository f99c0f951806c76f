package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestHandlerHoistsContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{slog.NewJSONHandler(&buf, nil)})

	ctx := WithRequestData(context.Background(), &RequestData{
		RequestID: "req-1",
		StartedAt: time.Now(),
		Method:    "POST",
		Path:      "/mcp",
	})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "divide"})

	log.InfoContext(ctx, "engine.dispatch.ok")

	out := buf.String()
	for _, want := range []string{`"req"`, `"req-1"`, `"rpc"`, `"tools/call"`, `"tool"`, `"divide"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %s: %s", want, out)
		}
	}
}

func TestDerivedLoggerKeepsHoisting(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{slog.NewJSONHandler(&buf, nil)})

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "req-2"})
	log.With(slog.String("component", "engine")).InfoContext(ctx, "derived")

	out := buf.String()
	if !strings.Contains(out, `"req-2"`) {
		t.Fatalf("derived logger dropped context data: %s", out)
	}
	if !strings.Contains(out, `"component":"engine"`) {
		t.Fatalf("derived logger dropped its own attrs: %s", out)
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Wrap(Wrap(slog.NewJSONHandler(&buf, nil))))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "req-3"})
	log.InfoContext(ctx, "once")

	out := buf.String()
	if got := strings.Count(out, `"req-3"`); got != 1 {
		t.Fatalf("request data hoisted %d times, want 1: %s", got, out)
	}
}

func TestHandlerPassthroughWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{slog.NewJSONHandler(&buf, nil)})

	log.Info("plain")

	out := buf.String()
	if strings.Contains(out, `"req"`) || strings.Contains(out, `"rpc"`) {
		t.Fatalf("unexpected groups on plain record: %s", out)
	}
}

func TestRequestDataFrom(t *testing.T) {
	if rd := RequestDataFrom(context.Background()); rd != nil {
		t.Fatalf("expected nil on empty context, got %+v", rd)
	}

	want := &RequestData{RequestID: "abc"}
	ctx := WithRequestData(context.Background(), want)
	if got := RequestDataFrom(ctx); got != want {
		t.Fatalf("RequestDataFrom = %+v, want %+v", got, want)
	}
}
