package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/jsonrpc"
	"github.com/abacusd/abacusd/internal/mcp"
)

func toolSet(enablePower bool) *engine.ToolSet {
	return engine.NewToolSet(Tools(enablePower)...)
}

func callTool(t *testing.T, ts *engine.ToolSet, name, rawArgs string) (*mcp.CallToolResult, error) {
	t.Helper()
	return ts.Call(context.Background(), &mcp.CallToolRequestReceived{
		Name:      name,
		Arguments: json.RawMessage(rawArgs),
	})
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected content, got %+v", res)
	}
	return res.Content[0].Text
}

func TestBinaryTools(t *testing.T) {
	ts := toolSet(false)
	cases := []struct {
		tool string
		args string
		want string
	}{
		{"add", `{"a":2,"b":3}`, "5"},
		{"subtract", `{"a":2,"b":3}`, "-1"},
		{"multiply", `{"a":2.5,"b":4}`, "10"},
		{"divide", `{"a":10,"b":4}`, "2.5"},
	}
	for _, tc := range cases {
		res, err := callTool(t, ts, tc.tool, tc.args)
		if err != nil {
			t.Fatalf("%s(%s): %v", tc.tool, tc.args, err)
		}
		if got := resultText(t, res); got != tc.want {
			t.Fatalf("%s(%s): expected %q, got %q", tc.tool, tc.args, tc.want, got)
		}
		if res.StructuredContent == nil {
			t.Fatalf("%s: expected structured content", tc.tool)
		}
	}
}

func TestDivide_ByZeroIsInvalidParams(t *testing.T) {
	_, err := callTool(t, toolSet(false), "divide", `{"a":1,"b":0}`)
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "division by zero is undefined") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestAdd_OverflowIsInvalidParams(t *testing.T) {
	_, err := callTool(t, toolSet(false), "add", `{"a":1e308,"b":1e308}`)
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault for non-finite result, got %v", err)
	}
}

func TestFactorial_Zero(t *testing.T) {
	res, err := callTool(t, toolSet(false), "factorial", `{"n":0}`)
	if err != nil {
		t.Fatalf("factorial(0): %v", err)
	}
	if got := resultText(t, res); got != "1" {
		t.Fatalf("expected 0! = 1, got %q", got)
	}
}

func TestFactorial_OutOfRange(t *testing.T) {
	ts := toolSet(false)
	for _, raw := range []string{`{"n":-1}`, `{"n":21}`} {
		_, err := callTool(t, ts, "factorial", raw)
		if !fault.Is(err, fault.CategoryInvalidParams) {
			t.Fatalf("factorial(%s): expected invalid params fault, got %v", raw, err)
		}
	}
}

func TestFactorial_UnknownArgumentRejected(t *testing.T) {
	_, err := callTool(t, toolSet(false), "factorial", `{"n":3,"fast":true}`)
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault for unknown field, got %v", err)
	}
}

func TestPower_GatedByFlag(t *testing.T) {
	without := toolSet(false).Snapshot()
	for _, tool := range without {
		if tool.Name == "power" {
			t.Fatalf("power must not be listed when disabled")
		}
	}

	_, err := callTool(t, toolSet(false), "power", `{"base":2,"exponent":10}`)
	if !fault.Is(err, fault.CategoryNotFound) {
		t.Fatalf("disabled power should be unknown, got %v", err)
	}

	res, err := callTool(t, toolSet(true), "power", `{"base":2,"exponent":10}`)
	if err != nil {
		t.Fatalf("power enabled: %v", err)
	}
	if got := resultText(t, res); got != "1024" {
		t.Fatalf("expected 1024, got %q", got)
	}
}

func TestPower_NonFiniteIsInvalidParams(t *testing.T) {
	_, err := callTool(t, toolSet(true), "power", `{"base":1e308,"exponent":2}`)
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault, got %v", err)
	}
}

type progressCapture struct {
	mu     sync.Mutex
	events []mcp.ProgressNotificationParams
}

func (p *progressCapture) SendProgress(ctx context.Context, params *mcp.ProgressNotificationParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *params)
	return nil
}

func TestFactorial_ReportsMonotonicProgress(t *testing.T) {
	f, err := engine.NewFactory(mcp.ImplementationInfo{Name: "calc-test", Version: "0"},
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithTools(Tools(false)...),
	)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	eng, err := f.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer eng.Close()

	capture := &progressCapture{}
	ctx := engine.WithProgressSender(context.Background(), capture)

	var msg jsonrpc.AnyMessage
	raw := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"factorial","arguments":{"n":5},"_meta":{"progressToken":"fact-5"}}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	res, err := eng.Handle(ctx, &msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", res.Error)
	}

	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Content[0].Text != "120" {
		t.Fatalf("expected 5! = 120, got %q", out.Content[0].Text)
	}

	capture.mu.Lock()
	events := capture.events
	capture.mu.Unlock()
	if len(events) != 5 {
		t.Fatalf("expected one progress event per factor, got %d", len(events))
	}
	last := -1.0
	for i, ev := range events {
		if ev.Progress < last {
			t.Fatalf("progress regressed at event %d: %v < %v", i, ev.Progress, last)
		}
		last = ev.Progress
		if string(ev.ProgressToken) != `"fact-5"` {
			t.Fatalf("expected client token echoed, got %s", string(ev.ProgressToken))
		}
	}
	if last != 1.0 {
		t.Fatalf("expected final progress 1.0, got %v", last)
	}
}

func TestConstantsResource(t *testing.T) {
	rs := engine.NewResourceSet(Resources(), ResourceTemplates())
	contents, err := rs.Read(context.Background(), "calc://constants")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var parsed map[string]float64
	if err := json.Unmarshal([]byte(contents[0].Text), &parsed); err != nil {
		t.Fatalf("constants are not valid JSON: %v", err)
	}
	if parsed["pi"] < 3.14 || parsed["pi"] > 3.15 {
		t.Fatalf("unexpected pi: %v", parsed["pi"])
	}
	if contents[0].MimeType != "application/json" {
		t.Fatalf("expected JSON mime type, got %q", contents[0].MimeType)
	}
}

func TestGuideResource(t *testing.T) {
	rs := engine.NewResourceSet(Resources(), ResourceTemplates())
	contents, err := rs.Read(context.Background(), "calc://guide")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(contents[0].Text, "divide") {
		t.Fatalf("guide should describe the tools")
	}
}

func TestHistoryTemplate_AlwaysNotFound(t *testing.T) {
	rs := engine.NewResourceSet(Resources(), ResourceTemplates())
	_, err := rs.Read(context.Background(), "calc://history/abc")
	if !fault.Is(err, fault.CategoryNotFound) {
		t.Fatalf("expected not found fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "calculation history is not retained") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestHistoryTemplate_Listed(t *testing.T) {
	rs := engine.NewResourceSet(Resources(), ResourceTemplates())
	page := rs.ListTemplates(nil)
	if len(page.Items) != 1 || page.Items[0].URITemplate != "calc://history/{id}" {
		t.Fatalf("expected the history template to be discoverable, got %+v", page.Items)
	}
}

func TestPrompts_WordProblem(t *testing.T) {
	ps := engine.NewPromptSet(Prompts()...)
	res, err := ps.Get(context.Background(), "word-problem", map[string]string{"topic": "trains", "difficulty": "easy"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	text := res.Messages[0].Content.Text
	if !strings.Contains(text, "trains") || !strings.Contains(text, "easy") {
		t.Fatalf("prompt should include the arguments, got %q", text)
	}
}

func TestPrompts_MissingRequiredArgument(t *testing.T) {
	ps := engine.NewPromptSet(Prompts()...)
	_, err := ps.Get(context.Background(), "explain-calculation", nil)
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "expression") {
		t.Fatalf("fault should name the missing argument, got %v", err)
	}
}
