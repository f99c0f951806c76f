package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg AnyMessage
			if err := json.Unmarshal([]byte(tc.body), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := msg.Type(); got != tc.want {
				t.Fatalf("Type() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnyMessageRejectsMalformedStructure(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`},
		{"missing version", `{"id":1,"method":"ping"}`},
		{"method with result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`},
		{"neither result nor error", `{"jsonrpc":"2.0","id":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg AnyMessage
			if err := json.Unmarshal([]byte(tc.body), &msg); err == nil {
				t.Fatalf("expected error for %s", tc.body)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"string", `"abc-123"`, `"abc-123"`},
		{"integer", `42`, `42`},
		{"float", `1.5`, `1.5`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var id RequestID
			if err := json.Unmarshal([]byte(tc.in), &id); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			got, err := json.Marshal(&id)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tc.out {
				t.Fatalf("round trip = %s, want %s", got, tc.out)
			}
		})
	}

	var id RequestID
	if err := json.Unmarshal([]byte(`{"nested":true}`), &id); err == nil {
		t.Fatal("expected error for object-valued id")
	}
}

func TestErrorResponseCarriesNullID(t *testing.T) {
	resp := NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil)
	bs, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(bs), `"id":null`) {
		t.Fatalf("expected explicit null id, got %s", bs)
	}
}
