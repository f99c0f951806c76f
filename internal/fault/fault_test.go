package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/abacusd/abacusd/internal/jsonrpc"
)

func TestTranslateMapsEveryPredictableCategory(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code jsonrpc.ErrorCode
	}{
		{"invalid params", Invalidf("division by zero is undefined"), jsonrpc.ErrorCodeInvalidParams},
		{"not found", NotFoundf("no such resource"), jsonrpc.ErrorCodeResourceNotFound},
		{"method not found", MethodNotFoundf("unknown method"), jsonrpc.ErrorCodeMethodNotFound},
		{"rate limited", RateLimitedf("slow down"), jsonrpc.ErrorCodeRateLimited},
		{"too large", TooLargef("body exceeds cap"), jsonrpc.ErrorCodePayloadTooLarge},
		{"parse", Parsef("bad json"), jsonrpc.ErrorCodeParseError},
		{"invalid request", InvalidRequestf("batch not supported"), jsonrpc.ErrorCodeInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := Translate(tc.err)
			if pe.Code != tc.code {
				t.Fatalf("code = %d, want %d", pe.Code, tc.code)
			}
			if pe.Code == jsonrpc.ErrorCodeInternalError {
				t.Fatal("predictable fault must never map to internal-error")
			}
			var f *Fault
			if !errors.As(tc.err, &f) {
				t.Fatal("expected *Fault")
			}
			if pe.Message != f.Message {
				t.Fatalf("message = %q, want %q", pe.Message, f.Message)
			}
		})
	}
}

func TestTranslateNeverLeaksInternalDetail(t *testing.T) {
	secret := "connection to 10.0.0.12:5432 refused"
	cases := []error{
		errors.New(secret),
		fmt.Errorf("wrapping: %w", errors.New(secret)),
		Internal(errors.New(secret)),
	}

	for _, err := range cases {
		pe := Translate(err)
		if pe.Code != jsonrpc.ErrorCodeInternalError {
			t.Fatalf("code = %d, want internal", pe.Code)
		}
		if strings.Contains(pe.Message, secret) || strings.Contains(pe.Message, "10.0.0.12") {
			t.Fatalf("internal detail leaked: %q", pe.Message)
		}
		if pe.Message != internalMessage {
			t.Fatalf("message = %q, want %q", pe.Message, internalMessage)
		}
	}
}

func TestTranslateWrappedFault(t *testing.T) {
	err := fmt.Errorf("reading resource: %w", NotFoundf("calculation history is not retained"))
	pe := Translate(err)
	if pe.Code != jsonrpc.ErrorCodeResourceNotFound {
		t.Fatalf("code = %d, want %d", pe.Code, jsonrpc.ErrorCodeResourceNotFound)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", Invalidf("bad"))
	if !Is(err, CategoryInvalidParams) {
		t.Fatal("expected CategoryInvalidParams")
	}
	if Is(err, CategoryNotFound) {
		t.Fatal("unexpected CategoryNotFound")
	}
	if Is(errors.New("plain"), CategoryInvalidParams) {
		t.Fatal("plain error should not match any category")
	}
}

func TestInternalKeepsCauseForLogs(t *testing.T) {
	cause := errors.New("boom")
	f := Internal(cause)
	if !errors.Is(f, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
	if !strings.Contains(f.Error(), "boom") {
		t.Fatalf("Fault.Error() should carry cause for logging, got %q", f.Error())
	}
}
