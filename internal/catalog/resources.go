package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/mcp"
)

const (
	constantsURI = "calc://constants"
	guideURI     = "calc://guide"
)

const guideText = `# abacusd usage

A stateless calculator over MCP. Every request is served by a fresh
instance; nothing persists between calls.

## Tools

- add, subtract, multiply, divide: two numeric operands a and b.
- factorial: one integer n between 0 and 20; emits progress while it
  multiplies when the transport streams.
- power: base and exponent (present only when the operator enabled it).

Dividing by zero, out-of-range factorials, and non-finite results are
rejected as invalid parameters rather than computed.

## Resources

- calc://constants: named mathematical constants as JSON.
- calc://guide: this document.
- calc://history/{id}: always reports not found. The server keeps no
  calculation history.
`

// Resources returns the fixed-URI resource set.
func Resources() []engine.StaticResource {
	return []engine.StaticResource{
		{
			Descriptor: mcp.Resource{
				URI:         constantsURI,
				Name:        "constants",
				Description: "Named mathematical constants",
				MimeType:    "application/json",
			},
			Handler: readConstants,
		},
		{
			Descriptor: mcp.Resource{
				URI:         guideURI,
				Name:        "guide",
				Description: "Usage guide for the calculator",
				MimeType:    "text/markdown",
			},
			Handler: readGuide,
		},
	}
}

// ResourceTemplates returns the templated resource set. The history template
// exists so clients can discover the URI shape; reads always report not
// found because no calculation history is kept.
func ResourceTemplates() []engine.TemplateResource {
	return []engine.TemplateResource{
		engine.MustTemplateResource(mcp.ResourceTemplate{
			URITemplate: "calc://history/{id}",
			Name:        "history",
			Description: "A past calculation by id. Never resolves: history is not retained.",
			MimeType:    "application/json",
		}, readHistory),
	}
}

func readConstants(ctx context.Context) ([]mcp.ResourceContents, error) {
	constants := struct {
		Pi    float64 `json:"pi"`
		E     float64 `json:"e"`
		Sqrt2 float64 `json:"sqrt2"`
		Ln2   float64 `json:"ln2"`
		Phi   float64 `json:"phi"`
	}{
		Pi:    math.Pi,
		E:     math.E,
		Sqrt2: math.Sqrt2,
		Ln2:   math.Ln2,
		Phi:   math.Phi,
	}
	b, err := json.Marshal(constants)
	if err != nil {
		return nil, fmt.Errorf("marshal constants: %w", err)
	}
	return []mcp.ResourceContents{{
		URI:      constantsURI,
		MimeType: "application/json",
		Text:     string(b),
	}}, nil
}

func readGuide(ctx context.Context) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{{
		URI:      guideURI,
		MimeType: "text/markdown",
		Text:     guideText,
	}}, nil
}

func readHistory(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
	return nil, fault.NotFoundf("calculation history is not retained")
}
