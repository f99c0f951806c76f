package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/mcp"
)

func explainPrompt() StaticPrompt {
	return StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "explain-calculation",
			Description: "Explain a calculation step by step",
			Arguments: []mcp.PromptArgument{
				{Name: "expression", Description: "The expression to explain", Required: true},
				{Name: "audience", Description: "Target audience", Required: false},
			},
		},
		Handler: func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.TextBlock("Explain " + args["expression"]),
				}},
			}, nil
		},
	}
}

func TestPromptSet_Get(t *testing.T) {
	ps := NewPromptSet(explainPrompt())
	res, err := ps.Get(context.Background(), "explain-calculation", map[string]string{"expression": "2+2"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Messages) != 1 || !strings.Contains(res.Messages[0].Content.Text, "2+2") {
		t.Fatalf("unexpected prompt result: %+v", res)
	}
}

func TestPromptSet_GetUnknownIsNotFound(t *testing.T) {
	ps := NewPromptSet(explainPrompt())
	_, err := ps.Get(context.Background(), "mystery", nil)
	if !fault.Is(err, fault.CategoryNotFound) {
		t.Fatalf("expected not found fault, got %v", err)
	}
}

func TestPromptSet_MissingRequiredArgument(t *testing.T) {
	ps := NewPromptSet(explainPrompt())
	_, err := ps.Get(context.Background(), "explain-calculation", map[string]string{"audience": "kids"})
	if !fault.Is(err, fault.CategoryInvalidParams) {
		t.Fatalf("expected invalid params fault, got %v", err)
	}
	if !strings.Contains(err.Error(), "expression") {
		t.Fatalf("fault should name the missing argument, got %v", err)
	}
}

func TestPromptSet_OptionalArgumentMayBeAbsent(t *testing.T) {
	ps := NewPromptSet(explainPrompt())
	if _, err := ps.Get(context.Background(), "explain-calculation", map[string]string{"expression": "1/3"}); err != nil {
		t.Fatalf("optional argument must not be enforced: %v", err)
	}
}

func TestPromptSet_List(t *testing.T) {
	ps := NewPromptSet(explainPrompt())
	page := ps.List(nil)
	if len(page.Items) != 1 || page.Items[0].Name != "explain-calculation" {
		t.Fatalf("unexpected prompts page: %+v", page.Items)
	}
}
