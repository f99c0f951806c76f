package catalog

import (
	"context"
	"fmt"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/mcp"
)

// Prompts returns the prompt template set.
func Prompts() []engine.StaticPrompt {
	return []engine.StaticPrompt{
		{
			Descriptor: mcp.Prompt{
				Name:        "explain-calculation",
				Description: "Explain how to evaluate an arithmetic expression step by step",
				Arguments: []mcp.PromptArgument{
					{Name: "expression", Description: "The arithmetic expression to explain", Required: true},
					{Name: "audience", Description: "Who the explanation is for, e.g. a ten year old"},
				},
			},
			Handler: explainCalculation,
		},
		{
			Descriptor: mcp.Prompt{
				Name:        "word-problem",
				Description: "Generate a math word problem on a given topic",
				Arguments: []mcp.PromptArgument{
					{Name: "topic", Description: "The everyday topic to build the problem around", Required: true},
					{Name: "difficulty", Description: "Rough difficulty, e.g. easy, medium, hard"},
				},
			},
			Handler: wordProblem,
		},
	}
}

func explainCalculation(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	text := fmt.Sprintf("Explain, step by step, how to evaluate %s.", args["expression"])
	if audience := args["audience"]; audience != "" {
		text += fmt.Sprintf(" Pitch the explanation at %s.", audience)
	}
	return &mcp.GetPromptResult{
		Description: "Step-by-step explanation of a calculation",
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.TextBlock(text),
		}},
	}, nil
}

func wordProblem(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	text := fmt.Sprintf("Write a short math word problem about %s, then show its solution.", args["topic"])
	if difficulty := args["difficulty"]; difficulty != "" {
		text += fmt.Sprintf(" Aim for %s difficulty.", difficulty)
	}
	return &mcp.GetPromptResult{
		Description: "A math word problem with its solution",
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.TextBlock(text),
		}},
	}, nil
}
