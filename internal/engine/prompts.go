package engine

import (
	"context"

	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/mcp"
)

// PromptHandler expands a prompt template into concrete messages. args holds
// the string argument values supplied by the client.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its expansion handler.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// PromptSet is the capability container for one engine instance: an ordered,
// immutable set of prompt descriptors and handlers.
type PromptSet struct {
	prompts  []mcp.Prompt
	handlers map[string]StaticPrompt
	pageSize int
}

// NewPromptSet builds a PromptSet from static definitions. Last write wins on
// duplicate names.
func NewPromptSet(defs ...StaticPrompt) *PromptSet {
	ps := &PromptSet{
		prompts:  make([]mcp.Prompt, 0, len(defs)),
		handlers: make(map[string]StaticPrompt, len(defs)),
		pageSize: defaultPageSize,
	}
	for _, d := range defs {
		ps.prompts = append(ps.prompts, d.Descriptor)
		ps.handlers[d.Descriptor.Name] = d
	}
	return ps
}

// List returns one page of prompt descriptors.
func (ps *PromptSet) List(cursor *string) Page[mcp.Prompt] {
	return pageOf(ps.prompts, cursor, ps.pageSize)
}

// Get expands the named prompt. Declared required arguments are checked
// before the handler runs; a missing one is an invalid-params fault naming
// the argument.
func (ps *PromptSet) Get(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	d, ok := ps.handlers[name]
	if !ok {
		return nil, fault.NotFoundf("prompt not found: %s", name)
	}
	for _, arg := range d.Descriptor.Arguments {
		if !arg.Required {
			continue
		}
		if _, present := args[arg.Name]; !present {
			return nil, fault.Invalidf("prompt %q: missing required argument %q", name, arg.Name)
		}
	}
	if d.Handler == nil {
		return nil, fault.NotFoundf("prompt not found: %s", name)
	}
	return d.Handler(ctx, args)
}
