package engine

import (
	"fmt"
	"log/slog"

	"github.com/abacusd/abacusd/internal/logctx"
	"github.com/abacusd/abacusd/internal/mcp"
	"github.com/abacusd/abacusd/internal/metrics"
)

// Factory mints one Engine per request from a fixed catalog of definitions.
// Definitions are validated once at construction; NewEngine then only
// allocates, so the per-request cost stays small.
type Factory struct {
	info         mcp.ImplementationInfo
	instructions string

	tools     []StaticTool
	resources []StaticResource
	templates []TemplateResource
	prompts   []StaticPrompt

	recorder *metrics.Recorder
	log      *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithTools sets the tool catalog.
func WithTools(defs ...StaticTool) FactoryOption {
	return func(f *Factory) { f.tools = append(f.tools, defs...) }
}

// WithResources sets the fixed-URI resource catalog.
func WithResources(defs ...StaticResource) FactoryOption {
	return func(f *Factory) { f.resources = append(f.resources, defs...) }
}

// WithResourceTemplates sets the URI-template resource catalog.
func WithResourceTemplates(defs ...TemplateResource) FactoryOption {
	return func(f *Factory) { f.templates = append(f.templates, defs...) }
}

// WithPrompts sets the prompt catalog.
func WithPrompts(defs ...StaticPrompt) FactoryOption {
	return func(f *Factory) { f.prompts = append(f.prompts, defs...) }
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(s string) FactoryOption {
	return func(f *Factory) { f.instructions = s }
}

// WithRecorder sets the shared metrics recorder.
func WithRecorder(r *metrics.Recorder) FactoryOption {
	return func(f *Factory) { f.recorder = r }
}

// WithLogger sets the base logger engines derive from.
func WithLogger(log *slog.Logger) FactoryOption {
	return func(f *Factory) { f.log = log }
}

// NewFactory validates the catalog and returns a Factory. Empty names or
// URIs, nil handlers, and duplicate names are configuration errors caught
// here rather than at request time.
func NewFactory(info mcp.ImplementationInfo, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{info: info}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = slog.New(logctx.Wrap(f.log.Handler()))
	if f.recorder == nil {
		f.recorder = metrics.NewRecorder()
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) validate() error {
	toolNames := make(map[string]struct{}, len(f.tools))
	for _, d := range f.tools {
		if d.Descriptor.Name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if d.Handler == nil {
			return fmt.Errorf("tool %q has no handler", d.Descriptor.Name)
		}
		if _, dup := toolNames[d.Descriptor.Name]; dup {
			return fmt.Errorf("duplicate tool name %q", d.Descriptor.Name)
		}
		toolNames[d.Descriptor.Name] = struct{}{}
	}

	uris := make(map[string]struct{}, len(f.resources))
	for _, d := range f.resources {
		if d.Descriptor.URI == "" {
			return fmt.Errorf("resource with empty uri")
		}
		if d.Handler == nil {
			return fmt.Errorf("resource %q has no handler", d.Descriptor.URI)
		}
		if _, dup := uris[d.Descriptor.URI]; dup {
			return fmt.Errorf("duplicate resource uri %q", d.Descriptor.URI)
		}
		uris[d.Descriptor.URI] = struct{}{}
	}

	for _, t := range f.templates {
		if t.Descriptor.URITemplate == "" {
			return fmt.Errorf("resource template with empty uriTemplate")
		}
		if t.Handler == nil {
			return fmt.Errorf("resource template %q has no handler", t.Descriptor.URITemplate)
		}
		if t.tmpl == nil {
			return fmt.Errorf("resource template %q was not compiled; use NewTemplateResource", t.Descriptor.URITemplate)
		}
	}

	promptNames := make(map[string]struct{}, len(f.prompts))
	for _, d := range f.prompts {
		if d.Descriptor.Name == "" {
			return fmt.Errorf("prompt with empty name")
		}
		if d.Handler == nil {
			return fmt.Errorf("prompt %q has no handler", d.Descriptor.Name)
		}
		if _, dup := promptNames[d.Descriptor.Name]; dup {
			return fmt.Errorf("duplicate prompt name %q", d.Descriptor.Name)
		}
		promptNames[d.Descriptor.Name] = struct{}{}
	}

	return nil
}

// NewEngine builds a fresh, unconnected engine. Capability containers are
// rebuilt per call, so no two engines share mutable state; the recorder is
// the one deliberate shared sink. The catalog was validated at construction,
// so failure is reserved for future per-request resources.
func (f *Factory) NewEngine() (*Engine, error) {
	return &Engine{
		info:         f.info,
		instructions: f.instructions,
		tools:        NewToolSet(f.tools...),
		resources:    NewResourceSet(f.resources, f.templates),
		prompts:      NewPromptSet(f.prompts...),
		recorder:     f.recorder,
		log:          f.log,
	}, nil
}

// Info returns the server implementation identity engines advertise.
func (f *Factory) Info() mcp.ImplementationInfo {
	return f.info
}
