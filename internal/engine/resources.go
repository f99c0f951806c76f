package engine

import (
	"context"
	"fmt"

	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// ResourceHandler produces the contents for a resource read.
type ResourceHandler func(ctx context.Context) ([]mcp.ResourceContents, error)

// TemplateHandler produces contents for a templated read. vars holds the
// variables extracted from the matched URI.
type TemplateHandler func(ctx context.Context, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// StaticResource pairs a resource descriptor with its read handler.
type StaticResource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// TemplateResource pairs a resource template descriptor with a compiled URI
// template and a read handler.
type TemplateResource struct {
	Descriptor mcp.ResourceTemplate
	Handler    TemplateHandler

	tmpl *uritemplate.Template
}

// NewTemplateResource compiles the descriptor's URI template (RFC 6570) and
// returns a TemplateResource ready for matching.
func NewTemplateResource(desc mcp.ResourceTemplate, h TemplateHandler) (TemplateResource, error) {
	tmpl, err := uritemplate.New(desc.URITemplate)
	if err != nil {
		return TemplateResource{}, fmt.Errorf("compile uri template %q: %w", desc.URITemplate, err)
	}
	return TemplateResource{Descriptor: desc, Handler: h, tmpl: tmpl}, nil
}

// MustTemplateResource is like NewTemplateResource but panics on an invalid
// template. Intended for static catalog definitions.
func MustTemplateResource(desc mcp.ResourceTemplate, h TemplateHandler) TemplateResource {
	tr, err := NewTemplateResource(desc, h)
	if err != nil {
		panic(err)
	}
	return tr
}

// ResourceSet is the capability container for one engine instance: fixed
// resources addressed by exact URI plus URI-template resources matched in
// declaration order. Fresh per engine, never shared.
type ResourceSet struct {
	resources []mcp.Resource
	handlers  map[string]ResourceHandler
	templates []TemplateResource
	pageSize  int
}

// NewResourceSet builds a ResourceSet from static and templated definitions.
func NewResourceSet(static []StaticResource, templates []TemplateResource) *ResourceSet {
	rs := &ResourceSet{
		resources: make([]mcp.Resource, 0, len(static)),
		handlers:  make(map[string]ResourceHandler, len(static)),
		templates: templates,
		pageSize:  defaultPageSize,
	}
	for _, d := range static {
		rs.resources = append(rs.resources, d.Descriptor)
		if d.Handler != nil {
			rs.handlers[d.Descriptor.URI] = d.Handler
		}
	}
	return rs
}

// List returns one page of resource descriptors.
func (rs *ResourceSet) List(cursor *string) Page[mcp.Resource] {
	return pageOf(rs.resources, cursor, rs.pageSize)
}

// ListTemplates returns one page of resource template descriptors.
func (rs *ResourceSet) ListTemplates(cursor *string) Page[mcp.ResourceTemplate] {
	all := make([]mcp.ResourceTemplate, 0, len(rs.templates))
	for _, t := range rs.templates {
		all = append(all, t.Descriptor)
	}
	return pageOf(all, cursor, rs.pageSize)
}

// Read resolves a URI to its contents. Exact matches win over templates;
// templates are tried in declaration order. An unresolvable URI is a
// resource-not-found fault.
func (rs *ResourceSet) Read(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	if h, ok := rs.handlers[uri]; ok {
		return h(ctx)
	}
	for _, t := range rs.templates {
		vals := t.tmpl.Match(uri)
		if vals == nil {
			continue
		}
		vars := make(map[string]string, len(vals))
		for name, v := range vals {
			vars[name] = v.String()
		}
		return t.Handler(ctx, uri, vars)
	}
	return nil, fault.NotFoundf("resource not found: %s", uri)
}
