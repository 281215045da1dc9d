package tools

import (
	"encoding/json"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is the immutable set of tools loaded at startup. It is safe for
// concurrent use without locking because nothing mutates it after New.
type Registry struct {
	apiName string
	baseURL string

	tools      []ToolDescriptor
	byName     map[string]int
	composites []CompositeToolDescriptor
	compByName map[string]int

	// compiled input schemas keyed by tool name (standard and composite)
	schemas map[string]*jsonschema.Schema
}

// New validates cfg and builds a Registry. Any problem is a ConfigurationError.
func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		apiName:    cfg.APIName,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tools:      make([]ToolDescriptor, 0, len(cfg.Tools)),
		byName:     make(map[string]int, len(cfg.Tools)),
		composites: make([]CompositeToolDescriptor, 0, len(cfg.CompositeTools)),
		compByName: make(map[string]int, len(cfg.CompositeTools)),
		schemas:    make(map[string]*jsonschema.Schema, len(cfg.Tools)+len(cfg.CompositeTools)),
	}
	for _, t := range cfg.Tools {
		t = t.clone()
		t.Endpoint.Method = strings.ToUpper(t.Endpoint.Method)
		if len(t.InputSchema) == 0 {
			t.InputSchema = cloneRaw(emptyObjectSchema)
		}
		sch, err := CompileSchema(t.InputSchema)
		if err != nil {
			// Validate already compiled every schema.
			return nil, err
		}
		r.schemas[t.Name] = sch
		r.byName[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	for _, c := range cfg.CompositeTools {
		c = c.clone()
		for i := range c.EndpointMappings {
			c.EndpointMappings[i].Method = strings.ToUpper(c.EndpointMappings[i].Method)
		}
		if len(c.InputSchema) == 0 {
			c.InputSchema = cloneRaw(emptyObjectSchema)
		}
		sch, err := CompileSchema(c.InputSchema)
		if err != nil {
			return nil, err
		}
		r.schemas[c.Name] = sch
		r.compByName[c.Name] = len(r.composites)
		r.composites = append(r.composites, c)
	}
	return r, nil
}

// APIName is the configured API name.
func (r *Registry) APIName() string { return r.apiName }

// BaseURL is the configured base URL without a trailing slash.
func (r *Registry) BaseURL() string { return r.baseURL }

// Lookup returns the standard tool registered under name.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return r.tools[i].clone(), true
}

// List returns all standard tools in configuration order.
func (r *Registry) List() []ToolDescriptor {
	out := make([]ToolDescriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.clone()
	}
	return out
}

// LookupComposite returns the composite tool registered under name.
func (r *Registry) LookupComposite(name string) (CompositeToolDescriptor, bool) {
	i, ok := r.compByName[name]
	if !ok {
		return CompositeToolDescriptor{}, false
	}
	return r.composites[i].clone(), true
}

// Composites returns all composite tools in configuration order.
func (r *Registry) Composites() []CompositeToolDescriptor {
	out := make([]CompositeToolDescriptor, len(r.composites))
	for i, c := range r.composites {
		out[i] = c.clone()
	}
	return out
}

// Resolve finds a standard or composite tool by name.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	if t, ok := r.Lookup(name); ok {
		return t, true
	}
	if c, ok := r.LookupComposite(name); ok {
		return c, true
	}
	return nil, false
}

// All returns standard tools followed by composite tools.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools)+len(r.composites))
	for _, t := range r.List() {
		out = append(out, t)
	}
	for _, c := range r.Composites() {
		out = append(out, c)
	}
	return out
}

// Len returns the number of standard tools.
func (r *Registry) Len() int { return len(r.tools) }

// ValidateArguments checks args for the named tool. Required-field presence
// is always checked; strict additionally runs full schema validation.
func (r *Registry) ValidateArguments(name string, args map[string]any, strict bool) error {
	var raw json.RawMessage
	if d, ok := r.Resolve(name); ok {
		raw = d.Schema()
	}
	var compiled *jsonschema.Schema
	if strict {
		compiled = r.schemas[name]
	}
	return ValidateArguments(name, raw, compiled, args)
}
