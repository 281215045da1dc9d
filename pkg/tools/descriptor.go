// Package tools holds the declarative tool model served by toolforge: standard
// tools backed by a single HTTP endpoint, composite tools fulfilled by the
// orchestration engine, the JSON configuration they are loaded from, and the
// immutable Registry built from it.
package tools

import (
	"encoding/json"
	"strings"
)

// Kind tags a descriptor as a standard or composite tool.
type Kind string

const (
	KindStandard  Kind = "standard"
	KindComposite Kind = "composite"
)

// Supported HTTP methods for endpoint mappings.
var methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// EndpointMapping ties a standard tool to one HTTP endpoint.
// Path may contain {param} placeholders, including in a literal query part.
type EndpointMapping struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// HasBody reports whether remaining arguments travel as a JSON body.
func (m EndpointMapping) HasBody() bool {
	switch strings.ToUpper(m.Method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// Key identifies the endpoint independent of method case.
func (m EndpointMapping) Key() string { return strings.ToUpper(m.Method) + " " + m.Path }

// ToolDescriptor is one directly callable HTTP-backed capability.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Endpoint    EndpointMapping `json:"endpoint_mapping"`
}

// EndpointRef is an advisory reference from a composite tool to an endpoint.
type EndpointRef struct {
	Path    string `json:"path"`
	Method  string `json:"method"`
	Purpose string `json:"purpose,omitempty"`
}

// Key matches EndpointMapping.Key.
func (r EndpointRef) Key() string { return strings.ToUpper(r.Method) + " " + r.Path }

// CompositeToolDescriptor is a higher-level capability fulfilled by
// orchestrating standard tools through a reasoning model.
type CompositeToolDescriptor struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	UseCaseDescription string          `json:"use_case_description"`
	OrchestrationLogic string          `json:"orchestration_logic"`
	InputSchema        json.RawMessage `json:"input_schema"`
	EndpointMappings   []EndpointRef   `json:"endpoint_mappings"`
}

// Descriptor is the common view of standard and composite tools. Callers
// dispatch on Kind.
type Descriptor interface {
	Kind() Kind
	ToolName() string
	Summary() string
	Schema() json.RawMessage
}

var (
	_ Descriptor = ToolDescriptor{}
	_ Descriptor = CompositeToolDescriptor{}
)

func (d ToolDescriptor) Kind() Kind              { return KindStandard }
func (d ToolDescriptor) ToolName() string        { return d.Name }
func (d ToolDescriptor) Summary() string         { return d.Description }
func (d ToolDescriptor) Schema() json.RawMessage { return d.InputSchema }

func (d CompositeToolDescriptor) Kind() Kind              { return KindComposite }
func (d CompositeToolDescriptor) ToolName() string        { return d.Name }
func (d CompositeToolDescriptor) Summary() string         { return d.Description }
func (d CompositeToolDescriptor) Schema() json.RawMessage { return d.InputSchema }

// Goal is the natural-language goal handed to the reasoning model.
func (d CompositeToolDescriptor) Goal() string {
	switch {
	case d.UseCaseDescription == "":
		return d.OrchestrationLogic
	case d.OrchestrationLogic == "":
		return d.UseCaseDescription
	}
	return d.UseCaseDescription + "\n\n" + d.OrchestrationLogic
}

// References reports whether the composite lists the endpoint in its mappings.
func (d CompositeToolDescriptor) References(m EndpointMapping) bool {
	k := m.Key()
	for _, r := range d.EndpointMappings {
		if r.Key() == k {
			return true
		}
	}
	return false
}

func (d ToolDescriptor) clone() ToolDescriptor {
	d.InputSchema = cloneRaw(d.InputSchema)
	return d
}

func (d CompositeToolDescriptor) clone() CompositeToolDescriptor {
	d.InputSchema = cloneRaw(d.InputSchema)
	if d.EndpointMappings != nil {
		d.EndpointMappings = append([]EndpointRef(nil), d.EndpointMappings...)
	}
	return d
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
