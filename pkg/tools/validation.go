package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	jsonschemago "github.com/google/jsonschema-go/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/toolforge/pkg/errmodel"
)

// emptyObjectSchema is used for tools that declare no input schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

var paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Placeholders returns the {param} names in path in order of appearance.
// A name appearing twice is reported once.
func Placeholders(path string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(path, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// CompileSchema compiles the provided JSON schema with jsonschema/v6.
// It does not validate any instance data.
func CompileSchema(schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		schema = emptyObjectSchema
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	// anonymous in-memory schema
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("mem://schema.json")
}

// DecodeSchema decodes an input schema into the jsonschema-go representation
// used for MCP tool listings. A missing type defaults to "object".
func DecodeSchema(raw json.RawMessage) (*jsonschemago.Schema, error) {
	if len(raw) == 0 {
		raw = emptyObjectSchema
	}
	var s jsonschemago.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.Type == "" && len(s.Types) == 0 {
		s.Type = "object"
	}
	return &s, nil
}

// checkObjectSchema rejects schemas whose top-level type is not object.
func checkObjectSchema(raw json.RawMessage) error {
	s, err := DecodeSchema(raw)
	if err != nil {
		return err
	}
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("input_schema type must be \"object\", got %q", s.Type)
	}
	if len(s.Types) > 0 {
		return fmt.Errorf("input_schema must have a single type \"object\"")
	}
	return nil
}

// RequiredFields lists the top-level required property names of a schema.
func RequiredFields(raw json.RawMessage) []string {
	s, err := DecodeSchema(raw)
	if err != nil {
		return nil
	}
	return s.Required
}

// MissingRequired returns the required fields absent (or null) in args, sorted.
func MissingRequired(raw json.RawMessage, args map[string]any) []string {
	var missing []string
	for _, f := range RequiredFields(raw) {
		if v, ok := args[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing
}

// ValidateArguments checks args against a tool's input schema. Required-field
// presence is always checked; full schema validation runs when compiled is
// non-nil. Failures are ArgumentErrors.
func ValidateArguments(tool string, raw json.RawMessage, compiled *jsonschema.Schema, args map[string]any) error {
	if missing := MissingRequired(raw, args); len(missing) > 0 {
		return errmodel.Argument("missing_required", "required arguments missing", map[string]any{"tool": tool, "fields": missing})
	}
	if compiled == nil {
		return nil
	}
	// Round-trip through JSON so Go-typed values validate like decoded ones.
	b, err := json.Marshal(args)
	if err != nil {
		return errmodel.Argument("invalid_arguments", "arguments are not JSON-serializable", map[string]any{"tool": tool, "error": err.Error()})
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return errmodel.Argument("invalid_arguments", "arguments are not valid JSON", map[string]any{"tool": tool, "error": err.Error()})
	}
	if err := compiled.Validate(doc); err != nil {
		return errmodel.Argument("invalid_arguments", "tool input validation failed", map[string]any{"tool": tool, "error": err.Error()})
	}
	return nil
}
